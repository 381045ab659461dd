// crawld is the ingestion core of a distributed web search engine: a URL
// frontier with prioritized scheduling, polite distributed fetch workers,
// URL and content deduplication, and offline PageRank computation.
package main

import (
	"os"

	"github.com/seekerlabs/crawld/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
