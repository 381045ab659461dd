package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seekerlabs/crawld/internal/database"
	"github.com/seekerlabs/crawld/internal/indexer"
	"github.com/seekerlabs/crawld/internal/queue"
)

// indexGroup is the consumer group name for indexers.
const indexGroup = "indexers"

// newIndexCommand creates the index command, which writes crawled pages into
// the document store and the link graph.
func newIndexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Run the document indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := newRuntime(ctx, needs{Database: true, Elasticsearch: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.es.EnsureIndex(ctx); err != nil {
				return err
			}

			source, err := rt.consumer(ctx, queue.TopicPages, indexGroup)
			if err != nil {
				return err
			}

			ix := indexer.New(
				source,
				rt.producer,
				rt.es,
				database.NewPageGraphRepository(rt.db),
				rt.metrics,
				rt.log,
				indexer.Config{Concurrency: rt.cfg.Crawler.IndexConcurrency},
			)

			return ix.Run(ctx)
		},
	}
}
