package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seekerlabs/crawld/internal/database"
	"github.com/seekerlabs/crawld/internal/ingestor"
	"github.com/seekerlabs/crawld/internal/queue"
)

// ingestGroup is the consumer group name for link ingestors.
const ingestGroup = "ingestors"

// newIngestCommand creates the ingest command, which filters discovered links
// into the frontier.
func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run the link ingestor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := newRuntime(ctx, needs{Database: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			f, err := rt.frontier()
			if err != nil {
				return err
			}

			source, err := rt.consumer(ctx, queue.TopicNewLinks, ingestGroup)
			if err != nil {
				return err
			}

			seen, err := rt.seenSet(ctx)
			if err != nil {
				return err
			}

			domains := database.NewDomainMetadataRepository(rt.db)

			ing := ingestor.New(
				source,
				rt.producer,
				f,
				rt.normalizer(),
				seen,
				domains,
				domains,
				rt.metrics,
				rt.log,
				ingestor.Config{
					Concurrency: rt.cfg.Crawler.IngestConcurrency,
					MaxDepth:    rt.cfg.Crawler.MaxDepth,
					MaxRetries:  rt.cfg.Crawler.MaxRetries,
				},
			)

			return ing.Run(ctx)
		},
	}
}
