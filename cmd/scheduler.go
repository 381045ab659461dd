package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/seekerlabs/crawld/internal/database"
	"github.com/seekerlabs/crawld/internal/ratelimit"
	"github.com/seekerlabs/crawld/internal/robots"
	"github.com/seekerlabs/crawld/internal/scheduler"
)

// newSchedulerCommand creates the scheduler command, which runs the dispatch
// loop draining the frontier onto the bus.
func newSchedulerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the frontier dispatch loop",
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

			robotsRegistry := robots.NewRegistry(
				rt.redis,
				&http.Client{Timeout: robots.DefaultFetchTimeout},
				rt.cfg.Crawler.UserAgent,
				robots.DefaultCacheTTL,
			)
			robotsRegistry.SetRecorder(database.NewDomainMetadataRepository(rt.db))

			s := scheduler.New(
				f,
				robotsRegistry,
				ratelimit.NewController(rt.redis),
				rt.producer,
				rt.metrics,
				rt.log,
				scheduler.Config{
					Interval:          rt.cfg.Crawler.SchedulerInterval,
					BatchSize:         rt.cfg.Crawler.SchedulerBatch,
					WindowSeconds:     rt.cfg.Crawler.WindowSeconds,
					WindowMaxRequests: rt.cfg.Crawler.WindowMaxRequests,
				},
			)

			return s.Run(ctx)
		},
	}
}
