package cmd

import (
	"github.com/spf13/cobra"

	"github.com/seekerlabs/crawld/internal/api"
	"github.com/seekerlabs/crawld/internal/database"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/ranker"
	"github.com/seekerlabs/crawld/internal/ratelimit"
)

// newHTTPDCommand creates the httpd command, which serves the admin API.
func newHTTPDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "httpd",
		Short: "Run the admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := newRuntime(ctx, needs{Database: true, Elasticsearch: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			f, err := rt.frontier()
			if err != nil {
				return err
			}

			jobs := database.NewCrawlURLRepository(rt.db)
			graph := database.NewPageGraphRepository(rt.db)

			r := ranker.New(graph, rt.es, rt.metrics, rt.log, ranker.Config{
				Damping:       rt.cfg.Ranker.Damping,
				Epsilon:       rt.cfg.Ranker.ConvergenceEpsilon,
				MaxIterations: rt.cfg.Ranker.MaxIterations,
			})

			strategies := func(name string) (frontier.Strategy, error) {
				return frontier.NewStrategy(name, rt.redis, rt.cfg.Crawler.HighValueDomains)
			}

			seen, err := rt.seenSet(ctx)
			if err != nil {
				return err
			}

			handler := api.NewHandler(
				f,
				rt.normalizer(),
				jobs,
				graph,
				r,
				seen,
				ratelimit.NewController(rt.redis),
				rt.producer,
				strategies,
				rt.log,
				api.HandlerConfig{
					RateCapacity: float64(rt.cfg.Crawler.RateLimitCapacity),
					MaxDepth:     rt.cfg.Crawler.MaxDepth,
					MaxRetries:   rt.cfg.Crawler.MaxRetries,
				},
			)

			server := api.NewServer(handler, rt.registry, rt.log, api.ServerConfig{
				Port:         portFromAddress(rt.cfg.Server.Address),
				ReadTimeout:  rt.cfg.Server.ReadTimeout,
				WriteTimeout: rt.cfg.Server.WriteTimeout,
				Debug:        rt.cfg.App.Debug,
			})

			return server.Run(ctx)
		},
	}
}
