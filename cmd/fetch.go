package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/seekerlabs/crawld/internal/breaker"
	"github.com/seekerlabs/crawld/internal/coordination"
	"github.com/seekerlabs/crawld/internal/database"
	"github.com/seekerlabs/crawld/internal/dedup"
	"github.com/seekerlabs/crawld/internal/fetcher"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/queue"
	"github.com/seekerlabs/crawld/internal/ratelimit"
	"github.com/seekerlabs/crawld/internal/robots"
)

// fetchGroup is the consumer group name for fetch workers.
const fetchGroup = "fetchers"

// newFetchCommand creates the fetch command, which runs the polite fetch
// worker pool.
func newFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run the fetch worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := newRuntime(ctx, needs{Database: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			source, err := rt.consumer(ctx, queue.TopicCrawlRequests, fetchGroup)
			if err != nil {
				return err
			}

			// Cash distribution only applies when the opic strategy is active.
			var cash fetcher.CashDistributor
			if rt.cfg.Crawler.Strategy == frontier.StrategyOPIC {
				cash = frontier.NewOPIC(rt.redis)
			}

			locks := func(domainName string) fetcher.DomainLock {
				return coordination.NewMutex(rt.redis, domainName, fetcher.DefaultMutexTTL)
			}

			domains := database.NewDomainMetadataRepository(rt.db)

			// Crawl-delay lookups hit the shared Redis cache the scheduler
			// already populated, so no extra robots fetches happen here.
			robotsRegistry := robots.NewRegistry(
				rt.redis,
				&http.Client{Timeout: robots.DefaultFetchTimeout},
				rt.cfg.Crawler.UserAgent,
				robots.DefaultCacheTTL,
			)
			robotsRegistry.SetRecorder(domains)

			worker := fetcher.NewWorker(
				source,
				rt.producer,
				fetcher.NewFetcher(rt.cfg.Crawler.UserAgent, rt.cfg.Crawler.MaxBodyBytes, 0),
				fetcher.NewExtractor(),
				database.NewCrawlURLRepository(rt.db),
				database.NewHistoryRepository(rt.db),
				domains,
				ratelimit.NewController(rt.redis),
				robotsRegistry,
				breaker.NewRegistry(),
				locks,
				dedup.NewLSHIndex(
					rt.redis,
					rt.cfg.Crawler.LSHBands,
					rt.cfg.Crawler.LSHBandBits,
					rt.cfg.Crawler.SimhashHammingThreshold,
				),
				cash,
				rt.metrics,
				rt.log,
				fetcher.WorkerConfig{
					Concurrency:      rt.cfg.Crawler.FetchConcurrency,
					MaxRetries:       rt.cfg.Crawler.MaxRetries,
					RateCapacity:     float64(rt.cfg.Crawler.RateLimitCapacity),
					RateRefillPerSec: rt.cfg.Crawler.RateLimitRefillPerSec,
				},
			)

			return worker.Run(ctx)
		},
	}
}
