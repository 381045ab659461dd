package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seekerlabs/crawld/internal/dedup"
	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

// newSeedCommand creates the seed command, which enqueues URLs at depth zero.
func newSeedCommand() *cobra.Command {
	var priority float64

	cmd := &cobra.Command{
		Use:   "seed <url>...",
		Short: "Enqueue seed URLs into the frontier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, needs{Database: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			f, err := rt.frontier()
			if err != nil {
				return err
			}

			seen, err := rt.seenSet(ctx)
			if err != nil {
				return err
			}

			norm := rt.normalizer()

			var explicitPriority *float64
			if cmd.Flags().Changed("priority") {
				explicitPriority = &priority
			}

			queued := 0
			for _, raw := range args {
				canonical, seedErr := seedURL(ctx, rt, f, seen, norm, raw, explicitPriority)
				if seedErr != nil {
					rt.log.Warn("seed rejected",
						logger.String("url", raw), logger.Error(seedErr))
					continue
				}

				rt.log.Info("seed queued", logger.String("url", canonical))
				queued++
			}

			if queued == 0 {
				return fmt.Errorf("no seeds queued from %d urls", len(args))
			}

			rt.log.Info("seeding complete",
				logger.Int("queued", queued),
				logger.Int("rejected", len(args)-queued),
			)

			return nil
		},
	}

	cmd.Flags().Float64Var(&priority, "priority", 0,
		"explicit priority overriding the strategy score")

	return cmd
}

// seedURL normalizes and enqueues one seed.
func seedURL(
	ctx context.Context,
	rt *runtime,
	f *frontier.Frontier,
	seen *dedup.URLSeen,
	norm *urlnorm.Normalizer,
	raw string,
	priority *float64,
) (string, error) {
	canonical, err := norm.Normalize(raw)
	if err != nil {
		return "", err
	}

	domainName, err := urlnorm.RegistrableDomain(canonical)
	if err != nil {
		return "", err
	}

	job := &domain.CrawlJob{
		URL:           canonical,
		URLHash:       urlnorm.HashCanonical(canonical),
		NormalizedURL: canonical,
		Domain:        domainName,
		Depth:         0,
		MaxDepth:      rt.cfg.Crawler.MaxDepth,
		MaxRetries:    rt.cfg.Crawler.MaxRetries,
		ScheduledAt:   time.Now(),
	}

	if priority != nil {
		err = f.EnqueueWithPriority(ctx, job, *priority)
	} else {
		err = f.Enqueue(ctx, job, frontier.Signals{URL: canonical})
	}
	if err != nil {
		return "", err
	}

	if seenErr := seen.MarkSeen(ctx, canonical); seenErr != nil {
		rt.log.Error("mark seen failed",
			logger.String("url", canonical), logger.Error(seenErr))
	}

	return canonical, nil
}
