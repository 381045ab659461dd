package cmd

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/seekerlabs/crawld/internal/database"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/ranker"
)

// newRankCommand creates the rank command. By default it runs PageRank on the
// configured cron schedule; --once computes a single pass and exits.
func newRankCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Run the PageRank batch job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := newRuntime(ctx, needs{Database: true, Elasticsearch: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			r := ranker.New(
				database.NewPageGraphRepository(rt.db),
				rt.es,
				rt.metrics,
				rt.log,
				ranker.Config{
					Damping:       rt.cfg.Ranker.Damping,
					Epsilon:       rt.cfg.Ranker.ConvergenceEpsilon,
					MaxIterations: rt.cfg.Ranker.MaxIterations,
				},
			)

			if once {
				return r.Run(ctx)
			}

			schedule := rt.cfg.Ranker.Schedule

			c := cron.New()
			if _, cronErr := c.AddFunc(schedule, func() {
				if runErr := r.Run(ctx); runErr != nil {
					rt.log.Error("scheduled rank run failed", logger.Error(runErr))
				}
			}); cronErr != nil {
				return fmt.Errorf("invalid rank schedule %q: %w", schedule, cronErr)
			}

			rt.log.Info("rank scheduler starting", logger.String("schedule", schedule))

			c.Start()
			<-ctx.Done()

			// Wait for an in-flight run to finish before exiting.
			<-c.Stop().Done()

			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "compute a single PageRank pass and exit")

	return cmd
}
