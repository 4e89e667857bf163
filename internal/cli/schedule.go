package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/BartekS5/optistock/pkg/logger"
)

type ScheduleOptions struct {
	Cron      string
	Resources []string
	SkipLoad  bool
	RunNow    bool
}

func newScheduleCmd(a *app) *cobra.Command {
	opts := &ScheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run extraction followed by the batch load on a cron schedule",
		Long: `Run extraction followed by the batch load on a cron schedule until interrupted.
The schedule uses the standard five-field cron syntax or descriptors such as @daily.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return a.runSchedule(c.Context(), c.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Cron, "cron", "@daily", "Cron expression")
	cmd.Flags().StringSliceVar(&opts.Resources, "resources", nil, "Resources to extract (default all)")
	cmd.Flags().BoolVar(&opts.SkipLoad, "skip-load", false, "Only extract, do not run the batch load")
	cmd.Flags().BoolVar(&opts.RunNow, "now", false, "Run once immediately before waiting for the schedule")
	return cmd
}

func (a *app) runSchedule(ctx context.Context, out io.Writer, opts *ScheduleOptions) error {
	var mu sync.Mutex
	run := func() {
		// A slow run and the next tick never overlap.
		if !mu.TryLock() {
			logger.Warn("Previous run still in progress, skipping this tick")
			return
		}
		defer mu.Unlock()
		a.scheduledRun(ctx, out, opts)
	}

	schedule, err := cron.ParseStandard(opts.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", opts.Cron, err)
	}
	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(run))
	c.Start()
	logger.Infof("Scheduled with %q, next run at %s", opts.Cron, schedule.Next(time.Now()).Format("2006-01-02 15:04:05"))

	if opts.RunNow {
		go run()
	}

	<-ctx.Done()
	logger.Info("Stopping scheduler, waiting for the running job")
	<-c.Stop().Done()
	mu.Lock()
	mu.Unlock()
	return nil
}

// scheduledRun extracts, then loads every dataset whose extraction completed.
func (a *app) scheduledRun(ctx context.Context, out io.Writer, opts *ScheduleOptions) {
	var incomplete []string
	if err := a.runExtract(ctx, out, opts.Resources, &ExtractOptions{All: len(opts.Resources) == 0}); err != nil {
		logger.Errorf("Scheduled extraction failed: %v", err)
		var partial *ExtractFailure
		if !errors.As(err, &partial) {
			logger.Warn("Skipping the batch load")
			return
		}
		incomplete = partial.Files
	}
	if opts.SkipLoad {
		return
	}
	if err := a.runBatch(ctx, out, false, incomplete); err != nil {
		logger.Errorf("Scheduled batch load failed: %v", err)
	}
}
