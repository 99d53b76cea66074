package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/footrig/reliability"
)

type reliabilityFlags struct {
	cycles   int
	duration time.Duration
	report   bool
	force    bool
}

func newReliabilityCmd(f *rootFlags) *cobra.Command {
	rf := &reliabilityFlags{}
	cmd := &cobra.Command{
		Use:   "reliability",
		Short: "Run support/retract cycles until interrupted or a limit is reached",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := newApp(f)
			if err != nil {
				return err
			}
			if err := a.start(cmd.Context()); err != nil {
				_ = a.close()
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			return a.runReliability(cmd.Context(), rf, func(format string, args ...any) {
				fmt.Fprintf(cmd.OutOrStdout(), format, args...)
			})
		},
	}
	cmd.Flags().IntVar(&rf.cycles, "cycles", 0, "stop after this many cycles, 0 runs until interrupted")
	cmd.Flags().DurationVar(&rf.duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	cmd.Flags().BoolVar(&rf.report, "report", true, "write a report file when the run stops")
	cmd.Flags().BoolVar(&rf.force, "force", false, "cancel the cycle in flight on stop")

	return cmd
}

func (a *app) runReliability(ctx context.Context, rf *reliabilityFlags, printf func(string, ...any)) error {
	sub := a.ctrl.SubscribeReliability(16)
	defer sub.Close()

	if err := a.ctrl.StartReliability(a.reliabilityParams()); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if rf.duration > 0 {
		t := time.NewTimer(rf.duration)
		defer t.Stop()
		deadline = t.C
	}

	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case p, ok := <-sub.C():
			if !ok || p.Final {
				break wait
			}
			printf("progress: %d cycles, overall %.2f%%\n", p.Stats.TotalCycles, p.Stats.OverallRate())
		case <-poll.C:
			if rf.cycles > 0 && a.ctrl.ReliabilityStats().TotalCycles >= rf.cycles {
				break wait
			}
		}
	}

	opts := reliability.StopOptions{Report: rf.report, Force: rf.force}
	if rf.report {
		opts.ReportPath = filepath.Join(a.cfg.Reliability.ReportDir, reliability.DefaultReportName(time.Now()))
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout+a.cfg.Reliability.Support.Timeout+a.cfg.Reliability.Retract.Timeout)
	defer cancel()

	st, err := a.ctrl.StopReliability(stopCtx, opts)
	switch {
	case errors.Is(err, reliability.ErrNotRunning):
		st, opts.Report = a.ctrl.ReliabilityStats(), false
	case err != nil:
		return err
	}
	printf("%d cycles, overall success rate %.2f%%\n", st.TotalCycles, st.OverallRate())
	if opts.Report {
		printf("report: %s\n", opts.ReportPath)
	}

	return nil
}
