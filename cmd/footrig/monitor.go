package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newMonitorCmd(f *rootFlags) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print fieldbus health and the pressure channels periodically",
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

			return a.monitor(cmd.Context(), cmd.OutOrStdout(), interval, count)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "sampling interval")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of samples, 0 runs until interrupted")

	return cmd
}

func (a *app) monitor(ctx context.Context, w io.Writer, interval time.Duration, count int) error {
	fmt.Fprintln(w, a.ctrl.HealthReport())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; count == 0 || n < count; n++ {
		rs, err := a.ctrl.ReadAllReadings()
		if err != nil {
			return err
		}
		fmt.Fprint(w, time.Now().Format("15:04:05.000"))
		for _, r := range rs {
			fmt.Fprintf(w, "  AI%d %6.2f bar %5.2f mA %-10s", r.Channel, r.Pressure, r.Current, r.Status)
		}
		fmt.Fprintln(w)

		if count > 0 && n == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	return nil
}
