package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/arloliu/footrig/admin"
	"github.com/arloliu/footrig/console"
	"github.com/arloliu/footrig/reliability"
	"github.com/arloliu/footrig/telemetry"
)

func newRunCmd(f *rootFlags) *cobra.Command {
	var (
		listen      string
		headless    bool
		reliable    bool
		stopWithRpt bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller with the admin API, telemetry and the console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(f)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				a.cfg.Admin.Listen = listen
			}
			interactive := !headless && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))

			return a.serve(cmd.Context(), interactive, reliable, stopWithRpt)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "admin API listen address, empty disables it")
	cmd.Flags().BoolVar(&headless, "headless", false, "never start the terminal console")
	cmd.Flags().BoolVar(&reliable, "reliability", false, "start a reliability run once the controller is up")
	cmd.Flags().BoolVar(&stopWithRpt, "report", true, "write a report when the reliability run is stopped on exit")

	return cmd
}

// serve runs every long-lived component until ctx is done or the console quits.
func (a *app) serve(ctx context.Context, interactive, reliable, report bool) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(ctx); err != nil {
		_ = a.close()
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if reliable {
		if err := a.ctrl.StartReliability(a.reliabilityParams()); err != nil {
			return err
		}
	}

	w, err := a.telemetryWriter()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr := a.cfg.Admin.Listen; addr != "" {
		srv := admin.NewServer(a.ctrl, admin.WithLogger(a.log), admin.WithDefaults(a.adminDefaults()))
		g.Go(func() error { return srv.Run(gctx, addr) })
	}
	if w != nil {
		rec := telemetry.NewRecorder(a.ctrl, w, telemetry.WithLogger(a.log))
		g.Go(func() error {
			defer w.Close()
			return rec.Run(gctx)
		})
	}
	if interactive {
		g.Go(func() error {
			defer cancel()
			return console.Run(gctx, a.ctrl, os.Stdin, os.Stdout)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		_, err := a.ctrl.StopReliability(stopCtx, reliability.StopOptions{Report: report})
		if errors.Is(err, reliability.ErrNotRunning) {
			return nil
		}

		return err
	})

	return g.Wait()
}
