package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/footrig/engine"
)

// errTestFailed is returned when a single test does not complete successfully.
var errTestFailed = errors.New("test failed")

func newTestCmd(f *rootFlags, kind string) *cobra.Command {
	var (
		target  float64
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   kind,
		Short: fmt.Sprintf("Run a single %s pressure test", kind),
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

			spec := a.cfg.Tests.Support
			run := a.ctrl.RunSupportTest
			if kind == "retract" {
				spec = a.cfg.Tests.Retract
				run = a.ctrl.RunRetractTest
			}
			if cmd.Flags().Changed("target") {
				spec.Target = target
			}
			if cmd.Flags().Changed("timeout") {
				spec.Timeout = timeout
			}

			out := cmd.OutOrStdout()
			res := run(cmd.Context(), spec.Target, spec.Timeout, func(p engine.Progress) {
				fmt.Fprintf(out, "  %6.1fs %5.1f %5.1f %5.1f %5.1f bar\n", p.Elapsed.Seconds(),
					p.Pressures[0], p.Pressures[1], p.Pressures[2], p.Pressures[3])
			})
			printResult(out, res)
			if !res.Success {
				return fmt.Errorf("%w: %s", errTestFailed, res.Message)
			}

			return nil
		},
	}
	cmd.Flags().Float64Var(&target, "target", 0, "target pressure in bar, defaults to the configured value")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "test timeout, defaults to the configured value")

	return cmd
}

func printResult(w io.Writer, res engine.Result) {
	fmt.Fprintf(w, "%s test %s in %v: %s\n", res.Kind, res.Status, res.Elapsed.Round(time.Millisecond), res.Message)
	for i, p := range res.FinalPressures {
		fmt.Fprintf(w, "  AI%d %.2f bar\n", i+1, p)
	}
}
