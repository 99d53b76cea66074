package rig

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/notify"
	"github.com/arloliu/footrig/reliability"
)

// RunSupportTest drives relay 1 until every channel reaches target bar or timeout elapses.
func (c *Controller) RunSupportTest(ctx context.Context, target float64, timeout time.Duration, progress func(engine.Progress)) engine.Result {
	return c.runTest(ctx, engine.Support, target, timeout, progress)
}

// RunRetractTest drives relay 2 until every channel drops below target bar or timeout elapses.
func (c *Controller) RunRetractTest(ctx context.Context, target float64, timeout time.Duration, progress func(engine.Progress)) engine.Result {
	return c.runTest(ctx, engine.Retract, target, timeout, progress)
}

func (c *Controller) runTest(ctx context.Context, kind engine.Kind, target float64, timeout time.Duration, progress func(engine.Progress)) engine.Result {
	if c.rel.Running() {
		c.journal.Warnf(kind.Module(), 0, "rejected: %v", ErrReliabilityRunning)
		return engine.Result{Kind: kind, Status: engine.Failed, Target: target, Message: ErrReliabilityRunning.Error(), StartedAt: time.Now()}
	}

	return c.engine.Run(ctx, kind, engine.Params{Target: target, Timeout: timeout, Progress: progress})
}

// StartSupportTestAsync runs a support test on a controller goroutine. done receives the result.
func (c *Controller) StartSupportTestAsync(target float64, timeout time.Duration, done func(engine.Result)) error {
	return c.startTestAsync(engine.Support, target, timeout, done)
}

// StartRetractTestAsync runs a retract test on a controller goroutine. done receives the result.
func (c *Controller) StartRetractTestAsync(target float64, timeout time.Duration, done func(engine.Result)) error {
	return c.startTestAsync(engine.Retract, target, timeout, done)
}

func (c *Controller) startTestAsync(kind engine.Kind, target float64, timeout time.Duration, done func(engine.Result)) error {
	mgr, err := c.workers()
	if err != nil {
		return err
	}
	if c.rel.Running() {
		return ErrReliabilityRunning
	}
	if err := c.engine.Reserve(); err != nil {
		return err
	}

	err = mgr.Go(fmt.Sprintf("%s-test", kind), func(ctx context.Context) {
		res := c.engine.RunReserved(ctx, kind, engine.Params{Target: target, Timeout: timeout})
		if done != nil {
			done(res)
		}
	})
	if err != nil {
		c.engine.Release()
	}

	return err
}

// CancelTest aborts the running single test, or the accepted one that has not started yet.
func (c *Controller) CancelTest() {
	c.engine.Cancel()
}

// TestStatus returns the status of the running or last test.
func (c *Controller) TestStatus() engine.Status {
	return c.engine.Status()
}

// TestRunning reports whether a test is executing.
func (c *Controller) TestRunning() bool {
	return c.engine.Busy()
}

// SubscribeTests returns a feed of test start, progress and completion events.
func (c *Controller) SubscribeTests(buffer int) *notify.Subscription[engine.Event] {
	return c.engine.Subscribe(buffer)
}

// StartReliability starts an unbounded support/retract cycle run.
func (c *Controller) StartReliability(p reliability.Params) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	if c.engine.Busy() {
		return engine.ErrBusy
	}

	return c.rel.Start(p)
}

// StopReliability ends the reliability run, optionally writing the report.
func (c *Controller) StopReliability(ctx context.Context, opts reliability.StopOptions) (reliability.Stats, error) {
	return c.rel.Stop(ctx, opts)
}

// ReliabilityStats returns a copy of the current or last run statistics.
func (c *Controller) ReliabilityStats() reliability.Stats {
	return c.rel.Stats()
}

// SubscribeReliability returns a feed of reliability progress and completion events.
func (c *Controller) SubscribeReliability(buffer int) *notify.Subscription[reliability.Progress] {
	return c.rel.Subscribe(buffer)
}

// SaveCurrentReport writes the report of the current or last run and returns its path.
// An empty path generates reliability_report_YYYYMMDD_HHMMSS.txt in the report directory.
func (c *Controller) SaveCurrentReport(path string) (string, error) {
	now := time.Now()
	if path == "" {
		path = filepath.Join(c.opts.reportDir, reliability.DefaultReportName(now))
	}
	if err := reliability.SaveReport(path, c.rel.Stats(), now); err != nil {
		c.journal.Errorf("Report", 0, "save report %s: %v", path, err)
		return "", err
	}
	c.journal.Infof("Report", 0, "report saved to %s", path)

	return path, nil
}
