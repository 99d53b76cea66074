// Package rig is the controller of the hydraulic foot-stand test rig.
//
// A Controller owns the fieldbus driver and wires the cyclic loop, the channel gateway, the health
// monitor, the test engine, the reliability orchestrator and the task queue together:
//
//	ctrl := rig.New(drv, rig.WithLogger(log))
//	if err := ctrl.Start(ctx); err != nil {
//		return err
//	}
//	defer ctrl.Stop(context.Background())
//
//	res := ctrl.RunSupportTest(ctx, 22, 10*time.Second, nil)
package rig

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/footrig/cyclic"
	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/gateway"
	"github.com/arloliu/footrig/health"
	"github.com/arloliu/footrig/internal/pool"
	"github.com/arloliu/footrig/internal/task"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/notify"
	"github.com/arloliu/footrig/reliability"
	"github.com/arloliu/footrig/sensor"
	"github.com/arloliu/footrig/taskq"
)

const moduleMaster = "Master"

// Controller drives the rig. It is safe for concurrent use.
type Controller struct {
	drv     fieldbus.Driver
	opts    options
	log     logger.Logger
	journal *eventlog.Journal

	monitor  *health.Monitor
	engine   *engine.Engine
	rel      *reliability.Orchestrator
	readings *notify.Bus[sensor.Reading]

	gw   atomic.Pointer[gateway.Gateway]
	loop atomic.Pointer[cyclic.Loop]

	mu      sync.Mutex // serializes lifecycle transitions
	started atomic.Bool
	tasks   atomic.Pointer[taskq.Queue]
	mgr     atomic.Pointer[task.Manager]
}

// New creates a Controller for drv. No driver call is made before Initialize.
func New(drv fieldbus.Driver, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.expectedSlaves <= 0 {
		o.expectedSlaves = len(o.topology.Slaves)
	}

	c := &Controller{
		drv:      drv,
		opts:     o,
		log:      o.log.With("component", "rig"),
		journal:  o.journal,
		readings: notify.NewBus[sensor.Reading](),
	}
	if c.journal == nil {
		c.journal = eventlog.New(eventlog.WithLogger(o.log))
	}

	c.monitor = health.New(nil, c,
		health.WithExpectedSlaves(o.expectedSlaves),
		health.WithLogger(o.log),
		health.WithJournal(c.journal),
	)
	c.engine = engine.New(c,
		engine.WithSettle(o.settle),
		engine.WithPoll(o.poll),
		engine.WithJournal(c.journal),
		engine.WithLogger(o.log),
	)
	c.rel = reliability.New(c.engine, c, c.journal,
		reliability.WithPhaseDelay(o.phaseDelay),
		reliability.WithCycleDelay(o.cycleDelay),
		reliability.WithReportDir(o.reportDir),
		reliability.WithLogger(o.log),
	)

	return c
}

// Journal returns the domain journal.
func (c *Controller) Journal() *eventlog.Journal {
	return c.journal
}

// Health returns the health monitor.
func (c *Controller) Health() *health.Monitor {
	return c.monitor
}

// Engine returns the test engine.
func (c *Controller) Engine() *engine.Engine {
	return c.engine
}

// Reliability returns the reliability orchestrator.
func (c *Controller) Reliability() *reliability.Orchestrator {
	return c.rel
}

// Initialized reports whether the master is configured and active.
func (c *Controller) Initialized() bool {
	return c.gw.Load() != nil
}

// Running reports whether the cyclic loop is running.
func (c *Controller) Running() bool {
	l := c.loop.Load()
	return l != nil && l.Running()
}

// LoopMetrics returns a snapshot of the cyclic loop counters.
func (c *Controller) LoopMetrics() cyclic.MetricsSnapshot {
	if l := c.loop.Load(); l != nil {
		return l.Metrics().Snapshot()
	}

	return cyclic.MetricsSnapshot{}
}

// VerifyOperation gates a hardware operation on the bus health.
func (c *Controller) VerifyOperation(op string) error {
	return c.monitor.VerifyOperation(op)
}

// Initialize requests the master, configures the slaves, registers the PDO entries and activates
// the master. Calling it again after success is a no-op.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initialize()
}

func (c *Controller) initialize() error {
	if c.Initialized() {
		return nil
	}
	c.monitor.MarkInitializing()
	c.journal.Infof(moduleMaster, 0, "initializing master %d", c.opts.masterIndex)

	gw, err := c.configure()
	if err != nil {
		c.monitor.MarkUninitialized()
		c.journal.Errorf(moduleMaster, 0, "initialization failed: %v", err)
		return err
	}

	loop := cyclic.New(c.drv, gw,
		cyclic.WithPeriod(c.opts.period),
		cyclic.WithHealth(c.monitor, c.opts.healthEvery),
		cyclic.WithDiagnosticsEvery(c.opts.diagEvery),
		cyclic.WithJournal(c.journal),
		cyclic.WithLogger(c.opts.log),
	)
	c.loop.Store(loop)
	c.monitor.SetReader(c.drv)
	c.gw.Store(gw)
	c.journal.Infof(moduleMaster, 0, "master initialized: %d slaves, %d pdo entries",
		len(c.opts.topology.Slaves), len(c.opts.topology.Bindings))

	return nil
}

func (c *Controller) configure() (*gateway.Gateway, error) {
	topo := c.opts.topology

	if err := c.drv.RequestMaster(c.opts.masterIndex); err != nil {
		return nil, fmt.Errorf("request master %d: %w", c.opts.masterIndex, err)
	}
	if err := c.drv.CreateDomain(); err != nil {
		return nil, fmt.Errorf("create domain: %w", err)
	}
	for _, s := range topo.Slaves {
		if err := c.drv.ConfigureSlave(s); err != nil {
			return nil, fmt.Errorf("configure slave %s: %w", s, err)
		}
		c.journal.Debugf(moduleMaster, 0, "configured slave %s", s)
	}

	offsets, err := c.drv.RegisterPdoEntries(topo.Entries())
	if err != nil {
		return nil, fmt.Errorf("register pdo entries: %w", err)
	}
	layout, err := gateway.LayoutFromBindings(topo.Bindings, offsets)
	if err != nil {
		return nil, err
	}

	if err := c.drv.Activate(); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	img := c.drv.ProcessImage()
	if img == nil {
		return nil, fmt.Errorf("%w: no process image after activation", fieldbus.ErrActivate)
	}

	gw := gateway.New(layout)
	gw.Attach(img)

	return gw, nil
}

// Start initializes the master when needed, starts the cyclic loop, the task queue and the
// pressure stream, then waits briefly for Operational health. A bus that is not yet
// operational only produces a warning.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started.Load() {
		return nil
	}
	if err := c.initialize(); err != nil {
		return err
	}

	if err := c.openLogFile(); err != nil {
		c.log.Warn("journal file unavailable", "error", err)
	}

	tasks := taskq.New(c.opts.log)
	if err := tasks.Start(); err != nil {
		return fmt.Errorf("start task queue: %w", err)
	}
	if err := c.loop.Load().Start(context.Background()); err != nil {
		_ = tasks.Shutdown(ctx)
		return err
	}

	mgr := task.NewManager(context.Background(), c.opts.log)
	if c.opts.samplePeriod > 0 {
		if _, err := mgr.StartInterval("pressure-sampler", c.sample, c.opts.samplePeriod, false); err != nil {
			c.log.Warn("pressure stream unavailable", "error", err)
		}
	}
	c.tasks.Store(tasks)
	c.mgr.Store(mgr)
	c.started.Store(true)

	if !c.monitor.WaitForOperational(ctx, c.opts.startWait) {
		c.journal.Warnf(moduleMaster, 0, "bus not operational after %v (status %s), continuing",
			c.opts.startWait, c.monitor.Status())
	}
	c.journal.Infof(moduleMaster, 0, "controller started")

	return nil
}

func (c *Controller) openLogFile() error {
	if c.opts.noLogFile || c.journal.FilePath() != "" {
		return nil
	}
	path := c.opts.logFile
	if path == "" {
		path = filepath.Join(c.opts.logDir, DefaultLogName(time.Now()))
	}

	return c.journal.SetFile(path)
}

// DefaultLogName returns the journal file name generated for t.
func DefaultLogName(t time.Time) string {
	return "footrig_" + t.Format("20060102_150405") + ".log"
}

// Stop cancels the running test and reliability run, switches every relay off, stops the loop and
// the workers, releases the master and closes the journal file. ctx bounds the waits.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started.CompareAndSwap(true, false) {
		return nil
	}
	c.journal.Infof(moduleMaster, 0, "stopping controller")

	if _, err := c.rel.Stop(ctx, reliability.StopOptions{Force: true}); err != nil && !errors.Is(err, reliability.ErrNotRunning) {
		c.log.Warn("stop reliability run", "error", err)
	}
	c.engine.Cancel()

	var errs []error
	mgr := c.mgr.Load()
	mgr.Stop()
	if err := mgr.WaitTimeout(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait workers: %w", err))
	}
	if err := c.tasks.Load().Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown task queue: %w", err))
	}

	loop := c.loop.Load()
	gw := c.gw.Load()
	gw.Relays().SetAll(false)
	c.awaitCommit(ctx, loop)
	loop.Stop()
	c.monitor.MarkStopped()

	gw.Detach()
	c.gw.Store(nil)
	c.loop.Store(nil)
	c.monitor.SetReader(nil)
	if err := c.drv.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release master: %w", err))
	}
	c.monitor.MarkUninitialized()

	c.journal.Infof(moduleMaster, 0, "controller stopped")
	if err := c.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal file: %w", err))
	}

	return errors.Join(errs...)
}

// awaitCommit waits until the loop has run two more iterations, so the relay bank reached the bus.
func (c *Controller) awaitCommit(ctx context.Context, loop *cyclic.Loop) {
	if loop == nil || !loop.Running() {
		return
	}
	target := loop.Iterations() + 2
	deadline := 10 * loop.Period()
	pool.SleepUntil(ctx, deadline, loop.Period()/2, func() bool {
		return loop.Iterations() >= target || !loop.Running()
	})
}

// Close stops the controller and releases its subscriptions.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.rel.Close()
	c.engine.Close()
	c.readings.Close()

	return err
}

// HealthReport renders the bus health for humans.
func (c *Controller) HealthReport() string {
	c.monitor.Refresh()
	return c.monitor.Report()
}

func (c *Controller) gate() (*gateway.Gateway, error) {
	gw := c.gw.Load()
	if gw == nil {
		return nil, ErrNotInitialized
	}

	return gw, nil
}

func (c *Controller) taskQueue() (*taskq.Queue, error) {
	q := c.tasks.Load()
	if !c.started.Load() || q == nil {
		return nil, ErrNotStarted
	}

	return q, nil
}

func (c *Controller) workers() (*task.Manager, error) {
	m := c.mgr.Load()
	if !c.started.Load() || m == nil {
		return nil, ErrNotStarted
	}

	return m, nil
}

// Started reports whether Start succeeded and Stop has not been called since.
func (c *Controller) Started() bool {
	return c.started.Load()
}
