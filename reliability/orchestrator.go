// Package reliability runs unbounded support/retract cycles and accumulates long-run statistics.
package reliability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/internal/pool"
	"github.com/arloliu/footrig/internal/task"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/notify"
)

const module = "ReliabilityTest"

const (
	DefaultPhaseDelay       = 500 * time.Millisecond
	DefaultCycleDelay       = 2 * time.Second
	DefaultProgressCycles   = 10
	DefaultProgressInterval = time.Minute

	stopCheck = 10 * time.Millisecond
)

// TestRunner executes single tests. engine.Engine satisfies it.
type TestRunner interface {
	Run(ctx context.Context, kind engine.Kind, p engine.Params) engine.Result
	Cancel()
}

// RunningChecker reports whether the cyclic loop is running.
type RunningChecker interface {
	Running() bool
}

// Params configures a reliability run.
type Params struct {
	SupportTarget  float64       `json:"support_target_bar" yaml:"support_target_bar"`
	RetractTarget  float64       `json:"retract_target_bar" yaml:"retract_target_bar"`
	SupportTimeout time.Duration `json:"support_timeout" yaml:"support_timeout"`
	RetractTimeout time.Duration `json:"retract_timeout" yaml:"retract_timeout"`
}

// Validate reports unusable parameters.
func (p Params) Validate() error {
	if p.SupportTarget <= 0 || p.RetractTarget < 0 {
		return fmt.Errorf("%w: targets support=%.2f retract=%.2f", ErrInvalidParams, p.SupportTarget, p.RetractTarget)
	}
	if p.SupportTimeout <= 0 || p.RetractTimeout <= 0 {
		return fmt.Errorf("%w: timeouts support=%v retract=%v", ErrInvalidParams, p.SupportTimeout, p.RetractTimeout)
	}

	return nil
}

// StopOptions controls how a run ends.
type StopOptions struct {
	// Report writes the report file and prints the console summary.
	Report bool
	// ReportPath overrides the generated report file name.
	ReportPath string
	// Force cancels the test in flight instead of letting the cycle finish.
	Force bool
}

// Progress is published periodically while a run is live and once, with Final set, when it ends.
type Progress struct {
	Final bool  `json:"final"`
	State State `json:"state"`
	Stats Stats `json:"stats"`
}

// Orchestrator owns the reliability worker and its statistics.
type Orchestrator struct {
	runner  TestRunner
	loop    RunningChecker
	journal *eventlog.Journal
	log     logger.Logger
	mgr     *task.Manager
	bus     *notify.Bus[Progress]
	now     func() time.Time
	out     io.Writer

	phaseDelay       time.Duration
	cycleDelay       time.Duration
	progressCycles   int
	progressInterval time.Duration
	reportDir        string

	state AtomicState
	force atomic.Bool

	mu    sync.Mutex // protects stats, done and abort
	stats *Stats
	done  chan struct{}
	abort context.CancelFunc
}

// Option configures an Orchestrator.
type Option interface {
	apply(*Orchestrator)
}

type orchOptFunc func(*Orchestrator)

func (f orchOptFunc) apply(o *Orchestrator) { f(o) }

// WithPhaseDelay sets the pause between the support and retract test of a cycle.
func WithPhaseDelay(d time.Duration) Option {
	return orchOptFunc(func(o *Orchestrator) { o.phaseDelay = max(d, 0) })
}

// WithCycleDelay sets the pause between cycles.
func WithCycleDelay(d time.Duration) Option {
	return orchOptFunc(func(o *Orchestrator) { o.cycleDelay = max(d, 0) })
}

// WithProgressEvery sets how often progress is published: every n cycles or every interval, whichever first.
func WithProgressEvery(n int, interval time.Duration) Option {
	return orchOptFunc(func(o *Orchestrator) {
		if n > 0 {
			o.progressCycles = n
		}
		if interval > 0 {
			o.progressInterval = interval
		}
	})
}

// WithReportDir sets the directory generated report files are written to.
func WithReportDir(dir string) Option {
	return orchOptFunc(func(o *Orchestrator) { o.reportDir = dir })
}

// WithOutput sets where the console summary is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return orchOptFunc(func(o *Orchestrator) {
		if w != nil {
			o.out = w
		}
	})
}

// WithLogger sets the ambient logger.
func WithLogger(l logger.Logger) Option {
	return orchOptFunc(func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	})
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return orchOptFunc(func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	})
}

// New creates an idle Orchestrator. A nil journal gets a private one.
func New(runner TestRunner, loop RunningChecker, journal *eventlog.Journal, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:           runner,
		loop:             loop,
		journal:          journal,
		log:              logger.GetLogger(),
		bus:              notify.NewBus[Progress](),
		now:              time.Now,
		out:              os.Stdout,
		phaseDelay:       DefaultPhaseDelay,
		cycleDelay:       DefaultCycleDelay,
		progressCycles:   DefaultProgressCycles,
		progressInterval: DefaultProgressInterval,
		stats:            &Stats{},
	}
	for _, opt := range opts {
		opt.apply(o)
	}
	o.log = o.log.With("component", "reliability")
	if o.journal == nil {
		o.journal = eventlog.New(eventlog.WithLogger(o.log))
	}
	o.mgr = task.NewManager(context.Background(), o.log)

	return o
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	return o.state.Get()
}

// Running reports whether a run is live.
func (o *Orchestrator) Running() bool {
	return o.state.IsRunning()
}

// Stats returns a copy of the statistics of the current or last run.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.stats.Clone()
}

// Subscribe returns a feed of progress and completion events.
func (o *Orchestrator) Subscribe(buffer int) *notify.Subscription[Progress] {
	return o.bus.Subscribe(buffer)
}

// Start resets the statistics and launches the worker.
func (o *Orchestrator) Start(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !o.state.ToRunning() {
		o.journal.Warnf(module, 0, "reliability run already in progress")
		return ErrAlreadyRunning
	}

	done := make(chan struct{})
	aborted, abort := context.WithCancel(context.Background())
	o.mu.Lock()
	o.stats = newStats(uuid.NewString(), p, o.now())
	o.done = done
	o.abort = abort
	o.mu.Unlock()
	o.force.Store(false)

	err := o.mgr.Go("reliability", func(ctx context.Context) {
		defer close(done)
		defer abort()
		o.work(ctx, aborted, p)
	})
	if err != nil {
		abort()
		o.mu.Lock()
		o.stats.freeze(o.now())
		o.mu.Unlock()
		o.state.ToFaulted()
		o.state.ToIdle()
		close(done)

		return fmt.Errorf("start reliability worker: %w", err)
	}

	return nil
}

// Stop ends the run and waits for the worker. When ctx expires first the test in flight is
// cancelled and Stop keeps waiting for the worker, which then returns within one poll interval.
func (o *Orchestrator) Stop(ctx context.Context, opts StopOptions) (Stats, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if !o.state.ToStopping() {
		if done == nil || o.state.IsIdle() {
			return o.Stats(), ErrNotRunning
		}
	}
	o.journal.Infof(module, 0, "stopping reliability run")

	if opts.Force {
		o.forceStop()
	}

	select {
	case <-done:
	case <-ctx.Done():
		o.forceStop()
		<-done
	}

	final := o.Stats()
	if !opts.Report {
		return final, nil
	}

	_, _ = io.WriteString(o.out, Summary(final, o.now()))

	path := opts.ReportPath
	if path == "" {
		path = filepath.Join(o.reportDir, DefaultReportName(o.now()))
	}
	if err := SaveReport(path, final, o.now()); err != nil {
		o.journal.Errorf("Report", 0, "save report %s: %v", path, err)
		return final, err
	}
	o.journal.Infof("Report", 0, "report saved to %s", path)

	return final, nil
}

// Close stops any run without a report and releases the subscriptions.
func (o *Orchestrator) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = o.Stop(ctx, StopOptions{Force: true})
	o.mgr.Stop()
	o.mgr.Wait()
	o.bus.Close()
}

// forceStop aborts the test in flight and every test the worker would start after it.
func (o *Orchestrator) forceStop() {
	o.force.Store(true)
	o.mu.Lock()
	abort := o.abort
	o.mu.Unlock()
	if abort != nil {
		abort()
	}
	o.runner.Cancel()
}

func (o *Orchestrator) stopping() bool {
	return !o.state.IsRunning()
}

func (o *Orchestrator) work(ctx, aborted context.Context, p Params) {
	o.mu.Lock()
	st := o.stats
	o.mu.Unlock()

	stopCapture := o.captureCritical(ctx, st)
	runCtx, cancel := context.WithCancel(ctx)
	stopAbort := context.AfterFunc(aborted, cancel)
	cycle := o.cycles(runCtx, p)
	stopAbort()
	cancel()
	stopCapture()

	o.finish(cycle)
}

// captureCritical copies warning-or-worse journal entries into st until the returned func is called.
// Entries journaled before that call are all delivered.
func (o *Orchestrator) captureCritical(ctx context.Context, st *Stats) func() {
	sub := o.journal.Subscribe(256)
	done := sub.Handle(ctx, func(e eventlog.Entry) {
		if e.Level < eventlog.Warning {
			return
		}
		o.mu.Lock()
		st.AddCritical(e)
		o.mu.Unlock()
	})

	return func() {
		sub.Close()
		<-done
	}
}

func (o *Orchestrator) cycles(ctx context.Context, p Params) int {
	o.journal.Infof(module, 0, "reliability run started: support >= %.2f bar within %v, retract < %.2f bar within %v",
		p.SupportTarget, p.SupportTimeout, p.RetractTarget, p.RetractTimeout)

	lastReport := o.now()
	cycle := 0
	for !o.stopping() {
		if !o.loop.Running() {
			o.journal.Errorf(module, cycle, "cyclic loop is not running, aborting reliability run")
			o.state.ToFaulted()
			break
		}
		cycle++
		o.journal.Infof(module, cycle, "cycle %d started", cycle)

		outcome, ok := o.runCycle(ctx, cycle, p)
		if !ok {
			o.journal.Warnf(module, cycle, "cycle %d cancelled, not recorded", cycle)
			if o.stopping() || ctx.Err() != nil {
				break
			}
		} else {
			o.mu.Lock()
			o.stats.AddCycle(outcome)
			o.mu.Unlock()

			if now := o.now(); cycle%o.progressCycles == 0 || now.Sub(lastReport) >= o.progressInterval {
				lastReport = now
				o.reportProgress(cycle)
			}
		}

		if o.stopping() {
			break
		}
		if !pool.SleepUntil(ctx, o.cycleDelay, stopCheck, o.stopping) {
			break
		}
	}

	return cycle
}

// runCycle runs support then retract. ok is false when the cycle was cancelled.
func (o *Orchestrator) runCycle(ctx context.Context, cycle int, p Params) (CycleOutcome, bool) {
	out := CycleOutcome{Cycle: cycle}

	sup := o.runner.Run(ctx, engine.Support, engine.Params{Target: p.SupportTarget, Timeout: p.SupportTimeout, Cycle: cycle})
	if sup.Status == engine.Cancelled {
		return out, false
	}
	out.Support, out.SupportTime = sup.Success, sup.Elapsed
	if sup.Success {
		o.journal.Infof(module, cycle, "cycle %d support succeeded in %d ms", cycle, sup.Elapsed.Milliseconds())
	} else {
		o.journal.Warnf(module, cycle, "cycle %d support failed after %d ms: %s", cycle, sup.Elapsed.Milliseconds(), sup.Message)
	}

	if !pool.SleepUntil(ctx, o.phaseDelay, stopCheck, o.force.Load) {
		return out, false
	}

	ret := o.runner.Run(ctx, engine.Retract, engine.Params{Target: p.RetractTarget, Timeout: p.RetractTimeout, Cycle: cycle})
	if ret.Status == engine.Cancelled {
		return out, false
	}
	out.Retract, out.RetractTime = ret.Success, ret.Elapsed
	if ret.Success {
		o.journal.Infof(module, cycle, "cycle %d retract succeeded in %d ms", cycle, ret.Elapsed.Milliseconds())
	} else {
		o.journal.Warnf(module, cycle, "cycle %d retract failed after %d ms: %s", cycle, ret.Elapsed.Milliseconds(), ret.Message)
	}

	return out, true
}

func (o *Orchestrator) reportProgress(cycle int) {
	st := o.Stats()
	h, m, s := hms(st.Elapsed(o.now()))
	o.journal.Infof(module, cycle, "progress: %d cycles in %dh %dm %ds, support %.2f%%, retract %.2f%%, overall %.2f%%, avg support %.1f ms, avg retract %.1f ms",
		st.TotalCycles, h, m, s, st.SupportRate(), st.RetractRate(), st.OverallRate(),
		ms(st.AvgSupportTime()), ms(st.AvgRetractTime()))

	o.bus.Publish(Progress{State: o.state.Get(), Stats: st})
}

func (o *Orchestrator) finish(cycle int) {
	// the manager context was cancelled without a Stop call
	o.state.ToStopping()

	o.mu.Lock()
	o.stats.freeze(o.now())
	final := o.stats.Clone()
	o.mu.Unlock()

	state := o.state.Get()
	h, m, s := hms(final.Elapsed(o.now()))
	o.journal.Infof(module, cycle, "reliability run %s after %dh %dm %ds, %d cycles", stateVerb(state), h, m, s, final.TotalCycles)

	o.bus.Publish(Progress{Final: true, State: state, Stats: final})
	o.state.ToIdle()
}

func stateVerb(s State) string {
	if s == Faulted {
		return "faulted"
	}

	return "stopped"
}

func hms(d time.Duration) (h, m, s int64) {
	secs := int64(d / time.Second)
	return secs / 3600, (secs % 3600) / 60, secs % 60
}
