// Package cyclic runs the fixed-period process data exchange with the fieldbus master.
//
// Each iteration receives the inputs, processes the domain, commits the relay bank into the
// process image, queues the domain and sends the outputs. The loop is the only writer of
// hardware output state.
package cyclic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/health"
	"github.com/arloliu/footrig/internal/pool"
	"github.com/arloliu/footrig/internal/task"
	"github.com/arloliu/footrig/logger"
)

const module = "Cyclic"

const (
	// DefaultPeriod is the exchange period.
	DefaultPeriod = 10 * time.Millisecond
	// DefaultHealthEvery is the number of iterations between health refreshes.
	DefaultHealthEvery = 10
	// DefaultDiagnosticsEvery is the number of iterations between diagnostics.
	DefaultDiagnosticsEvery = 1000
)

// ErrAlreadyRunning is returned by Start on a running loop.
var ErrAlreadyRunning = errors.New("cyclic loop already running")

// Driver is the cyclic part of fieldbus.Driver.
type Driver interface {
	Receive() error
	ProcessDomain() error
	QueueDomain() error
	Send() error
	ReadMasterState() (fieldbus.MasterState, error)
}

// RelayCommitter writes the relay bank into the process image. gateway.Gateway satisfies it.
type RelayCommitter interface {
	CommitRelays() error
}

// HealthRefresher is polled periodically from the loop. health.Monitor satisfies it.
type HealthRefresher interface {
	Poll() health.Status
}

// Loop exchanges process data at a fixed period.
type Loop struct {
	drv        Driver
	relays     RelayCommitter
	health     HealthRefresher
	period     time.Duration
	healthN    uint64
	diagN      uint64
	log        logger.Logger
	journal    *eventlog.Journal
	metrics    Metrics
	running    atomic.Bool
	mu         sync.Mutex // serializes Start and Stop
	mgr        *task.Manager
	lastState  fieldbus.MasterState
	haveState  bool
	errLogged  bool
	stateError bool
}

// Option configures a Loop.
type Option interface {
	apply(*Loop)
}

type loopOptFunc func(*Loop)

func (f loopOptFunc) apply(l *Loop) { f(l) }

// WithPeriod sets the exchange period.
func WithPeriod(d time.Duration) Option {
	return loopOptFunc(func(l *Loop) {
		if d > 0 {
			l.period = d
		}
	})
}

// WithHealth refreshes h every n iterations.
func WithHealth(h HealthRefresher, n int) Option {
	return loopOptFunc(func(l *Loop) {
		l.health = h
		if n > 0 {
			l.healthN = uint64(n)
		}
	})
}

// WithDiagnosticsEvery sets the number of iterations between diagnostics.
func WithDiagnosticsEvery(n int) Option {
	return loopOptFunc(func(l *Loop) {
		if n > 0 {
			l.diagN = uint64(n)
		}
	})
}

// WithLogger sets the ambient logger.
func WithLogger(lg logger.Logger) Option {
	return loopOptFunc(func(l *Loop) {
		if lg != nil {
			l.log = lg
		}
	})
}

// WithJournal records master state changes in the domain journal.
func WithJournal(j *eventlog.Journal) Option {
	return loopOptFunc(func(l *Loop) { l.journal = j })
}

// New creates a stopped Loop.
func New(drv Driver, relays RelayCommitter, opts ...Option) *Loop {
	l := &Loop{
		drv:     drv,
		relays:  relays,
		period:  DefaultPeriod,
		healthN: DefaultHealthEvery,
		diagN:   DefaultDiagnosticsEvery,
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt.apply(l)
	}
	l.log = l.log.With("component", "cyclic")

	return l
}

// SetHealth replaces the health refresher. It must be called before Start.
func (l *Loop) SetHealth(h HealthRefresher) {
	l.health = h
}

// Running reports whether the loop goroutine is alive.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Iterations returns the number of completed cycles.
func (l *Loop) Iterations() uint64 {
	return l.metrics.Iterations.Load()
}

// Metrics returns the loop counters.
func (l *Loop) Metrics() *Metrics {
	return &l.metrics
}

// Period returns the exchange period.
func (l *Loop) Period() time.Duration {
	return l.period
}

// Start launches the loop goroutine. The loop stops when ctx is done or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	l.mgr = task.NewManager(ctx, l.log)
	l.haveState, l.errLogged = false, false
	if err := l.mgr.Go("cyclic", l.run); err != nil {
		l.running.Store(false)
		return fmt.Errorf("start cyclic loop: %w", err)
	}
	l.log.Info("cyclic loop started", "period", l.period)

	return nil
}

// Stop stops the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mgr == nil {
		return
	}
	l.mgr.Stop()
	l.mgr.Wait()
	l.mgr = nil
	l.log.Info("cyclic loop stopped", "iterations", l.Iterations())
}

func (l *Loop) run(ctx context.Context) {
	defer l.running.Store(false)

	next := time.Now()
	for ctx.Err() == nil {
		l.iterate()

		next = next.Add(l.period)
		wait := time.Until(next)
		if wait < 0 {
			l.metrics.incOverruns()
			next = time.Now()
			continue
		}
		if !pool.Sleep(ctx, wait) {
			return
		}
		if late := time.Since(next); late > 0 {
			l.metrics.observeJitter(late)
		}
	}
}

func (l *Loop) iterate() {
	l.call("receive", l.drv.Receive)
	l.call("process domain", l.drv.ProcessDomain)
	if err := l.relays.CommitRelays(); err != nil {
		l.metrics.incCommitErrors()
		l.warnOnce("relay commit failed", err)
	}
	l.call("queue domain", l.drv.QueueDomain)
	l.call("send", l.drv.Send)

	n := l.metrics.incIterations()
	if l.health != nil && n%l.healthN == 0 {
		l.health.Poll()
	}
	if n%l.diagN == 0 {
		l.diagnostics()
	}
}

func (l *Loop) call(op string, fn func() error) {
	if err := fn(); err != nil {
		l.metrics.incDriverErrors()
		l.warnOnce(op+" failed", err)
	}
}

// warnOnce logs the first error of a diagnostics window.
func (l *Loop) warnOnce(msg string, err error) {
	if l.errLogged {
		return
	}
	l.errLogged = true
	l.log.Warn(msg, "error", err, "iteration", l.Iterations())
}

func (l *Loop) diagnostics() {
	l.errLogged = false

	m := l.metrics.Snapshot()
	l.log.Debug("cyclic loop metrics",
		"iterations", m.Iterations,
		"overruns", m.Overruns,
		"driver_errors", m.DriverErrors,
		"commit_errors", m.CommitErrors,
		"max_jitter", m.MaxJitter,
	)

	st, err := l.drv.ReadMasterState()
	if err != nil {
		if !l.stateError {
			l.log.Warn("read master state failed", "error", err)
		}
		l.stateError = true
		return
	}
	l.stateError = false

	if l.haveState && st == l.lastState {
		return
	}
	l.lastState, l.haveState = st, true

	msg := fmt.Sprintf("master state: %d slaves responding, AL states %s, link %s",
		st.SlavesResponding, fieldbus.ALStateNames(st.ALStates), linkWord(st.LinkUp))
	if l.journal != nil {
		l.journal.Post(eventlog.Info, module, msg, 0)
		return
	}
	l.log.Info(msg)
}

func linkWord(up bool) string {
	if up {
		return "up"
	}

	return "down"
}
