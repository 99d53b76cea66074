// Package engine runs single support and retract actuation tests against the rig.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/internal/pool"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/notify"
	"github.com/arloliu/footrig/sensor"
)

const (
	// DefaultSettle is the pause after each relay change.
	DefaultSettle = 200 * time.Millisecond
	// DefaultPoll is the pressure polling period.
	DefaultPoll = 100 * time.Millisecond

	cancelCheck = 10 * time.Millisecond
)

var (
	// ErrBusy is reported when a test is started while another one runs.
	ErrBusy = errors.New("another test is running")
	// ErrNotReserved is reported by RunReserved without a preceding Reserve.
	ErrNotReserved = errors.New("engine not reserved")
)

// Actuator is the hardware surface a test needs.
type Actuator interface {
	VerifyOperation(op string) error
	SetRelay(ch int, on bool) error
	// ReleaseRelay de-asserts ch without the health gate.
	ReleaseRelay(ch int) error
	ReadAllPressures() ([sensor.Channels]float64, error)
}

// Engine executes one test at a time.
type Engine struct {
	act     Actuator
	journal *eventlog.Journal
	log     logger.Logger
	settle  time.Duration
	poll    time.Duration
	bus     *notify.Bus[Event]

	mu        sync.Mutex // protects busy, gen and cancelGen
	busy      bool
	gen       uint64 // generation of the reserved test
	cancelGen uint64 // generation targeted by Cancel
	last      atomic.Uint32
}

// Option configures an Engine.
type Option interface {
	apply(*Engine)
}

type engineOptFunc func(*Engine)

func (f engineOptFunc) apply(e *Engine) { f(e) }

// WithSettle sets the pause after each relay change.
func WithSettle(d time.Duration) Option {
	return engineOptFunc(func(e *Engine) { e.settle = d })
}

// WithPoll sets the pressure polling period.
func WithPoll(d time.Duration) Option {
	return engineOptFunc(func(e *Engine) {
		if d > 0 {
			e.poll = d
		}
	})
}

// WithJournal records test progress in the domain journal.
func WithJournal(j *eventlog.Journal) Option {
	return engineOptFunc(func(e *Engine) { e.journal = j })
}

// WithLogger sets the ambient logger used when no journal is configured.
func WithLogger(l logger.Logger) Option {
	return engineOptFunc(func(e *Engine) {
		if l != nil {
			e.log = l
		}
	})
}

// New creates an Engine driving act.
func New(act Actuator, opts ...Option) *Engine {
	e := &Engine{
		act:    act,
		log:    logger.GetLogger(),
		settle: DefaultSettle,
		poll:   DefaultPoll,
		bus:    notify.NewBus[Event](),
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	e.log = e.log.With("component", "engine")
	e.last.Store(uint32(Completed))

	return e
}

// Busy reports whether a test is reserved or running.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.busy
}

// Status returns the status of the running test, or of the last finished one.
func (e *Engine) Status() Status {
	return Status(e.last.Load())
}

// Cancel aborts the reserved or running test. A running test returns within one poll interval;
// a reserved one is cancelled as soon as it starts. Cancel on an idle engine does nothing.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		e.cancelGen = e.gen
	}
}

// Reserve claims the engine for the next RunReserved call.
func (e *Engine) Reserve() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		return ErrBusy
	}
	e.busy = true
	e.gen++

	return nil
}

// Release gives up a reservation that will not be run.
func (e *Engine) Release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

func (e *Engine) cancelled(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cancelGen == gen
}

// Subscribe returns a feed of test events.
func (e *Engine) Subscribe(buffer int) *notify.Subscription[Event] {
	return e.bus.Subscribe(buffer)
}

// Close closes every event subscription.
func (e *Engine) Close() {
	e.bus.Close()
}

func (e *Engine) record(kind Kind, cycle int, level eventlog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if e.journal != nil {
		e.journal.Log(level, kind.Module(), msg, cycle)
		return
	}
	kv := []any{"module", kind.Module(), "cycle", cycle}
	switch level {
	case eventlog.Debug:
		e.log.Debug(msg, kv...)
	case eventlog.Info:
		e.log.Info(msg, kv...)
	case eventlog.Warning:
		e.log.Warn(msg, kv...)
	default:
		e.log.Error(msg, kv...)
	}
}

// Run executes a test of the given kind and blocks until it finishes.
func (e *Engine) Run(ctx context.Context, kind Kind, p Params) Result {
	if !kind.valid() {
		return Result{Kind: kind, Status: Failed, Target: p.Target, Cycle: p.Cycle,
			Message: fmt.Sprintf("unknown test kind %d", kind), StartedAt: time.Now()}
	}
	if err := e.Reserve(); err != nil {
		e.record(kind, p.Cycle, eventlog.Error, "rejected: %v", err)
		return Result{Kind: kind, Status: Failed, Target: p.Target, Cycle: p.Cycle, Message: err.Error(), StartedAt: time.Now()}
	}

	return e.RunReserved(ctx, kind, p)
}

// RunReserved executes a test on the reservation taken by Reserve and releases it when done.
func (e *Engine) RunReserved(ctx context.Context, kind Kind, p Params) Result {
	res := Result{Kind: kind, Status: Running, Target: p.Target, Cycle: p.Cycle, StartedAt: time.Now()}

	e.mu.Lock()
	reserved, gen := e.busy, e.gen
	e.mu.Unlock()
	if !reserved {
		res.Status, res.Message = Failed, ErrNotReserved.Error()
		return res
	}
	defer e.Release()

	if !kind.valid() {
		res.Status, res.Message = Failed, fmt.Sprintf("unknown test kind %d", kind)
		return res
	}

	e.last.Store(uint32(Running))

	t := &testRun{e: e, ctx: ctx, gen: gen}
	res = t.run(kind, p, res)
	res.Elapsed = time.Since(res.StartedAt)

	e.last.Store(uint32(res.Status))
	e.bus.Publish(Event{Type: EventFinished, Result: res})
	switch {
	case res.Success:
		e.record(kind, p.Cycle, eventlog.Info, "succeeded in %d ms", res.Elapsed.Milliseconds())
	case res.Status == Cancelled:
		e.record(kind, p.Cycle, eventlog.Warning, "cancelled after %d ms", res.Elapsed.Milliseconds())
	default:
		e.record(kind, p.Cycle, eventlog.Error, "failed after %d ms: %s", res.Elapsed.Milliseconds(), res.Message)
	}

	return res
}

// testRun is one execution of a test bound to its reservation generation.
type testRun struct {
	e   *Engine
	ctx context.Context
	gen uint64
}

func (t *testRun) stopRequested() bool {
	return t.ctx.Err() != nil || t.e.cancelled(t.gen)
}

// sleep waits d and reports false when the test was cancelled meanwhile.
func (t *testRun) sleep(d time.Duration) bool {
	return pool.SleepUntil(t.ctx, d, cancelCheck, t.stopRequested) && !t.stopRequested()
}

func (t *testRun) run(kind Kind, p Params, res Result) Result {
	e := t.e
	driving, opposing := kind.Relays()

	e.record(kind, p.Cycle, eventlog.Info, "start: target %.2f bar, timeout %d ms", p.Target, p.Timeout.Milliseconds())
	e.bus.Publish(Event{Type: EventStarted, Result: res})
	if t.stopRequested() {
		res.Status, res.Message = Cancelled, "cancelled before start"
		return res
	}

	if err := e.act.VerifyOperation(kind.Module()); err != nil {
		res.Status, res.Message = Failed, err.Error()
		return res
	}

	if err := e.act.SetRelay(opposing, false); err != nil {
		res.Status, res.Message = Failed, fmt.Sprintf("release relay %d: %v", opposing, err)
		return res
	}
	if !t.sleep(e.settle) {
		res.Status, res.Message = Cancelled, "cancelled while settling"
		return res
	}

	if err := e.act.SetRelay(driving, true); err != nil {
		res.Status, res.Message = Failed, fmt.Sprintf("energize relay %d: %v", driving, err)
		return res
	}
	defer func() {
		if err := e.act.ReleaseRelay(driving); err != nil {
			e.record(kind, p.Cycle, eventlog.Error, "release relay %d: %v", driving, err)
		}
	}()
	e.record(kind, p.Cycle, eventlog.Debug, "relay %d energized, relay %d released", driving, opposing)

	if !t.sleep(e.settle) {
		res.Status, res.Message = Cancelled, "cancelled while settling"
		return res
	}

	for {
		pressures, err := e.act.ReadAllPressures()
		if err != nil {
			res.Status, res.Message = Failed, fmt.Sprintf("read pressures: %v", err)
			return res
		}
		res.FinalPressures = pressures
		elapsed := time.Since(res.StartedAt)

		prog := Progress{Kind: kind, Cycle: p.Cycle, Target: p.Target, Elapsed: elapsed, Pressures: pressures}
		if p.Progress != nil {
			p.Progress(prog)
		}
		e.bus.Publish(Event{Type: EventProgress, Progress: prog})

		if kind.reached(pressures, p.Target) {
			res.Status, res.Success = Completed, true
			res.Message = fmt.Sprintf("target %.2f bar reached", p.Target)
			return res
		}
		if elapsed >= p.Timeout {
			res.Status = Completed
			res.Message = fmt.Sprintf("timeout after %d ms", p.Timeout.Milliseconds())
			return res
		}
		if t.stopRequested() || !t.sleep(e.poll) {
			res.Status, res.Message = Cancelled, "cancelled"
			return res
		}
	}
}
