// Package health derives the fieldbus health status from the master state and gates hardware
// operations on it.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/internal/pool"
	"github.com/arloliu/footrig/logger"
)

const module = "Health"

// DefaultPollInterval is the WaitForOperational polling period.
const DefaultPollInterval = 100 * time.Millisecond

// StateReader reads the master state. fieldbus.Driver satisfies it.
type StateReader interface {
	ReadMasterState() (fieldbus.MasterState, error)
}

// RunningChecker reports whether the cyclic loop is running.
type RunningChecker interface {
	Running() bool
}

// StateInfo is a snapshot of the last master state read.
type StateInfo struct {
	Status           Status    `json:"status"`
	SlavesResponding int       `json:"slaves_responding"`
	ExpectedSlaves   int       `json:"expected_slaves"`
	ALStates         uint8     `json:"al_states"`
	LinkUp           bool      `json:"link_up"`
	LastUpdate       time.Time `json:"last_update"`
	LastError        string    `json:"last_error,omitempty"`
}

// Monitor tracks fieldbus health. It is safe for concurrent use.
type Monitor struct {
	reader   StateReader
	loop     RunningChecker
	expected int
	poll     time.Duration
	log      logger.Logger
	journal  *eventlog.Journal
	now      func() time.Time

	status AtomicStatus

	mu   sync.Mutex
	info StateInfo
}

// Option configures a Monitor.
type Option interface {
	apply(*Monitor)
}

type monitorOptFunc func(*Monitor)

func (f monitorOptFunc) apply(m *Monitor) { f(m) }

// WithExpectedSlaves sets the number of slaves that must respond for Operational status.
func WithExpectedSlaves(n int) Option {
	return monitorOptFunc(func(m *Monitor) { m.expected = n })
}

// WithPollInterval sets the WaitForOperational polling period.
func WithPollInterval(d time.Duration) Option {
	return monitorOptFunc(func(m *Monitor) {
		if d > 0 {
			m.poll = d
		}
	})
}

// WithLogger sets the ambient logger.
func WithLogger(l logger.Logger) Option {
	return monitorOptFunc(func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	})
}

// WithJournal records status transitions and refusals in the domain journal.
func WithJournal(j *eventlog.Journal) Option {
	return monitorOptFunc(func(m *Monitor) { m.journal = j })
}

// New creates a Monitor. reader may be nil until the master is requested, see SetReader.
func New(reader StateReader, loop RunningChecker, opts ...Option) *Monitor {
	m := &Monitor{
		reader:   reader,
		loop:     loop,
		expected: len(fieldbus.DefaultTopology().Slaves),
		poll:     DefaultPollInterval,
		log:      logger.GetLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt.apply(m)
	}
	m.log = m.log.With("component", "health")
	m.info.ExpectedSlaves = m.expected

	return m
}

// SetReader attaches or detaches the master state source.
func (m *Monitor) SetReader(r StateReader) {
	m.mu.Lock()
	m.reader = r
	m.mu.Unlock()
}

// Status returns the last derived status.
func (m *Monitor) Status() Status {
	return m.status.Load()
}

// IsOperational reports whether hardware operations may proceed.
func (m *Monitor) IsOperational() bool {
	return m.Status().Usable()
}

// StateInfo returns a copy of the last state snapshot.
func (m *Monitor) StateInfo() StateInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.info
}

// MarkInitializing flags the start of master configuration.
func (m *Monitor) MarkInitializing() {
	m.transition(Initializing, "", false)
}

// MarkStopped flags an orderly shutdown.
func (m *Monitor) MarkStopped() {
	m.transition(Stopped, "", false)
}

// MarkUninitialized flags that no master is held anymore.
func (m *Monitor) MarkUninitialized() {
	m.transition(Uninitialized, "", false)
}

// Refresh reads the master state, updates the snapshot and returns the derived status.
//
// Precedence: no master => Uninitialized, read error => Fault, loop not running => Stopped,
// link down => Error, slave count mismatch or OP bit missing => Warning, else Operational.
func (m *Monitor) Refresh() Status {
	return m.refresh(false)
}

// Poll is Refresh for the cyclic loop. Status transitions are posted to the journal so the caller
// never waits on the log file.
func (m *Monitor) Poll() Status {
	return m.refresh(true)
}

func (m *Monitor) refresh(posted bool) Status {
	m.mu.Lock()
	reader := m.reader
	m.mu.Unlock()

	if reader == nil {
		return m.transition(Uninitialized, "", posted)
	}

	st, err := reader.ReadMasterState()

	m.mu.Lock()
	m.info.LastUpdate = m.now()
	if err != nil {
		m.info.LastError = err.Error()
	} else {
		m.info.LastError = ""
		m.info.SlavesResponding = st.SlavesResponding
		m.info.ALStates = st.ALStates
		m.info.LinkUp = st.LinkUp
	}
	m.mu.Unlock()

	var next Status
	var reason string
	switch {
	case err != nil:
		next, reason = Fault, "master state read failed: "+err.Error()
	case m.loop != nil && !m.loop.Running():
		next = Stopped
	case !st.LinkUp:
		next, reason = Error, "link down"
	case st.SlavesResponding != m.expected:
		next, reason = Warning, fmt.Sprintf("%d of %d slaves responding", st.SlavesResponding, m.expected)
	case st.ALStates&fieldbus.ALStateOp == 0:
		next, reason = Warning, "slaves not in OP: "+fieldbus.ALStateNames(st.ALStates)
	default:
		next = Operational
	}

	return m.transition(next, reason, posted)
}

func (m *Monitor) transition(next Status, reason string, posted bool) Status {
	m.mu.Lock()
	m.info.Status = next
	m.mu.Unlock()

	prev := m.status.Swap(next)
	if prev == next {
		return next
	}

	msg := fmt.Sprintf("status %s -> %s", prev, next)
	if reason != "" {
		msg += ": " + reason
	}
	level := eventlog.Info
	switch next {
	case Error, Fault:
		level = eventlog.Error
	case Warning:
		level = eventlog.Warning
	}
	if posted && m.journal != nil {
		m.journal.Post(level, module, msg, 0)
		return next
	}
	m.record(level, msg)

	return next
}

func (m *Monitor) record(level eventlog.Level, msg string) {
	if m.journal != nil {
		m.journal.Log(level, module, msg, 0)
		return
	}
	switch level {
	case eventlog.Error:
		m.log.Error(msg)
	case eventlog.Warning:
		m.log.Warn(msg)
	default:
		m.log.Info(msg)
	}
}

// VerifyOperation gates a hardware operation named op. It returns nil when the bus is Operational,
// or in Warning state (after logging a warning). Otherwise it returns an *OperationError.
func (m *Monitor) VerifyOperation(op string) error {
	if m.loop != nil && !m.loop.Running() {
		err := &OperationError{Op: op, Status: m.Status(), Err: ErrLoopNotRunning}
		m.record(eventlog.Error, err.Error())
		return err
	}

	switch status := m.Refresh(); status {
	case Operational:
		return nil
	case Warning:
		m.record(eventlog.Warning, fmt.Sprintf("%s proceeding with degraded bus", op))
		return nil
	default:
		err := &OperationError{Op: op, Status: status, Err: ErrNotOperational}
		m.record(eventlog.Error, err.Error())
		return err
	}
}

// WaitForOperational polls Refresh until the bus is Operational. It returns false on timeout or
// when ctx is done.
func (m *Monitor) WaitForOperational(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.Refresh() == Operational {
			return true
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return false
		}
		if !pool.Sleep(ctx, min(m.poll, remain)) {
			return false
		}
	}
}

// Report renders the current snapshot for humans.
func (m *Monitor) Report() string {
	info := m.StateInfo()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Fieldbus health: %s\n", info.Status)
	fmt.Fprintf(&sb, "  link:   %s\n", map[bool]string{true: "up", false: "down"}[info.LinkUp])
	fmt.Fprintf(&sb, "  slaves: %d/%d responding\n", info.SlavesResponding, info.ExpectedSlaves)
	fmt.Fprintf(&sb, "  AL:     %s (0x%02x)\n", fieldbus.ALStateNames(info.ALStates), info.ALStates)
	if !info.LastUpdate.IsZero() {
		fmt.Fprintf(&sb, "  updated %s\n", info.LastUpdate.Format(eventlog.TimeLayout))
	}
	if info.LastError != "" {
		fmt.Fprintf(&sb, "  last error: %s\n", info.LastError)
	}

	return sb.String()
}
