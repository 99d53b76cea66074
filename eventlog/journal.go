// Package eventlog keeps the domain journal of the rig: a bounded in-memory ring of entries,
// an optional rotating log file and live subscriptions.
package eventlog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/footrig/internal/util"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/notify"
)

const (
	// DefaultCapacity is the number of entries kept in memory.
	DefaultCapacity = 1000
	// CriticalCapacity is the number of warning-or-worse entries kept for diagnostics.
	CriticalCapacity = 50
	// PostQueue is the number of posted entries waiting for the background writer.
	PostQueue = 256
)

// Journal records domain log entries. It is safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	entries  *util.Ring[Entry]
	critical *util.Ring[Entry]
	sink     *fileSink
	maxSize  int64

	log         logger.Logger
	mirrorLevel Level
	now         func() time.Time
	bus         *notify.Bus[Entry]

	postOnce  sync.Once
	posting   atomic.Bool
	posted    chan Entry
	quit      chan struct{}
	drained   chan struct{}
	quitOnce  sync.Once
	postDrops atomic.Uint64
}

// Option configures a Journal.
type Option interface {
	apply(*Journal)
}

type journalOptFunc func(*Journal)

func (f journalOptFunc) apply(j *Journal) { f(j) }

// WithCapacity sets the in-memory ring size.
func WithCapacity(n int) Option {
	return journalOptFunc(func(j *Journal) { j.entries = util.NewRing[Entry](n) })
}

// WithLogger sets the ambient logger entries are mirrored to.
func WithLogger(l logger.Logger) Option {
	return journalOptFunc(func(j *Journal) {
		if l != nil {
			j.log = l
		}
	})
}

// WithMirrorLevel sets the minimum level mirrored to the ambient logger. Defaults to Info.
func WithMirrorLevel(lv Level) Option {
	return journalOptFunc(func(j *Journal) { j.mirrorLevel = lv })
}

// WithMaxFileSize sets the rotation threshold of the log file in bytes.
func WithMaxFileSize(n int64) Option {
	return journalOptFunc(func(j *Journal) { j.maxSize = n })
}

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return journalOptFunc(func(j *Journal) { j.now = now })
}

// New creates a Journal.
func New(opts ...Option) *Journal {
	j := &Journal{
		entries:     util.NewRing[Entry](DefaultCapacity),
		critical:    util.NewRing[Entry](CriticalCapacity),
		maxSize:     DefaultMaxFileSize,
		log:         logger.GetLogger(),
		mirrorLevel: Info,
		now:         time.Now,
		bus:         notify.NewBus[Entry](),
		posted:      make(chan Entry, PostQueue),
		quit:        make(chan struct{}),
		drained:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(j)
	}
	j.log = j.log.With("component", "eventlog")

	return j
}

// Log records an entry. cycle is 0 for entries outside a reliability cycle.
func (j *Journal) Log(level Level, module, msg string, cycle int) Entry {
	e := Entry{Time: j.now(), Level: level, Module: module, Message: msg, Cycle: cycle}
	j.record(e)

	return e
}

// Post queues an entry for a background writer and never blocks on the journal lock or the log
// file. The entry keeps the time of the call. When the queue is full the entry is dropped.
func (j *Journal) Post(level Level, module, msg string, cycle int) {
	j.postOnce.Do(func() {
		j.posting.Store(true)
		go j.drainPosted()
	})

	e := Entry{Time: j.now(), Level: level, Module: module, Message: msg, Cycle: cycle}
	select {
	case j.posted <- e:
	default:
		j.postDrops.Add(1)
	}
}

// PostDrops returns the number of posted entries dropped on a full queue.
func (j *Journal) PostDrops() uint64 {
	return j.postDrops.Load()
}

func (j *Journal) drainPosted() {
	defer close(j.drained)
	for {
		select {
		case e := <-j.posted:
			j.record(e)
		case <-j.quit:
			j.drainNow()
			return
		}
	}
}

func (j *Journal) record(e Entry) {
	level, module, msg, cycle := e.Level, e.Module, e.Message, e.Cycle

	j.mu.Lock()
	j.entries.Push(e)
	if level >= Warning {
		j.critical.Push(e)
	}
	var rotated string
	var werr error
	if j.sink != nil {
		rotated, werr = j.sink.write(e.String() + "\n")
	}
	j.mu.Unlock()

	if level >= j.mirrorLevel {
		kv := []any{"module", module}
		if cycle > 0 {
			kv = append(kv, "cycle", cycle)
		}
		level.mirror(j.log, msg, kv...)
	}
	if werr != nil {
		j.log.Error("failed to write log file", "error", werr)
	}
	if rotated != "" {
		j.log.Info("log file rotated", "backup", rotated)
	}

	j.bus.Publish(e)
}

func (j *Journal) Debugf(module string, cycle int, format string, args ...any) {
	j.Log(Debug, module, fmt.Sprintf(format, args...), cycle)
}

func (j *Journal) Infof(module string, cycle int, format string, args ...any) {
	j.Log(Info, module, fmt.Sprintf(format, args...), cycle)
}

func (j *Journal) Warnf(module string, cycle int, format string, args ...any) {
	j.Log(Warning, module, fmt.Sprintf(format, args...), cycle)
}

func (j *Journal) Errorf(module string, cycle int, format string, args ...any) {
	j.Log(Error, module, fmt.Sprintf(format, args...), cycle)
}

func (j *Journal) Criticalf(module string, cycle int, format string, args ...any) {
	j.Log(Critical, module, fmt.Sprintf(format, args...), cycle)
}

// Recent returns up to n entries, newest first. n <= 0 returns all of them.
func (j *Journal) Recent(n int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.entries.Newest(n)
}

// Critical returns the retained warning-or-worse entries, oldest first.
func (j *Journal) Critical() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.critical.Values()
}

// Len returns the number of entries in memory.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.entries.Len()
}

// Clear drops all in-memory entries. The log file is untouched.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries.Reset()
	j.critical.Reset()
}

// Subscribe returns a live feed of new entries.
func (j *Journal) Subscribe(buffer int) *notify.Subscription[Entry] {
	return j.bus.Subscribe(buffer)
}

// SetFile starts appending entries to path, closing any previous file.
func (j *Journal) SetFile(path string) error {
	sink, err := openSink(path, j.maxSize)
	if err != nil {
		return err
	}

	j.mu.Lock()
	prev := j.sink
	j.sink = sink
	j.mu.Unlock()

	if prev != nil {
		_ = prev.close()
	}
	j.log.Info("log file opened", "path", path)

	return nil
}

// FilePath returns the active log file path, empty when none.
func (j *Journal) FilePath() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sink == nil {
		return ""
	}
	return j.sink.path
}

// Flush commits the log file to stable storage.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sink == nil {
		return nil
	}
	return j.sink.sync()
}

// Close closes the log file. The journal keeps recording in memory.
func (j *Journal) Close() error {
	j.mu.Lock()
	sink := j.sink
	j.sink = nil
	j.mu.Unlock()

	if sink == nil {
		return nil
	}
	_ = sink.sync()

	return sink.close()
}

// Shutdown writes the posted entries, then closes the log file and every subscription.
func (j *Journal) Shutdown() error {
	j.quitOnce.Do(func() { close(j.quit) })
	if j.posting.Load() {
		<-j.drained
	}
	j.drainNow()
	j.bus.Close()

	return j.Close()
}

func (j *Journal) drainNow() {
	for {
		select {
		case e := <-j.posted:
			j.record(e)
		default:
			return
		}
	}
}
