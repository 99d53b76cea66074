package cyclic

import (
	"sync/atomic"
	"time"
)

// Metrics contains atomic counters of the cyclic loop.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// Iterations is the number of completed exchange cycles.
	Iterations atomic.Uint64
	// Overruns is the number of cycles that started after their deadline.
	Overruns atomic.Uint64
	// DriverErrors is the number of failed driver calls.
	DriverErrors atomic.Uint64
	// CommitErrors is the number of failed relay commits.
	CommitErrors atomic.Uint64
	// MaxJitter is the largest observed wake-up delay in nanoseconds.
	MaxJitter atomic.Int64
}

// MetricsSnapshot is a plain copy of Metrics.
type MetricsSnapshot struct {
	Iterations   uint64        `json:"iterations"`
	Overruns     uint64        `json:"overruns"`
	DriverErrors uint64        `json:"driver_errors"`
	CommitErrors uint64        `json:"commit_errors"`
	MaxJitter    time.Duration `json:"max_jitter"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Iterations:   m.Iterations.Load(),
		Overruns:     m.Overruns.Load(),
		DriverErrors: m.DriverErrors.Load(),
		CommitErrors: m.CommitErrors.Load(),
		MaxJitter:    time.Duration(m.MaxJitter.Load()),
	}
}

func (m *Metrics) incIterations() uint64 {
	return m.Iterations.Add(1)
}

func (m *Metrics) incOverruns() {
	m.Overruns.Add(1)
}

func (m *Metrics) incDriverErrors() {
	m.DriverErrors.Add(1)
}

func (m *Metrics) incCommitErrors() {
	m.CommitErrors.Add(1)
}

func (m *Metrics) observeJitter(d time.Duration) {
	for {
		cur := m.MaxJitter.Load()
		if int64(d) <= cur || m.MaxJitter.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}
