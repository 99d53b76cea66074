package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/notify"
	"github.com/arloliu/footrig/sensor"
)

const (
	// DefaultFlushInterval is the period between batch flushes.
	DefaultFlushInterval = time.Second
	// DefaultBatchSize flushes pressure rows early once this many are pending.
	DefaultBatchSize = 500
)

// Source provides the streams a Recorder consumes. rig.Controller satisfies it.
type Source interface {
	SubscribeReadings(buffer int) *notify.Subscription[sensor.Reading]
	SubscribeTests(buffer int) *notify.Subscription[engine.Event]
}

// RecorderStats counts recorded rows.
type RecorderStats struct {
	Pressures uint64 `json:"pressures"`
	Tests     uint64 `json:"tests"`
	Failures  uint64 `json:"failures"`
	Dropped   uint64 `json:"dropped"`
}

// Recorder batches the pressure stream and finished tests to a Writer.
type Recorder struct {
	src      Source
	w        Writer
	interval time.Duration
	batch    int
	log      logger.Logger
	now      func() time.Time

	pressures atomic.Uint64
	tests     atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
}

// RecorderOption configures a Recorder.
type RecorderOption interface {
	apply(*Recorder)
}

type recorderOptFunc func(*Recorder)

func (f recorderOptFunc) apply(r *Recorder) { f(r) }

// WithFlushInterval sets the period between flushes.
func WithFlushInterval(d time.Duration) RecorderOption {
	return recorderOptFunc(func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	})
}

// WithBatchSize sets the pending pressure row count that triggers an early flush.
func WithBatchSize(n int) RecorderOption {
	return recorderOptFunc(func(r *Recorder) {
		if n > 0 {
			r.batch = n
		}
	})
}

// WithLogger sets the ambient logger.
func WithLogger(l logger.Logger) RecorderOption {
	return recorderOptFunc(func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	})
}

// NewRecorder creates a Recorder writing the streams of src to w.
func NewRecorder(src Source, w Writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		src:      src,
		w:        w,
		interval: DefaultFlushInterval,
		batch:    DefaultBatchSize,
		log:      logger.GetLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	r.log = r.log.With("component", "telemetry")

	return r
}

// Stats returns the recorded row counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Pressures: r.pressures.Load(),
		Tests:     r.tests.Load(),
		Failures:  r.failures.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Run records until ctx is done, then flushes what is pending. Write failures are logged and
// counted; the batch is discarded.
func (r *Recorder) Run(ctx context.Context) error {
	readings := r.src.SubscribeReadings(4 * r.batch)
	defer readings.Close()
	tests := r.src.SubscribeTests(64)
	defer tests.Close()

	rc, tc := readings.C(), tests.C()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var (
		pending []PressureRow
		results []TestRow
	)
	flush := func(ctx context.Context) {
		if len(pending) > 0 {
			if err := r.w.WritePressures(ctx, pending); err != nil {
				r.failures.Add(1)
				r.log.Warn("write pressure rows", "error", err, "rows", len(pending))
			} else {
				r.pressures.Add(uint64(len(pending)))
			}
			pending = pending[:0]
		}
		if len(results) > 0 {
			if err := r.w.WriteTests(ctx, results); err != nil {
				r.failures.Add(1)
				r.log.Warn("write test rows", "error", err, "rows", len(results))
			} else {
				r.tests.Add(uint64(len(results)))
			}
			results = results[:0]
		}
		r.dropped.Store(readings.Dropped() + tests.Dropped())
	}

	for {
		select {
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdown)
			cancel()

			return nil
		case rd, ok := <-rc:
			if !ok {
				rc = nil
				continue
			}
			pending = append(pending, NewPressureRow(r.now(), rd))
			if len(pending) >= r.batch {
				flush(ctx)
			}
		case ev, ok := <-tc:
			if !ok {
				tc = nil
				continue
			}
			if ev.Type == engine.EventFinished {
				results = append(results, NewTestRow(ev.Result))
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
