package telemetry

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// MultiWriter fans every batch out to several writers concurrently.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

// NewMultiWriter creates a MultiWriter over ws.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Len returns the number of writers.
func (m *MultiWriter) Len() int {
	return len(m.writers)
}

// WritePressures writes rows to every writer and returns the first error.
func (m *MultiWriter) WritePressures(ctx context.Context, rows []PressureRow) error {
	return m.each(ctx, func(ctx context.Context, w Writer) error { return w.WritePressures(ctx, rows) })
}

// WriteTests writes rows to every writer and returns the first error.
func (m *MultiWriter) WriteTests(ctx context.Context, rows []TestRow) error {
	return m.each(ctx, func(ctx context.Context, w Writer) error { return w.WriteTests(ctx, rows) })
}

func (m *MultiWriter) each(ctx context.Context, fn func(context.Context, Writer) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range m.writers {
		g.Go(func() error { return fn(gctx, w) })
	}

	return g.Wait()
}

// Close closes every writer.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
