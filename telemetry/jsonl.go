package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends rows as JSON lines, one object per line tagged with its type.
type JSONLWriter struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

var _ Writer = (*JSONLWriter)(nil)

type jsonLine struct {
	Type string `json:"type"`
	Row  any    `json:"row"`
}

// NewJSONLWriter opens path for appending, creating parent directories.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	buf := bufio.NewWriter(f)

	return &JSONLWriter{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (w *JSONLWriter) WritePressures(_ context.Context, rows []PressureRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range rows {
		if err := w.enc.Encode(jsonLine{Type: "pressure", Row: r}); err != nil {
			return err
		}
	}

	return w.buf.Flush()
}

func (w *JSONLWriter) WriteTests(_ context.Context, rows []TestRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range rows {
		if err := w.enc.Encode(jsonLine{Type: "test", Row: r}); err != nil {
			return err
		}
	}

	return w.buf.Flush()
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}

	return w.f.Close()
}
