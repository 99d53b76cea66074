package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/sensor"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func samplePressures() []PressureRow {
	return []PressureRow{
		NewPressureRow(ts, sensor.NewReading(1, sensor.RawFromPressure(22))),
		NewPressureRow(ts, sensor.NewReading(2, 0)),
	}
}

func sampleTests() []TestRow {
	return []TestRow{NewTestRow(engine.Result{
		Kind:           engine.Support,
		Status:         engine.Completed,
		Success:        true,
		Target:         22,
		Cycle:          3,
		StartedAt:      ts,
		Elapsed:        1500 * time.Millisecond,
		FinalPressures: [sensor.Channels]float64{22.1, 22.4, 23, 23.5},
	})}
}

func TestNewTestRow(t *testing.T) {
	assert := assert.New(t)

	r := sampleTests()[0]
	assert.Equal("Support", r.Kind)
	assert.Equal("Completed", r.Status)
	assert.Equal(int64(1500), r.ElapsedMs)
	assert.Equal(ts.Add(1500*time.Millisecond), r.Time)
	assert.Equal(3, r.Cycle)
}

func TestJSONLWriter(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "out", "telemetry.jsonl")
	w, err := NewJSONLWriter(path)
	require.NoError(err)
	require.NoError(w.WritePressures(context.Background(), samplePressures()))
	require.NoError(w.WriteTests(context.Background(), sampleTests()))
	require.NoError(w.Close())

	f, err := os.Open(path)
	require.NoError(err)
	defer f.Close()

	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line struct {
			Type string         `json:"type"`
			Row  map[string]any `json:"row"`
		}
		require.NoError(json.Unmarshal(sc.Bytes(), &line))
		types = append(types, line.Type)
		if line.Type == "pressure" {
			assert.Contains(line.Row, "pressure_bar")
		}
	}
	assert.Equal([]string{"pressure", "pressure", "test"}, types)
}

type fakeGreptime struct {
	tables []*table.Table
	err    error
}

func (f *fakeGreptime) Write(_ context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	f.tables = append(f.tables, tables...)
	return &gpb.GreptimeResponse{}, f.err
}

func TestGreptimeWriter(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	client := &fakeGreptime{}
	w := newGreptimeWriter(client, WithGreptimeLogger(logger.NewNop()), WithTables("", "cycles"))

	require.NoError(w.WritePressures(context.Background(), samplePressures()))
	require.NoError(w.WriteTests(context.Background(), sampleTests()))
	require.NoError(w.WritePressures(context.Background(), nil), "empty batch is skipped")
	require.Len(client.tables, 2)

	rows := client.tables[0].GetRows()
	assert.Len(rows.Rows, 2)
	assert.Equal("channel", rows.Schema[0].ColumnName)
	assert.Equal(gpb.SemanticType_TAG, rows.Schema[0].SemanticType)

	tests := client.tables[1].GetRows()
	assert.Len(tests.Rows, 1)
	assert.Equal("kind", tests.Schema[0].ColumnName)

	client.err = errors.New("unavailable")
	assert.Error(w.WritePressures(context.Background(), samplePressures()))
}

type fakePoints struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
	errs    chan error
}

func (f *fakePoints) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakePoints) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakePoints) Errors() <-chan error { return f.errs }

func TestInfluxWriter(t *testing.T) {
	assert := assert.New(t)

	api := &fakePoints{errs: make(chan error, 1)}
	var closed bool
	w := newInfluxWriter(api, func() {
		closed = true
		close(api.errs)
	}, logger.NewNop())

	api.errs <- errors.New("write refused")
	assert.NoError(w.WritePressures(context.Background(), samplePressures()))
	assert.NoError(w.WriteTests(context.Background(), sampleTests()))
	assert.NoError(w.Close())
	assert.NoError(w.Close())

	assert.True(closed)
	assert.Len(api.points, 3)
	assert.Equal(PressureMeasurement, api.points[0].Name())
	assert.Equal(TestMeasurement, api.points[2].Name())
	assert.Equal(2, api.flushes)
}

type memWriter struct {
	mu        sync.Mutex
	pressures []PressureRow
	tests     []TestRow
	err       error
	closed    bool
}

func (m *memWriter) WritePressures(_ context.Context, rows []PressureRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pressures = append(m.pressures, rows...)
	return nil
}

func (m *memWriter) WriteTests(_ context.Context, rows []TestRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tests = append(m.tests, rows...)
	return nil
}

func (m *memWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memWriter) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pressures), len(m.tests)
}

func TestMultiWriter(t *testing.T) {
	assert := assert.New(t)

	a, b := &memWriter{}, &memWriter{}
	mw := NewMultiWriter(a, b)
	assert.Equal(2, mw.Len())

	assert.NoError(mw.WritePressures(context.Background(), samplePressures()))
	assert.NoError(mw.WriteTests(context.Background(), sampleTests()))
	for _, w := range []*memWriter{a, b} {
		p, tr := w.counts()
		assert.Equal(2, p)
		assert.Equal(1, tr)
	}

	b.err = errors.New("sink down")
	assert.ErrorIs(mw.WritePressures(context.Background(), samplePressures()), b.err)
	p, _ := a.counts()
	assert.Equal(4, p, "healthy sink still written")

	assert.NoError(mw.Close())
	assert.True(a.closed)
	assert.True(b.closed)
}
