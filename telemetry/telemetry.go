// Package telemetry records the pressure stream and test outcomes to time-series sinks.
//
// A Recorder subscribes to a rig and batches rows to a Writer. Writers exist for JSON lines
// files, GreptimeDB and InfluxDB; MultiWriter fans a batch out to several of them.
package telemetry

import (
	"context"
	"time"

	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/sensor"
)

// PressureRow is one sampled analog channel.
type PressureRow struct {
	Time     time.Time `json:"ts"`
	Channel  int       `json:"channel"`
	Raw      int16     `json:"raw"`
	Current  float64   `json:"current_ma"`
	Pressure float64   `json:"pressure_bar"`
	Status   string    `json:"status"`
}

// NewPressureRow stamps r with t.
func NewPressureRow(t time.Time, r sensor.Reading) PressureRow {
	return PressureRow{
		Time:     t,
		Channel:  r.Channel,
		Raw:      r.Raw,
		Current:  r.Current,
		Pressure: r.Pressure,
		Status:   r.Status.String(),
	}
}

// TestRow is the outcome of one support or retract test.
type TestRow struct {
	Time      time.Time                `json:"ts"`
	Kind      string                   `json:"kind"`
	Cycle     int                      `json:"cycle"`
	Status    string                   `json:"status"`
	Success   bool                     `json:"success"`
	Target    float64                  `json:"target_bar"`
	ElapsedMs int64                    `json:"elapsed_ms"`
	Final     [sensor.Channels]float64 `json:"final_pressures_bar"`
	Message   string                   `json:"message"`
}

// NewTestRow converts a finished test result.
func NewTestRow(res engine.Result) TestRow {
	return TestRow{
		Time:      res.StartedAt.Add(res.Elapsed),
		Kind:      res.Kind.String(),
		Cycle:     res.Cycle,
		Status:    res.Status.String(),
		Success:   res.Success,
		Target:    res.Target,
		ElapsedMs: res.Elapsed.Milliseconds(),
		Final:     res.FinalPressures,
		Message:   res.Message,
	}
}

// Writer persists telemetry rows.
type Writer interface {
	WritePressures(ctx context.Context, rows []PressureRow) error
	WriteTests(ctx context.Context, rows []TestRow) error
	Close() error
}
