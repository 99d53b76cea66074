package telemetry

import (
	"context"
	"strconv"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api/write"

	"github.com/arloliu/footrig/logger"
)

// Influx measurement names.
const (
	PressureMeasurement = "rig.pressure"
	TestMeasurement     = "rig.test"
)

// pointAPI is the subset of api.WriteApi used by InfluxWriter.
type pointAPI interface {
	WritePoint(p *write.Point)
	Flush()
	Errors() <-chan error
}

// InfluxWriter writes rows as points through the asynchronous InfluxDB write API.
// Write errors surface asynchronously and are logged.
type InfluxWriter struct {
	api    pointAPI
	close  func()
	log    logger.Logger
	closed sync.Once
}

var _ Writer = (*InfluxWriter)(nil)

// NewInfluxWriter connects to server with token and writes into org/bucket.
func NewInfluxWriter(server, token, org, bucket string, l logger.Logger) *InfluxWriter {
	client := influxdb2.NewClient(server, token)
	wapi := client.WriteApi(org, bucket)

	return newInfluxWriter(wapi, func() {
		wapi.Close()
		client.Close()
	}, l)
}

func newInfluxWriter(api pointAPI, closeFn func(), l logger.Logger) *InfluxWriter {
	if l == nil {
		l = logger.GetLogger()
	}
	w := &InfluxWriter{api: api, close: closeFn, log: l.With("component", "influx")}

	errs := api.Errors()
	go func() {
		for err := range errs {
			w.log.Warn("write error", "error", err)
		}
	}()

	return w
}

func (w *InfluxWriter) WritePressures(_ context.Context, rows []PressureRow) error {
	for _, r := range rows {
		w.api.WritePoint(influxdb2.NewPoint(PressureMeasurement,
			map[string]string{"channel": strconv.Itoa(r.Channel)},
			map[string]interface{}{
				"raw":          int64(r.Raw),
				"current_ma":   r.Current,
				"pressure_bar": r.Pressure,
				"status":       r.Status,
			},
			r.Time,
		))
	}

	return nil
}

func (w *InfluxWriter) WriteTests(_ context.Context, rows []TestRow) error {
	for _, r := range rows {
		fields := map[string]interface{}{
			"cycle":      int64(r.Cycle),
			"status":     r.Status,
			"success":    r.Success,
			"target_bar": r.Target,
			"elapsed_ms": r.ElapsedMs,
			"message":    r.Message,
		}
		for i, p := range r.Final {
			fields["p"+strconv.Itoa(i+1)] = p
		}
		w.api.WritePoint(influxdb2.NewPoint(TestMeasurement, map[string]string{"kind": r.Kind}, fields, r.Time))
	}
	w.api.Flush()

	return nil
}

// Close flushes pending points and closes the client.
func (w *InfluxWriter) Close() error {
	w.closed.Do(func() {
		w.api.Flush()
		if w.close != nil {
			w.close()
		}
	})

	return nil
}
