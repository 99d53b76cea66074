package telemetry

import (
	"context"
	"fmt"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"github.com/arloliu/footrig/logger"
)

// Default GreptimeDB table names.
const (
	PressureTable = "rig_pressure"
	TestTable     = "rig_tests"
)

// greptimeClient is the subset of greptime.Client used by GreptimeWriter.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeWriter writes rows to GreptimeDB over gRPC. Tables are created on first write.
type GreptimeWriter struct {
	client        greptimeClient
	pressureTable string
	testTable     string
	log           logger.Logger
}

var _ Writer = (*GreptimeWriter)(nil)

// GreptimeOption configures a GreptimeWriter.
type GreptimeOption interface {
	apply(*GreptimeWriter)
}

type greptimeOptFunc func(*GreptimeWriter)

func (f greptimeOptFunc) apply(w *GreptimeWriter) { f(w) }

// WithTables overrides the table names.
func WithTables(pressure, tests string) GreptimeOption {
	return greptimeOptFunc(func(w *GreptimeWriter) {
		if pressure != "" {
			w.pressureTable = pressure
		}
		if tests != "" {
			w.testTable = tests
		}
	})
}

// WithGreptimeLogger sets the ambient logger.
func WithGreptimeLogger(l logger.Logger) GreptimeOption {
	return greptimeOptFunc(func(w *GreptimeWriter) {
		if l != nil {
			w.log = l
		}
	})
}

// NewGreptimeWriter connects to the GreptimeDB gRPC endpoint host:port and writes into database.
func NewGreptimeWriter(host string, port int, database string, opts ...GreptimeOption) (*GreptimeWriter, error) {
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}

	return newGreptimeWriter(client, opts...), nil
}

func newGreptimeWriter(client greptimeClient, opts ...GreptimeOption) *GreptimeWriter {
	w := &GreptimeWriter{
		client:        client,
		pressureTable: PressureTable,
		testTable:     TestTable,
		log:           logger.GetLogger(),
	}
	for _, opt := range opts {
		opt.apply(w)
	}
	w.log = w.log.With("component", "greptime")

	return w
}

func (w *GreptimeWriter) WritePressures(ctx context.Context, rows []PressureRow) error {
	if len(rows) == 0 {
		return nil
	}

	tbl, err := table.New(w.pressureTable)
	if err != nil {
		return err
	}
	for _, col := range []error{
		tbl.AddTagColumn("channel", types.INT64),
		tbl.AddFieldColumn("raw", types.INT64),
		tbl.AddFieldColumn("current_ma", types.FLOAT64),
		tbl.AddFieldColumn("pressure_bar", types.FLOAT64),
		tbl.AddFieldColumn("status", types.STRING),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	} {
		if col != nil {
			return fmt.Errorf("pressure table schema: %w", col)
		}
	}
	for _, r := range rows {
		if err := tbl.AddRow(int64(r.Channel), int64(r.Raw), r.Current, r.Pressure, r.Status, r.Time); err != nil {
			return fmt.Errorf("pressure row: %w", err)
		}
	}

	return w.write(ctx, tbl, len(rows))
}

func (w *GreptimeWriter) WriteTests(ctx context.Context, rows []TestRow) error {
	if len(rows) == 0 {
		return nil
	}

	tbl, err := table.New(w.testTable)
	if err != nil {
		return err
	}
	for _, col := range []error{
		tbl.AddTagColumn("kind", types.STRING),
		tbl.AddFieldColumn("cycle", types.INT64),
		tbl.AddFieldColumn("status", types.STRING),
		tbl.AddFieldColumn("success", types.BOOLEAN),
		tbl.AddFieldColumn("target_bar", types.FLOAT64),
		tbl.AddFieldColumn("elapsed_ms", types.INT64),
		tbl.AddFieldColumn("p1", types.FLOAT64),
		tbl.AddFieldColumn("p2", types.FLOAT64),
		tbl.AddFieldColumn("p3", types.FLOAT64),
		tbl.AddFieldColumn("p4", types.FLOAT64),
		tbl.AddFieldColumn("message", types.STRING),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	} {
		if col != nil {
			return fmt.Errorf("test table schema: %w", col)
		}
	}
	for _, r := range rows {
		err := tbl.AddRow(r.Kind, int64(r.Cycle), r.Status, r.Success, r.Target, r.ElapsedMs,
			r.Final[0], r.Final[1], r.Final[2], r.Final[3], r.Message, r.Time)
		if err != nil {
			return fmt.Errorf("test row: %w", err)
		}
	}

	return w.write(ctx, tbl, len(rows))
}

func (w *GreptimeWriter) write(ctx context.Context, tbl *table.Table, n int) error {
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.log.Warn("write failed", "error", err, "rows", n)
		return err
	}
	w.log.Debug("rows written", "rows", n)

	return nil
}

// Close is a no-op; writes are unary calls.
func (w *GreptimeWriter) Close() error {
	return nil
}
