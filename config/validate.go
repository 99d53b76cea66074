package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"

	"github.com/arloliu/footrig/eventlog"
)

//go:embed schema.cue
var schemaSource []byte

var (
	// ErrSchema wraps schema violations reported by ValidateSchema.
	ErrSchema = errors.New("config schema violation")
	// ErrInvalid wraps semantic errors reported by Validate.
	ErrInvalid = errors.New("invalid config")
)

var (
	schemaMu   sync.Mutex // cue.Context is not safe for concurrent use
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Config"))
		schemaErr = schemaDef.Err()
	})

	return schemaCtx, schemaDef, schemaErr
}

// ValidateSchema checks the YAML document data against the embedded CUE schema.
// Unknown keys, wrong types and out-of-range values are rejected.
func ValidateSchema(data []byte) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	f, err := cueyaml.Extract("config.yaml", data)
	if err != nil {
		return fmt.Errorf("%w: parse yaml: %w", ErrSchema, err)
	}
	doc := ctx.BuildFile(f)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	return nil
}

// Validate checks the semantic correctness of cfg. It does not mutate cfg.
func Validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return invalid("log.level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "auto", "json", "console":
	default:
		return invalid("log.format %q", cfg.Log.Format)
	}

	switch cfg.Driver.Kind {
	case DriverSim:
	case DriverModbus:
		if cfg.Driver.Modbus.Endpoint == "" {
			return invalid("driver.modbus.endpoint is required for the modbus driver")
		}
		if _, _, err := net.SplitHostPort(cfg.Driver.Modbus.Endpoint); err != nil {
			return invalid("driver.modbus.endpoint %q: %v", cfg.Driver.Modbus.Endpoint, err)
		}
		if cfg.Driver.Modbus.OutputAddress == cfg.Driver.Modbus.InputAddress {
			return invalid("driver.modbus: input and output blocks share address %d", cfg.Driver.Modbus.InputAddress)
		}
	default:
		return invalid("driver.kind %q: want %q or %q", cfg.Driver.Kind, DriverSim, DriverModbus)
	}

	m := cfg.Master
	if m.CyclePeriod <= 0 {
		return invalid("master.cycle_period must be positive")
	}
	if m.ExpectedSlaves < 1 {
		return invalid("master.expected_slaves must be at least 1")
	}
	if m.HealthEvery < 1 || m.DiagnosticsEvery < 1 {
		return invalid("master.health_every and master.diagnostics_every must be at least 1")
	}

	if cfg.Tests.Poll <= 0 {
		return invalid("tests.poll must be positive")
	}
	for name, s := range map[string]TestSpec{
		"tests.support":       cfg.Tests.Support,
		"tests.retract":       cfg.Tests.Retract,
		"reliability.support": cfg.Reliability.Support,
		"reliability.retract": cfg.Reliability.Retract,
	} {
		if s.Timeout <= 0 {
			return invalid("%s.timeout must be positive", name)
		}
		if s.Target < 0 {
			return invalid("%s.target must not be negative", name)
		}
	}
	if cfg.Reliability.Retract.Target >= cfg.Reliability.Support.Target {
		return invalid("reliability.retract.target %.2f must be below reliability.support.target %.2f",
			cfg.Reliability.Retract.Target, cfg.Reliability.Support.Target)
	}
	if cfg.Reliability.PhaseDelay < 0 || cfg.Reliability.CycleDelay < 0 {
		return invalid("reliability delays must not be negative")
	}

	if _, err := eventlog.ParseLevel(cfg.Journal.MirrorLevel); err != nil {
		return invalid("journal.mirror_level: %v", err)
	}
	if cfg.Journal.Capacity < 1 {
		return invalid("journal.capacity must be at least 1")
	}
	if cfg.Stream.SamplePeriod < 0 {
		return invalid("stream.sample_period must not be negative")
	}

	if cfg.Telemetry.Influx.Enabled() && (cfg.Telemetry.Influx.Org == "" || cfg.Telemetry.Influx.Bucket == "") {
		return invalid("telemetry.influx: org and bucket are required")
	}
	if cfg.Telemetry.Greptime.Enabled() && cfg.Telemetry.Greptime.Database == "" {
		return invalid("telemetry.greptime.database is required")
	}
	if cfg.Admin.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Admin.Listen); err != nil {
			return invalid("admin.listen %q: %v", cfg.Admin.Listen, err)
		}
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
