// Package config loads the rig configuration from YAML.
//
// A configuration file is checked against the embedded CUE schema, decoded over Default and
// then overridden from the environment. Validate performs the semantic checks.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver kinds.
const (
	DriverSim    = "sim"
	DriverModbus = "modbus"
)

// Config is the root configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Driver      DriverConfig      `yaml:"driver"`
	Master      MasterConfig      `yaml:"master"`
	Tests       TestsConfig       `yaml:"tests"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Journal     JournalConfig     `yaml:"journal"`
	Stream      StreamConfig      `yaml:"stream"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Admin       AdminConfig       `yaml:"admin"`
}

// LogConfig configures the ambient logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DriverConfig selects the fieldbus driver.
type DriverConfig struct {
	Kind   string       `yaml:"kind"`
	Modbus ModbusConfig `yaml:"modbus"`
}

// ModbusConfig addresses a Modbus-TCP bus coupler.
type ModbusConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	SlaveID       uint8         `yaml:"slave_id"`
	Timeout       time.Duration `yaml:"timeout"`
	InputAddress  uint16        `yaml:"input_address"`
	OutputAddress uint16        `yaml:"output_address"`
	StatusAddress uint16        `yaml:"status_address"`
}

// MasterConfig configures the master and the cyclic loop.
type MasterConfig struct {
	Index            int           `yaml:"index"`
	ExpectedSlaves   int           `yaml:"expected_slaves"`
	CyclePeriod      time.Duration `yaml:"cycle_period"`
	HealthEvery      int           `yaml:"health_every"`
	DiagnosticsEvery int           `yaml:"diagnostics_every"`
	StartWait        time.Duration `yaml:"start_wait"`
}

// TestSpec is the target and timeout of one test kind.
type TestSpec struct {
	Target  float64       `yaml:"target"`
	Timeout time.Duration `yaml:"timeout"`
}

// TestsConfig configures single tests.
type TestsConfig struct {
	Settle  time.Duration `yaml:"settle"`
	Poll    time.Duration `yaml:"poll"`
	Support TestSpec      `yaml:"support"`
	Retract TestSpec      `yaml:"retract"`
}

// ReliabilityConfig configures reliability runs.
type ReliabilityConfig struct {
	PhaseDelay time.Duration `yaml:"phase_delay"`
	CycleDelay time.Duration `yaml:"cycle_delay"`
	ReportDir  string        `yaml:"report_dir"`
	Support    TestSpec      `yaml:"support"`
	Retract    TestSpec      `yaml:"retract"`
}

// JournalConfig configures the event journal and its file.
type JournalConfig struct {
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	Disabled    bool   `yaml:"disabled"`
	Capacity    int    `yaml:"capacity"`
	MaxSize     int64  `yaml:"max_size"`
	MirrorLevel string `yaml:"mirror_level"`
}

// StreamConfig configures the pressure stream.
type StreamConfig struct {
	SamplePeriod time.Duration `yaml:"sample_period"`
}

// TelemetryConfig lists the telemetry sinks. Empty sinks are disabled.
type TelemetryConfig struct {
	JSONL    string         `yaml:"jsonl"`
	Greptime GreptimeConfig `yaml:"greptime"`
	Influx   InfluxConfig   `yaml:"influx"`
}

// GreptimeConfig addresses a GreptimeDB instance.
type GreptimeConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// Enabled reports whether the sink is configured.
func (g GreptimeConfig) Enabled() bool { return g.Host != "" }

// InfluxConfig addresses an InfluxDB 2 bucket.
type InfluxConfig struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether the sink is configured.
func (i InfluxConfig) Enabled() bool { return i.Server != "" }

// AdminConfig configures the HTTP admin server.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "auto"},
		Driver: DriverConfig{Kind: DriverSim, Modbus: ModbusConfig{SlaveID: 1, Timeout: time.Second}},
		Master: MasterConfig{
			ExpectedSlaves:   6,
			CyclePeriod:      10 * time.Millisecond,
			HealthEvery:      10,
			DiagnosticsEvery: 1000,
			StartWait:        time.Second,
		},
		Tests: TestsConfig{
			Settle:  200 * time.Millisecond,
			Poll:    100 * time.Millisecond,
			Support: TestSpec{Target: 22, Timeout: 10 * time.Second},
			Retract: TestSpec{Target: 1, Timeout: 10 * time.Second},
		},
		Reliability: ReliabilityConfig{
			PhaseDelay: 500 * time.Millisecond,
			CycleDelay: 2 * time.Second,
			Support:    TestSpec{Target: 22, Timeout: 10 * time.Second},
			Retract:    TestSpec{Target: 1, Timeout: 10 * time.Second},
		},
		Journal: JournalConfig{
			Capacity:    1000,
			MaxSize:     100 << 20,
			MirrorLevel: "info",
		},
		Stream:    StreamConfig{SamplePeriod: 100 * time.Millisecond},
		Telemetry: TelemetryConfig{Greptime: GreptimeConfig{Port: 4001, Database: "public"}},
	}
}

// Load reads, schema-checks and decodes the YAML file at path, then applies environment
// overrides. An empty path yields Default with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	ApplyEnv(&cfg, os.LookupEnv)

	return &cfg, nil
}

// Decode checks data against the schema and decodes it over cfg.
func Decode(data []byte, cfg *Config) error {
	if err := ValidateSchema(data); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}

	return nil
}

// ApplyEnv overrides the sink settings from the environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Telemetry.Greptime.Host, "GREPTIMEDB_ENDPOINT")
	set(&cfg.Telemetry.Greptime.Database, "GREPTIMEDB_DATABASE")
	set(&cfg.Telemetry.Influx.Server, "INFLUX_SERVER")
	set(&cfg.Telemetry.Influx.Token, "INFLUX_TOKEN")
	set(&cfg.Log.Level, "FOOTRIG_LOG_LEVEL")
	set(&cfg.Admin.Listen, "FOOTRIG_ADMIN_LISTEN")
	set(&cfg.Driver.Modbus.Endpoint, "FOOTRIG_MODBUS_ENDPOINT")
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
