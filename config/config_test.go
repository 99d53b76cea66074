package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
driver:
  kind: modbus
  modbus:
    endpoint: 192.168.1.50:502
    slave_id: 3
    output_address: 16
master:
  cycle_period: 5ms
  expected_slaves: 5
tests:
  support:
    target: 25
    timeout: 12s
reliability:
  cycle_delay: 1.5s
  report_dir: reports
telemetry:
  jsonl: samples.jsonl
  influx:
    server: http://influx:8086
    org: plant
    bucket: rig
admin:
  listen: ":8080"
`

func writeFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "footrig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, Validate(&cfg))
	assert.Equal(t, DriverSim, cfg.Driver.Kind)
	assert.Equal(t, 10*time.Millisecond, cfg.Master.CyclePeriod)
}

func TestLoad(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(err)
	require.NoError(Validate(cfg))

	assert.Equal("debug", cfg.Log.Level)
	assert.Equal(DriverModbus, cfg.Driver.Kind)
	assert.Equal("192.168.1.50:502", cfg.Driver.Modbus.Endpoint)
	assert.Equal(uint8(3), cfg.Driver.Modbus.SlaveID)
	assert.Equal(uint16(16), cfg.Driver.Modbus.OutputAddress)
	assert.Equal(time.Second, cfg.Driver.Modbus.Timeout, "default kept")
	assert.Equal(5*time.Millisecond, cfg.Master.CyclePeriod)
	assert.Equal(5, cfg.Master.ExpectedSlaves)
	assert.Equal(10, cfg.Master.HealthEvery, "default kept")
	assert.Equal(TestSpec{Target: 25, Timeout: 12 * time.Second}, cfg.Tests.Support)
	assert.Equal(1500*time.Millisecond, cfg.Reliability.CycleDelay)
	assert.Equal("reports", cfg.Reliability.ReportDir)
	assert.True(cfg.Telemetry.Influx.Enabled())
	assert.False(cfg.Telemetry.Greptime.Enabled())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Tests, cfg.Tests)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("GREPTIMEDB_ENDPOINT", "greptime.local")
	t.Setenv("INFLUX_TOKEN", "secret")
	t.Setenv("FOOTRIG_LOG_LEVEL", "warn")

	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "greptime.local", cfg.Telemetry.Greptime.Host)
	assert.Equal(t, "public", cfg.Telemetry.Greptime.Database)
	assert.Equal(t, "secret", cfg.Telemetry.Influx.Token)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateSchema(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		ok   bool
	}{
		{"empty document", "", true},
		{"valid", sampleYAML, true},
		{"unknown key", "master:\n  cycle_time: 5ms\n", false},
		{"bad duration", "master:\n  cycle_period: fast\n", false},
		{"wrong type", "master:\n  expected_slaves: six\n", false},
		{"out of range target", "tests:\n  support:\n    target: 150\n", false},
		{"bad driver kind", "driver:\n  kind: ethercat\n", false},
		{"bad level", "log:\n  level: loud\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema([]byte(tt.yaml))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"modbus without endpoint", func(c *Config) { c.Driver.Kind = DriverModbus }, "endpoint is required"},
		{"modbus bad endpoint", func(c *Config) {
			c.Driver.Kind = DriverModbus
			c.Driver.Modbus.Endpoint = "coupler"
		}, "driver.modbus.endpoint"},
		{"modbus overlapping blocks", func(c *Config) {
			c.Driver.Kind = DriverModbus
			c.Driver.Modbus.Endpoint = "coupler:502"
		}, "share address"},
		{"unknown driver", func(c *Config) { c.Driver.Kind = "can" }, "driver.kind"},
		{"zero period", func(c *Config) { c.Master.CyclePeriod = 0 }, "cycle_period"},
		{"zero poll", func(c *Config) { c.Tests.Poll = 0 }, "tests.poll"},
		{"zero timeout", func(c *Config) { c.Tests.Retract.Timeout = 0 }, "tests.retract.timeout"},
		{"inverted targets", func(c *Config) { c.Reliability.Retract.Target = 30 }, "must be below"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad mirror level", func(c *Config) { c.Journal.MirrorLevel = "loud" }, "mirror_level"},
		{"influx without bucket", func(c *Config) { c.Telemetry.Influx.Server = "http://x" }, "org and bucket"},
		{"bad listen", func(c *Config) { c.Admin.Listen = "8080" }, "admin.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			before := cfg

			err := Validate(&cfg)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.msg)
			assert.Equal(t, before, cfg, "validate must not mutate")
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Admin.Listen = "127.0.0.1:9000"

	data, err := Marshal(&cfg)
	require.NoError(t, err)

	var got Config
	require.NoError(t, Decode(data, &got))
	assert.Equal(t, cfg, got)
}
