package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/footrig/config"
	"github.com/arloliu/footrig/fieldbus/modbusgw"
	"github.com/arloliu/footrig/fieldbus/simbus"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/telemetry"
)

const testConfig = `
log:
  level: error
master:
  cycle_period: 2ms
  start_wait: 500ms
tests:
  settle: 20ms
  poll: 20ms
  support:
    target: 5
    timeout: 5s
  retract:
    target: 1
    timeout: 5s
reliability:
  report_dir: %s
  phase_delay: 10ms
  cycle_delay: 10ms
  support:
    target: 5
    timeout: 5s
  retract:
    target: 1
    timeout: 5s
journal:
  disabled: true
stream:
  sample_period: 20ms
`

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "footrig.yaml")
	body := fmt.Sprintf(testConfig, filepath.Join(dir, "reports")) + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)

	return out.String(), err
}

func TestLoadConfig_Overrides(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := writeConfig(t, "driver:\n  kind: modbus\n  modbus:\n    endpoint: 127.0.0.1:502\n    input_address: 0\n    output_address: 16\n")
	cfg, err := loadConfig(&rootFlags{configPath: path, logLevel: "debug"})
	require.NoError(err)
	assert.Equal("debug", cfg.Log.Level)
	assert.Equal(config.DriverModbus, cfg.Driver.Kind)
	assert.IsType(&modbusgw.Driver{}, newDriver(cfg.Driver))

	cfg, err = loadConfig(&rootFlags{configPath: path, sim: true})
	require.NoError(err)
	assert.Equal(config.DriverSim, cfg.Driver.Kind)
	assert.IsType(&simbus.Bus{}, newDriver(cfg.Driver))

	_, err = loadConfig(&rootFlags{configPath: path, logLevel: "loud"})
	assert.Error(err)
}

func TestTelemetryWriter(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg := config.Default()
	a := &app{cfg: &cfg, log: logger.NewNop()}
	w, err := a.telemetryWriter()
	require.NoError(err)
	assert.Nil(w)

	a.cfg.Telemetry.JSONL = filepath.Join(t.TempDir(), "rows.jsonl")
	w, err = a.telemetryWriter()
	require.NoError(err)
	assert.IsType(&telemetry.JSONLWriter{}, w)
	require.NoError(w.Close())
}

func TestSupportCommand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	out, err := execute(t, "--sim", "-c", writeConfig(t, ""), "support")
	require.NoError(err)
	assert.Contains(out, "Support test Completed")
	assert.Contains(out, "AI4")
}

func TestRetractCommand_Timeout(t *testing.T) {
	assert := assert.New(t)

	// the simulated plant rests at zero bar, which never drops below a zero target
	out, err := execute(t, "--sim", "-c", writeConfig(t, ""), "retract", "--target=0", "--timeout=200ms")
	assert.ErrorIs(err, errTestFailed)
	assert.Contains(out, "Retract test Completed")
	assert.Contains(out, "timeout after 200 ms")
}

func TestReliabilityCommand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	out, err := execute(t, "--sim", "-c", writeConfig(t, ""), "reliability", "--cycles", "1")
	require.NoError(err)
	assert.Contains(out, "overall success rate")
	assert.Contains(out, "report: ")
}

func TestMonitorCommand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	out, err := execute(t, "--sim", "-c", writeConfig(t, ""), "monitor", "-n", "2", "--interval", "10ms")
	require.NoError(err)
	assert.Contains(out, "Fieldbus health:")
	assert.Equal(2, bytes.Count([]byte(out), []byte("AI1")))
}

func TestConfigCommand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	out, err := execute(t, "-c", writeConfig(t, ""), "config")
	require.NoError(err)
	assert.Contains(out, "cycle_period: 2ms")
}
