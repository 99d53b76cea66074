package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arloliu/footrig/admin"
	"github.com/arloliu/footrig/config"
	"github.com/arloliu/footrig/engine"
	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/fieldbus/modbusgw"
	"github.com/arloliu/footrig/fieldbus/simbus"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/reliability"
	"github.com/arloliu/footrig/rig"
	"github.com/arloliu/footrig/telemetry"
)

const shutdownTimeout = 10 * time.Second

// app owns the controller built from a configuration for the lifetime of one command.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	journal *eventlog.Journal
	ctrl    *rig.Controller
}

type rootFlags struct {
	configPath string
	logLevel   string
	sim        bool
}

func loadConfig(f *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.sim {
		cfg.Driver.Kind = config.DriverSim
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg config.LogConfig) logger.Logger {
	format := logger.FormatAuto
	switch cfg.Format {
	case "json":
		format = logger.FormatJSON
	case "console":
		format = logger.FormatConsole
	}

	return logger.NewSlog(logger.ParseLevel(cfg.Level), logger.WithFormat(format), logger.WithOutput(os.Stderr))
}

func newDriver(cfg config.DriverConfig) fieldbus.Driver {
	if cfg.Kind == config.DriverModbus {
		return modbusgw.New(modbusgw.Config{
			Endpoint:      cfg.Modbus.Endpoint,
			SlaveID:       cfg.Modbus.SlaveID,
			Timeout:       cfg.Modbus.Timeout,
			InputAddress:  cfg.Modbus.InputAddress,
			OutputAddress: cfg.Modbus.OutputAddress,
			StatusAddress: cfg.Modbus.StatusAddress,
		})
	}

	return simbus.New()
}

func newJournal(cfg config.JournalConfig, l logger.Logger) *eventlog.Journal {
	mirror, _ := eventlog.ParseLevel(cfg.MirrorLevel)

	return eventlog.New(
		eventlog.WithCapacity(cfg.Capacity),
		eventlog.WithMaxFileSize(cfg.MaxSize),
		eventlog.WithMirrorLevel(mirror),
		eventlog.WithLogger(l),
	)
}

func rigOptions(cfg *config.Config, l logger.Logger, j *eventlog.Journal) []rig.Option {
	opts := []rig.Option{
		rig.WithLogger(l),
		rig.WithJournal(j),
		rig.WithMasterIndex(cfg.Master.Index),
		rig.WithExpectedSlaves(cfg.Master.ExpectedSlaves),
		rig.WithCyclePeriod(cfg.Master.CyclePeriod),
		rig.WithHealthEvery(cfg.Master.HealthEvery),
		rig.WithDiagnosticsEvery(cfg.Master.DiagnosticsEvery),
		rig.WithStartWait(cfg.Master.StartWait),
		rig.WithReportDir(cfg.Reliability.ReportDir),
		rig.WithTestTiming(cfg.Tests.Settle, cfg.Tests.Poll),
		rig.WithReliabilityDelays(cfg.Reliability.PhaseDelay, cfg.Reliability.CycleDelay),
		rig.WithPressureSampling(cfg.Stream.SamplePeriod),
	}
	switch {
	case cfg.Journal.Disabled:
		opts = append(opts, rig.WithoutLogFile())
	case cfg.Journal.File != "":
		opts = append(opts, rig.WithLogFile(cfg.Journal.File))
	default:
		opts = append(opts, rig.WithLogDir(cfg.Journal.Dir))
	}

	return opts
}

func newApp(f *rootFlags) (*app, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}

	l := newLogger(cfg.Log)
	logger.SetDefault(l)
	j := newJournal(cfg.Journal, l)

	return &app{
		cfg:     cfg,
		log:     l,
		journal: j,
		ctrl:    rig.New(newDriver(cfg.Driver), rigOptions(cfg, l, j)...),
	}, nil
}

func (a *app) start(ctx context.Context) error {
	if err := a.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}

	return nil
}

// close stops the controller and flushes the journal file.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.ctrl.Close(ctx)
	if serr := a.journal.Shutdown(); serr != nil && err == nil {
		err = serr
	}

	return err
}

func (a *app) reliabilityParams() reliability.Params {
	r := a.cfg.Reliability

	return reliability.Params{
		SupportTarget:  r.Support.Target,
		RetractTarget:  r.Retract.Target,
		SupportTimeout: r.Support.Timeout,
		RetractTimeout: r.Retract.Timeout,
	}
}

func (a *app) adminDefaults() admin.Defaults {
	t := a.cfg.Tests

	return admin.Defaults{
		Support:     engine.Params{Target: t.Support.Target, Timeout: t.Support.Timeout},
		Retract:     engine.Params{Target: t.Retract.Target, Timeout: t.Retract.Timeout},
		Reliability: a.reliabilityParams(),
	}
}

// telemetryWriter builds the configured sinks. It returns nil when none is configured.
func (a *app) telemetryWriter() (telemetry.Writer, error) {
	tc := a.cfg.Telemetry
	var ws []telemetry.Writer

	if tc.JSONL != "" {
		w, err := telemetry.NewJSONLWriter(tc.JSONL)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	if tc.Greptime.Enabled() {
		w, err := telemetry.NewGreptimeWriter(tc.Greptime.Host, tc.Greptime.Port, tc.Greptime.Database,
			telemetry.WithGreptimeLogger(a.log))
		if err != nil {
			_ = telemetry.NewMultiWriter(ws...).Close()
			return nil, err
		}
		ws = append(ws, w)
	}
	if tc.Influx.Enabled() {
		ws = append(ws, telemetry.NewInfluxWriter(tc.Influx.Server, tc.Influx.Token, tc.Influx.Org, tc.Influx.Bucket, a.log))
	}

	switch len(ws) {
	case 0:
		return nil, nil
	case 1:
		return ws[0], nil
	default:
		return telemetry.NewMultiWriter(ws...), nil
	}
}
