package rig

import (
	"time"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/fieldbus"
	"github.com/arloliu/footrig/logger"
)

type options struct {
	log            logger.Logger
	journal        *eventlog.Journal
	masterIndex    int
	topology       fieldbus.Topology
	expectedSlaves int

	period      time.Duration
	healthEvery int
	diagEvery   int
	startWait   time.Duration

	logFile   string
	logDir    string
	noLogFile bool
	reportDir string

	settle     time.Duration
	poll       time.Duration
	phaseDelay time.Duration
	cycleDelay time.Duration

	samplePeriod time.Duration
}

func defaultOptions() options {
	return options{
		log:          logger.GetLogger(),
		topology:     fieldbus.DefaultTopology(),
		period:       10 * time.Millisecond,
		healthEvery:  10,
		diagEvery:    1000,
		startWait:    time.Second,
		settle:       200 * time.Millisecond,
		poll:         100 * time.Millisecond,
		phaseDelay:   500 * time.Millisecond,
		cycleDelay:   2 * time.Second,
		samplePeriod: 100 * time.Millisecond,
	}
}

// Option configures a Controller.
type Option interface {
	apply(*options)
}

type optFunc func(*options)

func (f optFunc) apply(o *options) { f(o) }

// WithLogger sets the ambient logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) {
		if l != nil {
			o.log = l
		}
	})
}

// WithJournal shares an existing journal instead of creating one.
func WithJournal(j *eventlog.Journal) Option {
	return optFunc(func(o *options) { o.journal = j })
}

// WithMasterIndex selects the master instance requested from the driver.
func WithMasterIndex(idx int) Option {
	return optFunc(func(o *options) { o.masterIndex = idx })
}

// WithTopology replaces the default slave and PDO configuration.
func WithTopology(t fieldbus.Topology) Option {
	return optFunc(func(o *options) { o.topology = t })
}

// WithExpectedSlaves sets the slave count required for Operational health.
// It defaults to the number of configured slaves.
func WithExpectedSlaves(n int) Option {
	return optFunc(func(o *options) { o.expectedSlaves = n })
}

// WithCyclePeriod sets the cyclic exchange period.
func WithCyclePeriod(d time.Duration) Option {
	return optFunc(func(o *options) {
		if d > 0 {
			o.period = d
		}
	})
}

// WithHealthEvery sets the number of loop iterations between health refreshes.
func WithHealthEvery(n int) Option {
	return optFunc(func(o *options) { o.healthEvery = n })
}

// WithDiagnosticsEvery sets the number of loop iterations between diagnostics.
func WithDiagnosticsEvery(n int) Option {
	return optFunc(func(o *options) { o.diagEvery = n })
}

// WithStartWait bounds how long Start waits for Operational health.
func WithStartWait(d time.Duration) Option {
	return optFunc(func(o *options) { o.startWait = d })
}

// WithLogFile sets the journal file opened by Start.
func WithLogFile(path string) Option {
	return optFunc(func(o *options) { o.logFile = path })
}

// WithLogDir sets the directory of the generated journal file.
func WithLogDir(dir string) Option {
	return optFunc(func(o *options) { o.logDir = dir })
}

// WithoutLogFile keeps the journal in memory only.
func WithoutLogFile() Option {
	return optFunc(func(o *options) { o.noLogFile = true })
}

// WithReportDir sets the directory reliability reports are written to.
func WithReportDir(dir string) Option {
	return optFunc(func(o *options) { o.reportDir = dir })
}

// WithTestTiming sets the relay settle time and the pressure poll period of tests.
func WithTestTiming(settle, poll time.Duration) Option {
	return optFunc(func(o *options) {
		o.settle = settle
		if poll > 0 {
			o.poll = poll
		}
	})
}

// WithReliabilityDelays sets the pause between support and retract, and between cycles.
func WithReliabilityDelays(phase, cycle time.Duration) Option {
	return optFunc(func(o *options) {
		o.phaseDelay = phase
		o.cycleDelay = cycle
	})
}

// WithPressureSampling sets the period of the pressure stream. Zero disables it.
func WithPressureSampling(period time.Duration) Option {
	return optFunc(func(o *options) { o.samplePeriod = period })
}
