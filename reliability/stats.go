package reliability

import (
	"encoding/json"
	"time"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/internal/util"
)

const (
	// WindowSize is the number of recent cycles kept for rolling rates and averages.
	WindowSize = 100
	// MaxCriticalLogs bounds the warning-or-worse entries kept in Stats.
	MaxCriticalLogs = 50
)

// CycleOutcome is the combined result of one support/retract cycle.
type CycleOutcome struct {
	Cycle       int           `json:"cycle"`
	Support     bool          `json:"support"`
	Retract     bool          `json:"retract"`
	SupportTime time.Duration `json:"support_time"`
	RetractTime time.Duration `json:"retract_time"`
}

// Success reports whether both phases of the cycle succeeded.
func (c CycleOutcome) Success() bool {
	return c.Support && c.Retract
}

// Stats accumulates the lifetime counters and rolling windows of one reliability run.
//
// Stats is not safe for concurrent use; the orchestrator hands out copies made with Clone.
type Stats struct {
	RunID  string
	Params Params

	TotalCycles    int
	SupportSuccess int
	SupportFail    int
	RetractSuccess int
	RetractFail    int

	// consecutive failures, reset by a success
	SupportStreak    int
	RetractStreak    int
	MaxSupportStreak int
	MaxRetractStreak int

	StartTime time.Time
	EndTime   time.Time

	CriticalLogs []eventlog.Entry

	recent *util.Ring[CycleOutcome]
}

func newStats(runID string, p Params, start time.Time) *Stats {
	return &Stats{
		RunID:     runID,
		Params:    p,
		StartTime: start,
		recent:    util.NewRing[CycleOutcome](WindowSize),
	}
}

// AddCycle folds one cycle outcome into the counters. Support is accounted before retract.
// It is a no-op once the stats are frozen.
func (s *Stats) AddCycle(c CycleOutcome) {
	if s.Frozen() {
		return
	}
	if s.recent == nil {
		s.recent = util.NewRing[CycleOutcome](WindowSize)
	}

	s.TotalCycles++

	if c.Support {
		s.SupportSuccess++
		s.SupportStreak = 0
	} else {
		s.SupportFail++
		s.SupportStreak++
		s.MaxSupportStreak = max(s.MaxSupportStreak, s.SupportStreak)
	}

	if c.Retract {
		s.RetractSuccess++
		s.RetractStreak = 0
	} else {
		s.RetractFail++
		s.RetractStreak++
		s.MaxRetractStreak = max(s.MaxRetractStreak, s.RetractStreak)
	}

	s.recent.Push(c)
}

// AddCritical keeps e in the bounded critical log list, dropping the oldest entry when full.
func (s *Stats) AddCritical(e eventlog.Entry) {
	if s.Frozen() {
		return
	}
	if len(s.CriticalLogs) >= MaxCriticalLogs {
		copy(s.CriticalLogs, s.CriticalLogs[1:])
		s.CriticalLogs = s.CriticalLogs[:MaxCriticalLogs-1]
	}
	s.CriticalLogs = append(s.CriticalLogs, e)
}

func (s *Stats) freeze(t time.Time) {
	if s.EndTime.IsZero() {
		s.EndTime = t
	}
}

// Frozen reports whether the run has ended.
func (s *Stats) Frozen() bool {
	return !s.EndTime.IsZero()
}

// Window returns the retained cycle outcomes, oldest first.
func (s *Stats) Window() []CycleOutcome {
	if s.recent == nil {
		return nil
	}

	return s.recent.Values()
}

// Recent returns up to n of the most recent cycle outcomes, newest first. n <= 0 returns the whole window.
func (s *Stats) Recent(n int) []CycleOutcome {
	if s.recent == nil {
		return nil
	}

	return s.recent.Newest(n)
}

// CurrentCycle is the number of the last recorded cycle.
func (s *Stats) CurrentCycle() int {
	if s.recent == nil || s.recent.Len() == 0 {
		return 0
	}

	return s.recent.Newest(1)[0].Cycle
}

// SupportRate is the lifetime support success rate in percent.
func (s *Stats) SupportRate() float64 {
	return percent(s.SupportSuccess, s.TotalCycles)
}

// RetractRate is the lifetime retract success rate in percent.
func (s *Stats) RetractRate() float64 {
	return percent(s.RetractSuccess, s.TotalCycles)
}

// OverallRate is the success rate over all support and retract operations, in percent.
func (s *Stats) OverallRate() float64 {
	return percent(s.SupportSuccess+s.RetractSuccess, 2*s.TotalCycles)
}

// RecentRate is the cycle success rate over the rolling window, in percent.
func (s *Stats) RecentRate() float64 {
	recent := s.Recent(0)
	ok := 0
	for _, c := range recent {
		if c.Success() {
			ok++
		}
	}

	return percent(ok, len(recent))
}

// AvgSupportTime is the mean support duration over the rolling window.
func (s *Stats) AvgSupportTime() time.Duration {
	return s.avg(func(c CycleOutcome) time.Duration { return c.SupportTime })
}

// AvgRetractTime is the mean retract duration over the rolling window.
func (s *Stats) AvgRetractTime() time.Duration {
	return s.avg(func(c CycleOutcome) time.Duration { return c.RetractTime })
}

func (s *Stats) avg(pick func(CycleOutcome) time.Duration) time.Duration {
	recent := s.Recent(0)
	values := make([]int64, len(recent))
	for i, c := range recent {
		values[i] = int64(pick(c))
	}

	return time.Duration(util.Mean(values))
}

// Elapsed is the run duration, measured up to now while the run is live.
func (s *Stats) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.Frozen() {
		return s.EndTime.Sub(s.StartTime)
	}

	return now.Sub(s.StartTime)
}

// Clone returns a deep copy.
func (s *Stats) Clone() Stats {
	c := *s
	c.CriticalLogs = util.CloneSlice(s.CriticalLogs, 0)
	if s.recent != nil {
		c.recent = s.recent.Clone()
	}

	return c
}

type statsView struct {
	RunID            string           `json:"run_id"`
	Params           Params           `json:"params"`
	TotalCycles      int              `json:"total_cycles"`
	CurrentCycle     int              `json:"current_cycle"`
	SupportSuccess   int              `json:"support_success_count"`
	SupportFail      int              `json:"support_fail_count"`
	RetractSuccess   int              `json:"retract_success_count"`
	RetractFail      int              `json:"retract_fail_count"`
	SupportStreak    int              `json:"consecutive_support_failures"`
	RetractStreak    int              `json:"consecutive_retract_failures"`
	MaxSupportStreak int              `json:"max_support_failures"`
	MaxRetractStreak int              `json:"max_retract_failures"`
	SupportRate      float64          `json:"support_success_rate"`
	RetractRate      float64          `json:"retract_success_rate"`
	OverallRate      float64          `json:"overall_success_rate"`
	RecentRate       float64          `json:"recent_success_rate"`
	AvgSupportMs     float64          `json:"avg_support_time_ms"`
	AvgRetractMs     float64          `json:"avg_retract_time_ms"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	ElapsedSeconds   float64          `json:"elapsed_seconds"`
	CriticalLogs     []eventlog.Entry `json:"critical_logs"`
	Recent           []CycleOutcome   `json:"recent_cycles"`
}

// MarshalJSON encodes the counters together with the derived rates and the rolling window.
func (s Stats) MarshalJSON() ([]byte, error) {
	v := statsView{
		RunID:            s.RunID,
		Params:           s.Params,
		TotalCycles:      s.TotalCycles,
		CurrentCycle:     s.CurrentCycle(),
		SupportSuccess:   s.SupportSuccess,
		SupportFail:      s.SupportFail,
		RetractSuccess:   s.RetractSuccess,
		RetractFail:      s.RetractFail,
		SupportStreak:    s.SupportStreak,
		RetractStreak:    s.RetractStreak,
		MaxSupportStreak: s.MaxSupportStreak,
		MaxRetractStreak: s.MaxRetractStreak,
		SupportRate:      s.SupportRate(),
		RetractRate:      s.RetractRate(),
		OverallRate:      s.OverallRate(),
		RecentRate:       s.RecentRate(),
		AvgSupportMs:     ms(s.AvgSupportTime()),
		AvgRetractMs:     ms(s.AvgRetractTime()),
		StartTime:        s.StartTime,
		ElapsedSeconds:   s.Elapsed(time.Now()).Seconds(),
		CriticalLogs:     s.CriticalLogs,
		Recent:           s.Recent(0),
	}
	if s.Frozen() {
		end := s.EndTime
		v.EndTime = &end
	}

	return json.Marshal(v)
}

func percent(n, total int) float64 {
	if total <= 0 {
		return 0
	}

	return float64(n) * 100 / float64(total)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
