package engine

import (
	"fmt"
	"time"

	"github.com/arloliu/footrig/sensor"
)

// Kind selects the actuation under test.
type Kind uint8

const (
	// Support drives relay 1 and waits for every channel to reach the target.
	Support Kind = iota + 1
	// Retract drives relay 2 and waits for every channel to drop below the target.
	Retract
)

func (k Kind) String() string {
	switch k {
	case Support:
		return "Support"
	case Retract:
		return "Retract"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool {
	return k == Support || k == Retract
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Module is the journal module name of the test.
func (k Kind) Module() string {
	return k.String() + "Test"
}

// Relays returns the driving and opposing relay channels.
func (k Kind) Relays() (driving, opposing int) {
	if k == Retract {
		return 2, 1
	}
	return 1, 2
}

func (k Kind) reached(p [sensor.Channels]float64, target float64) bool {
	for _, v := range p {
		if k == Support && v < target {
			return false
		}
		if k == Retract && v >= target {
			return false
		}
	}
	return true
}

// Status is the outcome class of a test.
type Status uint8

const (
	Running Status = iota
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Params configures one test run.
type Params struct {
	// Target pressure in bar.
	Target float64
	// Timeout bounds the whole test, measured from its start.
	Timeout time.Duration
	// Cycle is the reliability cycle number, 0 for a standalone test.
	Cycle int
	// Progress, when set, is called on the test goroutine once per poll.
	Progress func(Progress)
}

// Progress is a snapshot taken while a test is polling.
type Progress struct {
	Kind      Kind                     `json:"kind"`
	Cycle     int                      `json:"cycle,omitempty"`
	Target    float64                  `json:"target_bar"`
	Elapsed   time.Duration            `json:"elapsed"`
	Pressures [sensor.Channels]float64 `json:"pressures_bar"`
}

// Result is the immutable outcome of a test.
type Result struct {
	Kind           Kind                     `json:"kind"`
	Status         Status                   `json:"status"`
	Success        bool                     `json:"success"`
	Message        string                   `json:"message"`
	Target         float64                  `json:"target_bar"`
	FinalPressures [sensor.Channels]float64 `json:"final_pressures_bar"`
	Elapsed        time.Duration            `json:"elapsed"`
	Cycle          int                      `json:"cycle,omitempty"`
	StartedAt      time.Time                `json:"started_at"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s test %s success=%t elapsed=%dms pressures=[%.2f %.2f %.2f %.2f]: %s",
		r.Kind, r.Status, r.Success, r.Elapsed.Milliseconds(),
		r.FinalPressures[0], r.FinalPressures[1], r.FinalPressures[2], r.FinalPressures[3], r.Message)
}

// EventType tags an Event.
type EventType uint8

const (
	EventStarted EventType = iota + 1
	EventProgress
	EventFinished
)

// Event is published on the engine bus. Progress is set for EventProgress, Result otherwise.
type Event struct {
	Type     EventType `json:"type"`
	Progress Progress  `json:"progress"`
	Result   Result    `json:"result"`
}
