package health

import (
	"fmt"
	"sync/atomic"
)

// Status is the overall health of the fieldbus.
type Status uint32

const (
	Uninitialized Status = iota
	Initializing
	Operational
	Warning
	Error
	Stopped
	Fault
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Operational:
		return "Operational"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Stopped:
		return "Stopped"
	case Fault:
		return "Fault"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Usable reports whether hardware operations may proceed in this status.
func (s Status) Usable() bool {
	return s == Operational || s == Warning
}

// AtomicStatus holds a Status for lock-free reads.
type AtomicStatus struct {
	v atomic.Uint32
}

func (a *AtomicStatus) Load() Status {
	return Status(a.v.Load())
}

func (a *AtomicStatus) Store(s Status) {
	a.v.Store(uint32(s))
}

// Swap stores s and returns the previous status.
func (a *AtomicStatus) Swap(s Status) Status {
	return Status(a.v.Swap(uint32(s)))
}
