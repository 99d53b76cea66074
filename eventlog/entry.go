package eventlog

import (
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp layout used in the log file.
const TimeLayout = "2006-01-02 15:04:05.000"

// Entry is an immutable journal record.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Module  string    `json:"module"`
	Message string    `json:"message"`
	// Cycle is the reliability cycle the entry belongs to, 0 when none.
	Cycle int `json:"cycle,omitempty"`
}

// String formats the entry as a log file line without the trailing newline:
//
//	2024-03-01 10:00:00.123 [INFO] [SupportTest] [Cycle 3] message
func (e Entry) String() string {
	var sb strings.Builder
	sb.Grow(len(TimeLayout) + len(e.Module) + len(e.Message) + 32)
	sb.WriteString(e.Time.Format(TimeLayout))
	sb.WriteString(" [")
	sb.WriteString(e.Level.String())
	sb.WriteString("] [")
	sb.WriteString(e.Module)
	sb.WriteString("]")
	if e.Cycle > 0 {
		sb.WriteString(" [Cycle ")
		sb.WriteString(strconv.Itoa(e.Cycle))
		sb.WriteString("]")
	}
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	return sb.String()
}
