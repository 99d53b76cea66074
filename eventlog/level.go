package eventlog

import (
	"fmt"
	"strings"

	"github.com/arloliu/footrig/logger"
)

// Level is the severity of a journal entry.
type Level uint8

const (
	Debug Level = iota
	Info
	Warning
	Error
	Critical
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", uint8(l))
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts the names produced by String, case-insensitively.
func (l *Level) UnmarshalText(b []byte) error {
	lv, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = lv

	return nil
}

// ParseLevel parses a level name such as "warning" or "ERROR".
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return Debug, nil
	case "INFO":
		return Info, nil
	case "WARN", "WARNING":
		return Warning, nil
	case "ERROR":
		return Error, nil
	case "CRITICAL":
		return Critical, nil
	default:
		return Info, fmt.Errorf("unknown log level %q", name)
	}
}

func (l Level) mirror(log logger.Logger, msg string, kv ...any) {
	switch l {
	case Debug:
		log.Debug(msg, kv...)
	case Info:
		log.Info(msg, kv...)
	case Warning:
		log.Warn(msg, kv...)
	default:
		log.Error(msg, kv...)
	}
}
