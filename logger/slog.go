package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/phsym/console-slog"
)

// Format selects the handler used by the slog backed logger.
type Format int

const (
	// FormatAuto picks the console handler when ENV=development and JSON otherwise.
	FormatAuto Format = iota
	// FormatJSON always writes JSON lines.
	FormatJSON
	// FormatConsole always writes colored human readable lines.
	FormatConsole
)

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var _ Logger = (*SlogLogger)(nil)

// SlogOption configures NewSlog.
type SlogOption func(*slogConfig)

type slogConfig struct {
	output    io.Writer
	format    Format
	addSource bool
}

// WithOutput sets the destination writer. Defaults to os.Stdout.
func WithOutput(w io.Writer) SlogOption {
	return func(c *slogConfig) { c.output = w }
}

// WithFormat sets the output format. Defaults to FormatAuto.
func WithFormat(f Format) SlogOption {
	return func(c *slogConfig) { c.format = f }
}

// WithSource adds the caller's file and line to every record.
func WithSource(enabled bool) SlogOption {
	return func(c *slogConfig) { c.addSource = enabled }
}

// NewSlog creates a slog backed Logger with the given minimum level.
func NewSlog(level Level, opts ...SlogOption) Logger {
	cfg := slogConfig{output: os.Stdout, format: FormatAuto}
	for _, opt := range opts {
		opt(&cfg)
	}

	lv := &slog.LevelVar{}
	lv.Set(toSlogLevel(level))

	format := cfg.format
	if format == FormatAuto {
		format = FormatJSON
		if os.Getenv("ENV") == "development" {
			format = FormatConsole
		}
	}

	var handler slog.Handler
	if format == FormatConsole {
		handler = console.NewHandler(cfg.output, &console.HandlerOptions{
			AddSource:  cfg.addSource,
			Level:      lv,
			TimeFormat: "15:04:05.000",
		})
	} else {
		handler = slog.NewJSONHandler(cfg.output, &slog.HandlerOptions{
			AddSource: cfg.addSource,
			Level:     lv,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}

	return &SlogLogger{logger: slog.New(handler), level: lv}
}

// NewNop returns a Logger that discards everything. Useful in tests.
func NewNop() Logger {
	return NewSlog(FatalLevel, WithOutput(io.Discard), WithFormat(FormatJSON))
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, keysAndValues...)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelError, msg, keysAndValues...)
}

func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelError, msg, keysAndValues...)
	os.Exit(1)
}

// With returns a child logger sharing the parent's level.
func (l *SlogLogger) With(keyValues ...any) Logger {
	return &SlogLogger{logger: l.logger.With(keyValues...), level: l.level}
}

func (l *SlogLogger) Level() Level {
	switch lv := l.level.Level(); {
	case lv <= slog.LevelDebug:
		return DebugLevel
	case lv <= slog.LevelInfo:
		return InfoLevel
	case lv <= slog.LevelWarn:
		return WarnLevel
	case lv <= slog.LevelError:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(toSlogLevel(level))
}

// log must always be called directly by an exported logging method,
// it uses a fixed call depth to obtain the pc.
func (l *SlogLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// skip [runtime.Callers, this function, this function's caller]
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}
