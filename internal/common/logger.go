package common

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel maps a config string onto a LogLevel. Empty means info.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError, true
	case "warn", "warning":
		return LogLevelWarn, true
	case "info", "":
		return LogLevelInfo, true
	case "debug":
		return LogLevelDebug, true
	default:
		return LogLevelInfo, false
	}
}

// Logger wraps slog.Logger with pipeline-aware helpers.
type Logger struct {
	*slog.Logger
	level LogLevel
}

// NewLogger creates a text logger writing to stdout.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerTo(os.Stdout, "text", level)
}

// NewJSONLogger creates a structured logger with JSON output
func NewJSONLogger(level LogLevel) *Logger {
	return NewLoggerTo(os.Stdout, "json", level)
}

// NewColorLogger creates a logger using ColorHandler on stdout.
func NewColorLogger(level LogLevel) *Logger {
	return NewLoggerTo(os.Stdout, "color", level)
}

// NewLoggerTo builds a logger for the given format ("text", "json" or "color").
// Text and JSON output go through the global masker so registered secrets never
// reach the sink.
func NewLoggerTo(w io.Writer, format string, level LogLevel) *Logger {
	opts := &slog.HandlerOptions{
		Level:       level.ToSlogLevel(),
		ReplaceAttr: maskReplaceAttr,
	}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "color", "colour":
		ch := NewColorHandler(w, opts)
		ch.SetColorEnabled(true)
		h = ch
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h), level: level}
}

func maskReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	m := GetGlobalMasker()
	if !m.IsEnabled() {
		return a
	}
	if a.Value.Kind() == slog.KindString || a.Value.Kind() == slog.KindAny {
		if masked, ok := m.MaskValue(a.Key, a.Value.Any()).(string); ok {
			if masked != a.Value.String() {
				return slog.String(a.Key, masked)
			}
		}
	}
	return a
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), level: l.level}
}

// WithRun returns a logger tagged with the pipeline run id
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", runID), level: l.level}
}

// WithStage returns a logger tagged with the stage name
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{Logger: l.Logger.With("stage", stage), level: l.level}
}

// WithStore returns a logger with store context
func (l *Logger) WithStore(storeType string) *Logger {
	return &Logger{Logger: l.Logger.With("store", storeType), level: l.level}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewLogger(LogLevelInfo)
)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	if logger == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	slog.SetDefault(logger.Logger)
}

// GetLogger returns the default logger
func GetLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// LogError logs an error with context
func LogError(msg string, err error, attrs ...any) {
	args := append([]any{"error", err}, attrs...)
	GetLogger().Error(msg, args...)
}
