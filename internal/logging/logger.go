package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides structured logging with optional file output.
// Loggers are cheap to derive; pass them down rather than using a global.
type Logger struct {
	sugar      *zap.SugaredLogger
	level      zap.AtomicLevel
	jsonFormat bool
	logFile    *os.File
}

// NewLogger creates a logger writing to stderr
func NewLogger(level Level, jsonFormat bool) *Logger {
	return newLogger(level, jsonFormat, os.Stderr, nil)
}

// NewFileLogger creates a logger that writes to <dir>/<component>.log and stderr
func NewFileLogger(dir, component string, level Level, jsonFormat bool) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, component+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := newLogger(level, jsonFormat, io.MultiWriter(logFile, os.Stderr), logFile)
	logger.Debug("Logger initialized", map[string]interface{}{"path": logPath})
	return logger, nil
}

func newLogger(level Level, jsonFormat bool, out io.Writer, logFile *os.File) *Logger {
	atomic := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(newEncoder(jsonFormat), zapcore.AddSync(out), atomic)
	return &Logger{
		sugar:      zap.New(core).Sugar(),
		level:      atomic,
		jsonFormat: jsonFormat,
		logFile:    logFile,
	}
}

func newEncoder(jsonFormat bool) zapcore.Encoder {
	if jsonFormat {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.MessageKey = "message"
		cfg.EncodeTime = zapcore.RFC3339TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	return zapcore.NewConsoleEncoder(cfg)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{
		sugar: zap.NewNop().Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// Test returns a logger that writes through tb
func Test(tb testing.TB) *Logger {
	tb.Helper()
	return &Logger{
		sugar: zaptest.NewLogger(tb).Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

// TestObserved returns a test logger plus the entries it recorded at lvl and above
func TestObserved(tb testing.TB, lvl Level) (*Logger, *observer.ObservedLogs) {
	tb.Helper()
	core, logs := observer.New(lvl.zapLevel())
	tee := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	})
	return &Logger{
		sugar: zaptest.NewLogger(tb, zaptest.WrapOptions(tee)).Sugar(),
		level: zap.NewAtomicLevelAt(lvl.zapLevel()),
	}, logs
}

// SetLevel changes the minimum level at runtime
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.sugar.Debugw(message, keysAndValues(fields)...)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.sugar.Infow(message, keysAndValues(fields)...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.sugar.Warnw(message, keysAndValues(fields)...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.sugar.Errorw(message, keysAndValues(fields)...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.sugar.Fatalw(message, keysAndValues(fields)...)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		sugar:      l.sugar.With(key, value),
		level:      l.level,
		jsonFormat: l.jsonFormat,
	}
}

// Named returns a child logger with name appended
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		sugar:      l.sugar.Named(name),
		level:      l.level,
		jsonFormat: l.jsonFormat,
	}
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Close flushes and closes the log file if opened
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// keysAndValues flattens the optional field map in a stable order
func keysAndValues(fields []map[string]interface{}) []interface{} {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	f := fields[0]

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(f)*2)
	for _, k := range keys {
		kv = append(kv, k, f[k])
	}
	return kv
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch level {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	case "FATAL", "fatal":
		return FATAL
	default:
		return INFO
	}
}
