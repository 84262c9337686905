// Package logger is the reporting facility of the session logger: a small
// structured logging interface backed by zerolog, with an optional daily
// rotating file output for process diagnostics.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Err returns the conventional "error" field for err.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// F is shorthand for Field{Key: key, Value: value}.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger writes leveled, structured entries. Loggers derived with With carry
// their fields into every entry.
type Logger interface {
	// Debug logs msg at debug level.
	Debug(msg string, fields ...Field)

	// Info logs msg at info level.
	Info(msg string, fields ...Field)

	// Warn logs msg at warn level.
	Warn(msg string, fields ...Field)

	// Error logs msg at error level.
	Error(msg string, fields ...Field)

	// With returns a derived Logger that adds fields to every entry. The
	// receiver is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases the file output owned by the logger, if any. Derived
	// loggers never own the output. Safe to call multiple times.
	Close() error
}

type zerologLogger struct {
	zl         zerolog.Logger
	fileWriter *DailyFileWriter
	ownsWriter bool
}

// NewZerologLogger wraps l, tagging every entry with the service name and a
// timestamp and dropping entries below level.
//
// Parameters:
//   - l: The zerolog.Logger to write through
//   - serviceName: Value of the "service" field on every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger writing through l
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		zl: l.With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// NewZerologFileLogger creates a Logger that writes to stderr and to daily
// rotated files {serviceName}_{date}.log in logDir, creating logDir if needed.
//
// Parameters:
//   - serviceName: Used for the "service" field and file names
//   - logDir: Directory for log files
//   - level: Minimum level to log
//
// Returns:
//   - The Logger, or an error if the directory or the first file cannot be created
func NewZerologFileLogger(serviceName string, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	fileWriter, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, fmt.Errorf("create file writer: %w", err)
	}

	out := io.MultiWriter(os.Stderr, fileWriter)
	return &zerologLogger{
		zl:         zerolog.New(out).With().Str("service", serviceName).Timestamp().Logger().Level(level),
		fileWriter: fileWriter,
		ownsWriter: true,
	}, nil
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zerologLogger{zl: zerolog.Nop()}
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a
// zerolog level. An empty name means info.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}

	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level %q: %w", name, err)
	}

	return level, nil
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.zl.Debug().Fields(fieldMap(fields)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.zl.Info().Fields(fieldMap(fields)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.zl.Warn().Fields(fieldMap(fields)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.zl.Error().Fields(fieldMap(fields)).Msg(msg)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		zl:         z.zl.With().Fields(fieldMap(fields)).Logger(),
		fileWriter: z.fileWriter,
	}
}

func (z *zerologLogger) Close() error {
	if z.ownsWriter && z.fileWriter != nil {
		return z.fileWriter.Close()
	}

	return nil
}

func fieldMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
