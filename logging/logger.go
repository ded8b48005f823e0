// Package logging provides the structured logger used across fluxfill.
package logging

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a Logger.
type Options struct {
	// Development switches the console encoder to colored, human-readable
	// output and lowers the default level to debug.
	Development bool

	// FilePath is the JSON log file. Empty disables the file core.
	FilePath string

	// File controls rotation of FilePath.
	File FileWriterConfig

	// Console receives console-encoded entries. Nil disables the console core,
	// which keeps CLI output free of log noise unless asked for.
	Console io.Writer

	// Level overrides the default level ("debug", "info", ...). Empty keeps
	// the default for the mode.
	Level string
}

// Logger wraps zap.Logger and redacts credentials from every string field
// before it reaches a core.
//
// Example:
//
//	logger, err := logging.NewLogger(false, "fluxfill.log")
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info("batch started", zap.Int("items", 4))
type Logger struct {
	zap           *zap.Logger
	isDevelopment bool
	logFilePath   string
}

// NewLogger creates a Logger that writes JSON entries to logFilePath with the
// default rotation policy. Nothing is written to the console.
func NewLogger(isDevelopment bool, logFilePath string) (*Logger, error) {
	return NewLoggerWithOptions(Options{
		Development: isDevelopment,
		FilePath:    logFilePath,
		File:        DefaultFileWriterConfig(),
	})
}

// NewLoggerWithOptions creates a Logger from explicit options.
func NewLoggerWithOptions(opts Options) (*Logger, error) {
	level := InfoLevel
	if opts.Development {
		level = DebugLevel
	}
	if opts.Level != "" {
		level = ParseLogLevelString(opts.Level, level)
	}

	var cores []zapcore.Core
	if opts.FilePath != "" {
		if err := ensureWritable(opts.FilePath); err != nil {
			return nil, fmt.Errorf("logging: cannot open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(NewEncoderConfig()),
			NewFileWriterWithConfig(opts.FilePath, opts.File),
			level,
		))
	}
	if opts.Console != nil {
		cores = append(cores, newConsoleCore(opts.Console, level, opts.Development))
	}

	var core zapcore.Core
	switch len(cores) {
	case 0:
		core = zapcore.NewNopCore()
	case 1:
		core = cores[0]
	default:
		core = zapcore.NewTee(cores...)
	}

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{
		zap:           zapLogger,
		isDevelopment: opts.Development,
		logFilePath:   opts.FilePath,
	}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Sync flushes buffered entries. Safe on a nil Logger.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs at DebugLevel.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

// Info logs at InfoLevel.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

// Warn logs at WarnLevel.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

// Error logs at ErrorLevel.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// Infof logs a formatted message at InfoLevel. The rendered message is
// redacted as a whole.
func (l *Logger) Infof(template string, args ...interface{}) {
	l.zap.Info(RedactSensitiveData(fmt.Sprintf(template, args...)))
}

// Warnf logs a formatted message at WarnLevel.
func (l *Logger) Warnf(template string, args ...interface{}) {
	l.zap.Warn(RedactSensitiveData(fmt.Sprintf(template, args...)))
}

// With returns a child logger that adds fields to every entry.
//
// Example:
//
//	itemLog := logger.With(zap.String("layer", item.Name))
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:           l.zap.With(redactFields(fields)...),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Named adds a sub-logger name, e.g. "batch" or "inpaint.client".
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:           l.zap.Named(name),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Zap returns the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment reports whether the logger was built in development mode.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the JSON log file path, or "" when file output is off.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}

func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}
	result := make([]zap.Field, len(fields))
	for i, field := range fields {
		result[i] = redactField(field)
	}
	return result
}

func redactField(field zap.Field) zap.Field {
	if IsSensitiveField(field.Key) {
		return zap.String(field.Key, RedactedPlaceholder)
	}
	switch field.Type {
	case zapcore.StringType:
		if redacted := RedactSensitiveData(field.String); redacted != field.String {
			return zap.String(field.Key, redacted)
		}
	case zapcore.ErrorType:
		// Transport errors quote request URLs and headers verbatim.
		if err, ok := field.Interface.(error); ok && err != nil {
			msg := err.Error()
			if redacted := RedactSensitiveData(msg); redacted != msg {
				return zap.String(field.Key, redacted)
			}
		}
	}
	return field
}
