// Package log provides structured logging with patch attempt context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for steps and codecs (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// A Logger may carry a Transcript, which keeps a human-readable copy of
// every entry for the install log.
package log

import (
	"bytes"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with attempt context.
// All entries carry attempt_id and, once known, package.
type Logger struct {
	zap        *zap.Logger
	transcript *Transcript
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// Transcript accumulates console-encoded log lines. Safe for concurrent use.
type Transcript struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements zapcore.WriteSyncer.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Write(p)
}

// Sync implements zapcore.WriteSyncer.
func (t *Transcript) Sync() error { return nil }

// String returns the captured text.
func (t *Transcript) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		NameKey:     "logger",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
}

func consoleEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		ConsoleSeparator: " ",
	})
}

// NewLogger creates a logger for one attempt writing JSON to os.Stderr.
func NewLogger(attemptID string) *Logger {
	return NewLoggerWithWriter(attemptID, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing JSON to w. A nil w discards
// JSON output; the transcript still records every entry.
func NewLoggerWithWriter(attemptID string, w io.Writer) *Logger {
	transcript := &Transcript{}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(), transcript, zapcore.DebugLevel),
	}
	if w != nil {
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(w), zapcore.DebugLevel))
	}
	z := zap.New(zapcore.NewTee(cores...)).With(zap.String("attempt_id", attemptID))
	return &Logger{zap: z, transcript: transcript}
}

// NewNop returns a logger that drops everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// WithPackage returns a logger that also records the target package name.
// The transcript is shared with l.
func (l *Logger) WithPackage(pkg string) *Logger {
	return &Logger{zap: l.zap.With(zap.String("package", pkg)), transcript: l.transcript}
}

// Named returns a logger scoped to a step or component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), transcript: l.transcript}
}

// Transcript returns the attempt transcript, or nil for a Nop logger.
func (l *Logger) Transcript() *Transcript {
	return l.transcript
}

// Sync flushes buffered output.
func (l *Logger) Sync() {
	_ = l.zap.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
