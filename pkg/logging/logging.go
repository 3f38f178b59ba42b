// Package logging provides subsystem-tagged structured logging for the
// engine, built directly on log/slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger *slog.Logger

// Init initializes the process-wide logger. Call once at startup.
func Init(level LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{Level: level.SlogLevel()}
	handler := slog.NewTextHandler(output, opts)
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func init() {
	Init(LevelInfo, os.Stderr)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	attrs := make([]slog.Attr, 0, 2)
	attrs = append(attrs, slog.String("subsystem", subsystem))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// TruncateID shortens an identifier for safe logging, keeping only enough
// of it to correlate log lines without leaking the full value.
func TruncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// AuditEvent is a structured record of a security- or lifecycle-relevant
// action, suitable for collection by external audit pipelines.
type AuditEvent struct {
	Action    string
	Outcome   string // "success" or "failure"
	Actor     string
	Target    string
	Details   string
	Error     string
	Timestamp time.Time
}

// Audit logs a structured audit event at INFO level with an [AUDIT] prefix
// so log aggregators can filter on it.
func Audit(event AuditEvent) {
	parts := make([]string, 0, 6)
	parts = append(parts, "action="+event.Action)
	parts = append(parts, "outcome="+event.Outcome)
	if event.Actor != "" {
		parts = append(parts, "actor="+event.Actor)
	}
	if event.Target != "" {
		parts = append(parts, "target="+event.Target)
	}
	if event.Details != "" {
		parts = append(parts, "details="+event.Details)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}

	logInternal(LevelInfo, "AUDIT", nil, "[AUDIT] %s", strings.Join(parts, " "))
}
