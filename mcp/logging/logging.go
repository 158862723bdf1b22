// Package logging adapts zerolog to the RFC 5424 severity scale the
// protocol's logging/setLevel method operates on. zerolog only has five
// built-in levels, so notice/critical/alert/emergency are mapped onto its
// custom-level extension points rather than approximated by an existing
// level, keeping severity(l) ordering exact.
package logging

import (
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/fyrsmith/mcpd/mcp/schema"
)

// zerolog has Trace(-1)..Panic(5); the four syslog-only levels are given
// unused integer slots above zerolog's own range. These values only label
// the written event: Log filters by RFC 5424 severity before handing the
// event to zerolog, so their numeric order next to zerolog's own levels
// plays no part in which events are written.
const (
	zNotice   = zerolog.Level(10)
	zCritical = zerolog.Level(11)
	zAlert    = zerolog.Level(12)
	zEmerg    = zerolog.Level(13)
)

var toZerolog = map[schema.LogLevel]zerolog.Level{
	schema.LogDebug:     zerolog.DebugLevel,
	schema.LogInfo:      zerolog.InfoLevel,
	schema.LogNotice:    zNotice,
	schema.LogWarning:   zerolog.WarnLevel,
	schema.LogError:     zerolog.ErrorLevel,
	schema.LogCritical:  zCritical,
	schema.LogAlert:     zAlert,
	schema.LogEmergency: zEmerg,
}

// Logger writes structured events through zerolog, filtered by a minimum
// RFC 5424 severity that logging/setLevel can change at runtime.
type Logger struct {
	zl       zerolog.Logger
	minLevel atomic.Int32
}

// New creates a Logger writing JSON lines to w (os.Stderr is the correct
// choice for the standard I/O transport, which owns stdout).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
	l.minLevel.Store(int32(schema.LogInfo.Severity()))
	return l
}

// SetLevel sets the minimum severity below which Log is a no-op.
func (l *Logger) SetLevel(level schema.LogLevel) error {
	if !level.Valid() {
		return errInvalidLevel(level)
	}
	l.minLevel.Store(int32(level.Severity()))
	return nil
}

// Level returns the current minimum severity.
func (l *Logger) Level() schema.LogLevel {
	for lvl, rank := range severityToLevel {
		if rank == int(l.minLevel.Load()) {
			return lvl
		}
	}
	return schema.LogInfo
}

var severityToLevel = map[schema.LogLevel]int{
	schema.LogDebug: 0, schema.LogInfo: 1, schema.LogNotice: 2, schema.LogWarning: 3,
	schema.LogError: 4, schema.LogCritical: 5, schema.LogAlert: 6, schema.LogEmergency: 7,
}

type errInvalidLevel schema.LogLevel

func (e errInvalidLevel) Error() string {
	return "logging: invalid level: " + string(e)
}

// Log records an event at level if it meets the current minimum severity.
func (l *Logger) Log(_ context.Context, level schema.LogLevel, message string, fields map[string]interface{}) {
	if level.Severity() < int(l.minLevel.Load()) {
		return
	}
	zl, ok := toZerolog[level]
	if !ok {
		zl = zerolog.InfoLevel
	}
	ev := l.zl.WithLevel(zl)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}
