// Package logger defines the structured logging contract used across the SDK.
// Every component receives a Logger explicitly; nothing logs through a global.
package logger

import "time"

// Logger is the structured logging contract shared by sessions, tasks and the scheduler.
type Logger interface {
	Info() LogEvent
	Error() LogEvent
	Debug() LogEvent
	Warn() LogEvent
	WithFields(fields map[string]any) Logger
}

// LogEvent is a log entry under construction. Fields are added with the typed
// setters and the entry is emitted by Msg or Msgf.
type LogEvent interface {
	Msg(msg string)
	Msgf(format string, args ...any)
	Err(err error) LogEvent
	Str(key, value string) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Bool(key string, value bool) LogEvent
	Dur(key string, d time.Duration) LogEvent
	Interface(key string, i any) LogEvent
}
