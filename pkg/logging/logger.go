// Package logging provides the structured logger used across crossfed.
package logging

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a leveled, structured logger.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Level represents the logging level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of Level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a string to Level
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error", "err":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Format represents the output format
type Format int

const (
	ConsoleFormat Format = iota
	JSONFormat
)

// ParseFormat parses a string to Format
func ParseFormat(format string) Format {
	if strings.EqualFold(format, "json") {
		return JSONFormat
	}
	return ConsoleFormat
}

// Field is a typed key/value pair attached to a log entry.
type Field interface {
	apply(event *zerolog.Event) *zerolog.Event
	context(ctx zerolog.Context) zerolog.Context
}

type (
	stringField struct {
		key   string
		value string
	}
	intField struct {
		key   string
		value int64
	}
	uintField struct {
		key   string
		value uint64
	}
	boolField struct {
		key   string
		value bool
	}
	durationField struct {
		key   string
		value time.Duration
	}
	timeField struct {
		key   string
		value time.Time
	}
	errorField struct {
		value error
	}
)

// Field constructors
func String(key, value string) Field { return stringField{key, value} }

func Int(key string, value int) Field { return intField{key, int64(value)} }

func Int64(key string, value int64) Field { return intField{key, value} }

func Uint64(key string, value uint64) Field { return uintField{key, value} }

func Bool(key string, value bool) Field { return boolField{key, value} }

func Duration(key string, value time.Duration) Field { return durationField{key, value} }

func Time(key string, value time.Time) Field { return timeField{key, value} }

func Err(err error) Field { return errorField{err} }

func (f stringField) apply(e *zerolog.Event) *zerolog.Event   { return e.Str(f.key, f.value) }
func (f intField) apply(e *zerolog.Event) *zerolog.Event      { return e.Int64(f.key, f.value) }
func (f uintField) apply(e *zerolog.Event) *zerolog.Event     { return e.Uint64(f.key, f.value) }
func (f boolField) apply(e *zerolog.Event) *zerolog.Event     { return e.Bool(f.key, f.value) }
func (f durationField) apply(e *zerolog.Event) *zerolog.Event { return e.Dur(f.key, f.value) }
func (f timeField) apply(e *zerolog.Event) *zerolog.Event     { return e.Time(f.key, f.value) }
func (f errorField) apply(e *zerolog.Event) *zerolog.Event    { return e.Err(f.value) }

func (f stringField) context(c zerolog.Context) zerolog.Context   { return c.Str(f.key, f.value) }
func (f intField) context(c zerolog.Context) zerolog.Context      { return c.Int64(f.key, f.value) }
func (f uintField) context(c zerolog.Context) zerolog.Context     { return c.Uint64(f.key, f.value) }
func (f boolField) context(c zerolog.Context) zerolog.Context     { return c.Bool(f.key, f.value) }
func (f durationField) context(c zerolog.Context) zerolog.Context { return c.Dur(f.key, f.value) }
func (f timeField) context(c zerolog.Context) zerolog.Context     { return c.Time(f.key, f.value) }
func (f errorField) context(c zerolog.Context) zerolog.Context    { return c.Err(f.value) }
