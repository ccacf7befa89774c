package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the configuration for the logger
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
	// File enables rotated file output in addition to Output.
	File *FileConfig
}

// FileConfig holds file rotation configuration
type FileConfig struct {
	Filename   string // File path
	MaxSize    int    // Maximum size in megabytes
	MaxAge     int    // Maximum age in days
	MaxBackups int    // Maximum number of backup files
	Compress   bool   // Whether to compress rotated files
}

// DefaultFileConfig returns a default file configuration
func DefaultFileConfig(filename string) *FileConfig {
	return &FileConfig{
		Filename:   filename,
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 10,
		Compress:   true,
	}
}

type zerologLogger struct {
	logger zerolog.Logger
}

// New creates a zerolog-backed Logger.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == ConsoleFormat {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	writers := []io.Writer{out}
	if cfg.File != nil {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Filename), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		} else {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.File.Filename,
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
				LocalTime:  true,
			})
		}
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	return &zerologLogger{
		logger: zerolog.New(w).Level(cfg.Level.zerolog()).With().Timestamp().Logger(),
	}
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

func (l *zerologLogger) log(e *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		e = f.apply(e)
	}
	e.Msg(msg)
}

func (l *zerologLogger) Debug(msg string, fields ...Field) { l.log(l.logger.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...Field)  { l.log(l.logger.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...Field)  { l.log(l.logger.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...Field) { l.log(l.logger.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...Field) Logger {
	ctx := l.logger.With()
	for _, f := range fields {
		ctx = f.context(ctx)
	}
	return &zerologLogger{logger: ctx.Logger()}
}
