// Package logging configures the process-wide slog logger: JSON records on
// stdout and, when a log file is configured, text records in a rotating file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and the optional log file.
type Options struct {
	Level string
	File  string
	// Debug forces debug level regardless of Level.
	Debug bool
	// Console defaults to os.Stdout.
	Console io.Writer
}

// ParseLevel maps a level name to slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the logger. The returned closer releases the log file and is
// never nil.
func New(opts Options) (*slog.Logger, io.Closer) {
	lvl := ParseLevel(opts.Level)
	if opts.Debug {
		lvl = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	handlers := []slog.Handler{slog.NewJSONHandler(console, handlerOpts)}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		}
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
		closer = file
	}

	return slog.New(NewMultiHandler(handlers...)), closer
}

// Setup installs the logger as the slog default.
func Setup(opts Options) io.Closer {
	logger, closer := New(opts)
	slog.SetDefault(logger)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
