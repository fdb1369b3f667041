package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for captured tool output and daemon logs.
const (
	DefaultMaxSizeMB  = 50 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 14 // days
)

// Config describes logging destinations for the daemon and for captured
// recorder subprocess output. If Path is empty and Dir is set, the daemon log
// goes to Dir/streamwatch.log. Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`          // base directory for logs
	Path       string `mapstructure:"path"`         // explicit daemon log path, overrides Dir
	Level      string `mapstructure:"level"`        // debug, info, warn, error
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// RecorderWriter returns an io.WriteCloser that captures stdout+stderr of the
// recording subprocess for the named target, rotated by lumberjack. Returns
// nil when no log directory is configured; callers then discard the output.
func (c Config) RecorderWriter(name string) io.WriteCloser {
	if c.Dir == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.Dir, fmt.Sprintf("%s.recorder.log", name)),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// NewSlogger builds the daemon logger: colorized text to stderr, and, when a
// log directory or path is configured, a rotating JSON file alongside it.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.slogLevel()}
	console := newColorTextHandler(os.Stderr, opts)

	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, "streamwatch.log")
	}
	if path == "" {
		return slog.New(console)
	}
	file := slog.NewJSONHandler(&lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, opts)
	return slog.New(fanoutHandler{console, file})
}

func (c Config) slogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// colorTextHandler wraps slog.TextHandler to add ANSI color codes per level.
type colorTextHandler struct {
	*slog.TextHandler
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	return &colorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

func (h *colorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m" // Cyan
	case slog.LevelInfo:
		colorCode = "\033[32m" // Green
	case slog.LevelWarn:
		colorCode = "\033[33m" // Yellow
	case slog.LevelError:
		colorCode = "\033[31m" // Red
	default:
		colorCode = "\033[0m"
	}
	r.Message = colorCode + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// WithAttrs and WithGroup re-wrap so derived loggers keep colorizing.
func (h *colorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorTextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler)}
}

func (h *colorTextHandler) WithGroup(name string) slog.Handler {
	return &colorTextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler)}
}

// fanoutHandler duplicates records to every wrapped handler.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
