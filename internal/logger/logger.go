package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where the daemon logs go and how they look.
// With neither File nor Dir set, logs go to stdout.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Color      bool   // colour text output (ignored for json)
	Dir        string // base directory for log files
	File       string // main log file; relative paths are joined to Dir
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func (c Config) mainPath() string {
	switch {
	case c.File != "" && c.Dir != "" && !filepath.IsAbs(c.File):
		return filepath.Join(c.Dir, c.File)
	case c.File != "":
		return c.File
	case c.Dir != "":
		return filepath.Join(c.Dir, "hookd.log")
	}
	return ""
}

// Writer returns a rotating writer for a named auxiliary log, e.g. the
// inbound access log, as Dir/<name>.log. It returns nil when Dir is empty.
func (c Config) Writer(name string) io.WriteCloser {
	if c.Dir == "" {
		return nil
	}
	return c.rotating(filepath.Join(c.Dir, name+".log"))
}

// New builds the daemon logger. The returned closer releases the log file
// and is a no-op for stdout.
func New(c Config) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if p := c.mainPath(); p != "" {
		f := c.rotating(p)
		w, closer = f, f
	}
	return slog.New(NewHandler(w, c)), closer
}

// NewHandler picks the slog handler for c writing to w.
func NewHandler(w io.Writer, c Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	switch {
	case strings.EqualFold(c.Format, "json"):
		return slog.NewJSONHandler(w, opts)
	case c.Color:
		return NewColorTextHandler(w, opts, true)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// ParseLevel maps a level name to slog; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
