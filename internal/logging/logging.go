// Package logging builds the process slog.Logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rickgao/feedsync/internal/config"
)

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FilePath returns the log file to open. Unless RewriteLastLogs is set, every
// run gets its own file named after the start time.
func FilePath(cfg config.LoggingConfig, now time.Time) string {
	if cfg.RewriteLastLogs {
		return cfg.File
	}
	base := strings.TrimSuffix(cfg.File, ".log")
	return fmt.Sprintf("%s-%s.log", base, now.Format("2006-01-02_15-04-05"))
}

// New builds a logger writing to stdout and, when SaveLogs is set, to a file.
// The returned closer releases the file and is never nil.
func New(cfg config.LoggingConfig, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	out := stdout

	if cfg.SaveLogs {
		path := FilePath(cfg, time.Now())
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, fmt.Errorf("create log file: %w", err)
		}
		out = io.MultiWriter(stdout, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
