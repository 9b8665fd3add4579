// Package agentlog builds the process-wide slog.Logger, following the
// teacher's internal/logger package (itself a log/slog wrapper) extended
// with lumberjack-backed rotation per spec.md's
// logging{max_size_bytes,backup_count} policy.
package agentlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sai-cam/agentd/internal/agentconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// correlationIDKey is the context key used to thread a request/connection
// correlation id (see NewCorrelationID) through to every log line emitted
// while handling it.
type correlationIDKey struct{}

// WithCorrelationID returns a context carrying id for downstream logging.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID extracts the id set by WithCorrelationID, or "" if none.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey{}).(string)
	return v
}

// correlationHandler wraps a slog.Handler to inject "correlation_id" from
// the context into every record that carries one.
type correlationHandler struct {
	slog.Handler
}

func (h correlationHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationID(ctx); id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return correlationHandler{h.Handler.WithAttrs(attrs)}
}

func (h correlationHandler) WithGroup(name string) slog.Handler {
	return correlationHandler{h.Handler.WithGroup(name)}
}

// New builds the slog.Logger described by cfg.Logging: a rotating file
// sink under log_dir/log_file, plus a console sink when stdout is a TTY or
// SAI_CAM_CONSOLE_LOG=1 is set (teacher's TTY-heuristic pattern,
// generalized to an env override for headless test harnesses and systemd
// units that still want console capture).
func New(cfg agentconfig.Logging) (*slog.Logger, *slog.LevelVar, func() error, error) {
	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(cfg.Level))

	var writers []io.Writer

	if cfg.LogDir != "" && cfg.LogFile != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.LogDir + "/" + cfg.LogFile,
			MaxSize:    maxSizeMB(cfg.MaxSizeBytes),
			MaxBackups: cfg.BackupCount,
			Compress:   true,
		}
		writers = append(writers, lj)
	}

	if isTTY(os.Stdout) || os.Getenv("SAI_CAM_CONSOLE_LOG") == "1" {
		writers = append(writers, os.Stdout)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	out := io.MultiWriter(writers...)
	base := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: levelVar})
	logger := slog.New(correlationHandler{base})

	closer := func() error {
		for _, w := range writers {
			if lj, ok := w.(*lumberjack.Logger); ok {
				return lj.Close()
			}
		}
		return nil
	}

	return logger, levelVar, closer, nil
}

// SetLevel parses s and applies it to levelVar live, backing the
// ControlPortal's /api/log_level write route (spec.md §4.7) and the
// logging.level entry in the SIGHUP reload whitelist (spec.md §4.5).
func SetLevel(levelVar *slog.LevelVar, s string) error {
	switch s {
	case "DEBUG", "debug", "INFO", "info", "WARNING", "WARN", "warn", "warning", "ERROR", "error":
		levelVar.Set(parseLevel(s))
		return nil
	default:
		return fmt.Errorf("agentlog: unknown level %q", s)
	}
}

func maxSizeMB(bytes int64) int {
	mb := int(bytes / (1024 * 1024))
	if mb < 1 {
		mb = 1
	}
	return mb
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARNING", "WARN", "warn", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isTTY reports whether f looks like an interactive terminal. Kept minimal
// (no golang.org/x/term dependency): a character device that isn't /dev/null
// is treated as a TTY, matching the teacher's heuristic.
func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		return false
	}
	if null, err := os.Stat(os.DevNull); err == nil && os.SameFile(fi, null) {
		return false
	}
	return true
}
