package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/DilyaSoft/Time-off-company-manager/internal/config"
)

const serviceName = "timeoff-api"

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, "json", slog.LevelInfo, "dev")
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the shared logger and returns the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := logger
	if l != nil {
		logger = l
	}
	return prev
}

// NewLogger builds a logger from configuration. JSON is the default format.
func NewLogger(cfg config.LoggingConfig, version string) *slog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newLogger(out, cfg.Format, parseLevel(cfg.Level), version)
}

// NewJSONLogger writes JSON lines to w; used by tests to capture output.
func NewJSONLogger(w io.Writer) *slog.Logger {
	return newLogger(w, "json", slog.LevelDebug, "test")
}

func newLogger(w io.Writer, format string, level slog.Level, version string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			if a.Key == slog.LevelKey {
				a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
			}
			return a
		},
	}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
