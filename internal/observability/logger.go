// Package observability provides structured logging for esplayer.
package observability

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/esplayer/internal/config"
)

// LevelTrace is below debug and carries per-buffer feed detail.
const LevelTrace = slog.Level(-8)

// RedactedMarker replaces masked attribute values.
const RedactedMarker = "[REDACTED]"

// Attribute keys shared by the player, resource manager and HTTP layers.
const (
	KeyComponent    = "component"
	KeyOperation    = "operation"
	KeyError        = "error"
	KeyApp          = "app_id"
	KeyStream       = "stream"
	KeyConnectionID = "connection_id"
	KeyRequestID    = "request_id"
)

// secretKeys are always masked.
var secretKeys = []string{"password", "Password", "secret", "Secret", "token", "Token", "dsn", "DSN"}

// NewLoggerWithWriter builds the process logger from cfg, writing to w.
// Secret-like attributes are always masked; connection and application ids
// are masked too when cfg.Redact is set.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr(cfg),
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func replaceAttr(cfg config.LoggingConfig) func([]string, slog.Attr) slog.Attr {
	keys := secretKeys
	if cfg.Redact {
		keys = append(append([]string{}, keys...), KeyConnectionID, KeyApp)
	}
	masqOpts := []masq.Option{masq.WithRedactMessage(RedactedMarker)}
	for _, k := range keys {
		masqOpts = append(masqOpts, masq.WithFieldName(k))
	}
	redact := masq.New(masqOpts...)

	return func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			if len(groups) == 0 && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		case slog.LevelKey:
			if len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			return a
		}
		return redact(groups, a)
	}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
