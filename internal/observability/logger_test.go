package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplayer/internal/config"
)

func newBufferedLogger(cfg config.LoggingConfig) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLoggerWithWriter(cfg, &buf), &buf
}

func TestNewLogger_JSONFormat(t *testing.T) {
	logger, buf := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json"})
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger, buf := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "text"})
	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"warning is warn", "warning", slog.LevelWarn, true},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"trace logs trace", "trace", LevelTrace, true},
		{"debug does not log trace", "debug", LevelTrace, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newBufferedLogger(config.LoggingConfig{Level: tt.configLevel, Format: "json"})
			logger.Log(context.Background(), tt.logLevel, "test")
			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelDisplay(t *testing.T) {
	logger, buf := newBufferedLogger(config.LoggingConfig{Level: "trace", Format: "json"})
	logger.Log(context.Background(), LevelTrace, "feed buffer")

	assert.Contains(t, buf.String(), `"level":"TRACE"`)
	assert.NotContains(t, buf.String(), "DEBUG-4")
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	logger, buf := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json", TimeFormat: time.DateOnly})
	logger.Info("dated")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	_, err := time.Parse(time.DateOnly, parsed["time"].(string))
	assert.NoError(t, err)
}

func TestWithHelpers(t *testing.T) {
	logger, buf := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json"})

	enriched := WithStream(
		WithApp(
			WithOperation(
				WithComponent(logger, "player"),
				"load"),
			"com.example.tv"),
		"video")
	enriched = WithError(enriched, errors.New("tunnel failed"))
	enriched.Info("chained")

	output := buf.String()
	assert.Contains(t, output, `"component":"player"`)
	assert.Contains(t, output, `"operation":"load"`)
	assert.Contains(t, output, `"app_id":"com.example.tv"`)
	assert.Contains(t, output, `"stream":"video"`)
	assert.Contains(t, output, `"error":"tunnel failed"`)
}

func TestWithError_Nil(t *testing.T) {
	logger, _ := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json"})
	assert.Same(t, logger, WithError(logger, nil))
	assert.Same(t, logger, WithApp(logger, ""))
}

func TestConnectionIDRedaction(t *testing.T) {
	const id = "5f0c1a2b3c4d5e6f"

	t.Run("visible by default", func(t *testing.T) {
		logger, buf := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json"})
		WithConnectionID(logger, id).Info("acquired")
		assert.Contains(t, buf.String(), id)
	})

	t.Run("masked when redacting", func(t *testing.T) {
		logger, buf := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json", Redact: true})
		WithApp(WithConnectionID(logger, id), "com.example.tv").Info("acquired")
		assert.NotContains(t, buf.String(), id)
		assert.NotContains(t, buf.String(), "com.example.tv")
		assert.Contains(t, buf.String(), RedactedMarker)
	})
}

func TestSecretsAlwaysMasked(t *testing.T) {
	logger, buf := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json"})
	logger.Info("database opened",
		slog.String("dsn", "postgres://user:hunter2@db/esplayer"),
		slog.String("driver", "postgres"))

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "postgres")
}

func TestContextWithLogger(t *testing.T) {
	logger, _ := newBufferedLogger(config.LoggingConfig{Level: "info", Format: "json"})
	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}

func TestContextWithRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}
