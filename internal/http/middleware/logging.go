package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/esplayer/internal/observability"
)

// ConnectionIDHeader reports the player's resource manager connection id.
const ConnectionIDHeader = "X-Connection-ID"

// Logging logs one line per request and hands the handler a request-scoped
// logger through observability.LoggerFromContext. When connectionID is set
// its value is attached to the logger and returned in X-Connection-ID.
//
// Client errors log at warn and server errors at error; the rest at debug.
func Logging(logger *slog.Logger, connectionID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := observability.WithRequestID(logger, observability.RequestIDFromContext(r.Context()))
			if connectionID != nil {
				if id := connectionID(); id != "" {
					w.Header().Set(ConnectionIDHeader, id)
					reqLogger = observability.WithConnectionID(reqLogger, id)
				}
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(observability.ContextWithLogger(r.Context(), reqLogger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLogger.Log(r.Context(), levelFor(status), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("size", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
