package logger

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/rs/zerolog"
)

// Middleware creates HTTP middleware that injects a request logger into context.
// The trace id comes from the client's x-request-id header when present,
// otherwise a fresh one is generated. The id is echoed on the response and
// carried in context for response meta and request logs.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("x-request-id")
			if traceID == "" {
				traceID = generateTraceID()
			}

			w.Header().Set("X-Request-ID", traceID)

			reqLogger := logger.With().
				Str("trace_id", traceID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", ClientIP(r)).
				Logger()

			ctx := WithContext(r.Context(), reqLogger)
			ctx = WithTraceID(ctx, traceID)

			reqLogger.Debug().
				Str("user_agent", r.UserAgent()).
				Msg("request.started")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// generateTraceID creates a cryptographically random trace identifier.
func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "req_fallback"
	}
	return "req_" + hex.EncodeToString(b)
}

// ClientIP extracts the client IP. The edge sets CF-Connecting-IP; proxies
// set X-Forwarded-For; RemoteAddr is the last resort.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
