package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
)

// Logging emits one structured line per request once the handler returns.
// Server errors are logged at error level with the body excerpt attached.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r, _ = captureBody(r)
		sw := wrapStatus(w)
		next.ServeHTTP(sw, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP(r),
		}
		log := logger.FromContext(r.Context())
		switch {
		case sw.status >= 500:
			log.Error("request failed", append(attrs, "body", BodyExcerpt(r))...)
		case sw.status >= 400:
			log.Warn("request rejected", attrs...)
		default:
			log.Log(r.Context(), slog.LevelInfo, "request served", attrs...)
		}
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
