package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kkkkikiki/burnpromo/internal/logger"
)

// Logger logs every HTTP request and attaches a request-scoped logger to the
// request context. It expects chi's RequestID to run first.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := r.Context()
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = logger.With(ctx, "request_id", id)
		}
		r = r.WithContext(ctx)

		// Wrap response writer to capture status code
		wrapped := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}

		logger.FromContext(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", wrapped.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("ip", ClientIP(r.RemoteAddr)).
			Str("user_agent", r.UserAgent()).
			Msg("HTTP Request")
	})
}

// ClientIP strips the port from a remote address. chi's RealIP has already
// replaced RemoteAddr with the forwarded address when one was present.
func ClientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(remoteAddr)
}
