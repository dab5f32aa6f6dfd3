package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/mplens/idgen"
	"github.com/hazyhaar/mplens/kit"
)

// RequestID takes the caller's X-Request-ID when it is safe to echo, or
// mints one, and stores it in the context (kit.RequestIDKey), the response
// header and a per-request logger (LoggerKey).
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := idgen.FromHeader(r.Header.Get("X-Request-ID"))
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			ctx = kit.WithTransport(ctx, "http")
			reqLog := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, LoggerKey, reqLog)
			reqLog.Debug("shield: request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
