package connectivity

import (
	"context"
	"log/slog"
)

// WithFallback answers from local when the remote handler fails, so an
// overlay keeps working off the embedded backend while the shared one is
// down. A nil local disables it. A done context is not a remote failure
// and is returned as is.
func WithFallback(local Handler, service string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		if local == nil {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err == nil || ctx.Err() != nil {
				return resp, err
			}
			if logger != nil {
				logger.WarnContext(ctx, "connectivity: remote failed, falling back to local",
					"service", service, "remote_error", err)
			}
			return local(ctx, payload)
		}
	}
}
