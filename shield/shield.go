// Package shield holds the HTTP middleware of the enrichment API: CORS for
// pages that call it from the browser, security headers, request IDs with a
// per-request logger, and body limits.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key of the per-request logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the middleware of the extension API, outermost first:
// HeadToGet, CORS, SecurityHeaders, RequestID, MaxBody (64 KiB).
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		CORS(DefaultCORS()),
		SecurityHeaders(DefaultHeaders()),
		RequestID(logger),
		MaxBody(64 << 10),
	}
}
