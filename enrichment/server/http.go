package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/horosafe"
	"github.com/hazyhaar/mplens/kit"
	"github.com/hazyhaar/mplens/shield"
)

var started = time.Now()

// RegisterHTTP mounts the routes on r:
//
//	GET  /api/extension/articles
//	GET  /api/extension/product-info?article=&size=
//	GET  /api/extension/wb/product-info?article=
//	POST /api/extension/rpc/{service}
//	GET  /api/extension/metrics (with WithMetrics)
//	GET  /healthz
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/api/extension/articles", s.handleArticles)
	r.Get("/api/extension/product-info", s.handleProduct(enrichment.ServiceProductInfo))
	r.Get("/api/extension/wb/product-info", s.handleProduct(enrichment.ServiceWBProductInfo))
	r.Post("/api/extension/rpc/{service}", s.handleRPC)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Get("/api/extension/metrics", s.handleMetrics)
	}
}

// handleMetrics summarizes the last 24h of service calls.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.metrics.Summary(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		shield.GetLogger(r.Context()).Warn("server: metrics summary", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "services": stats})
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	status, body := s.dispatch(r.Context(), enrichment.ServiceKnownIdentifiers, nil)
	writeJSON(w, status, body)
}

func (s *Server) handleProduct(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := &enrichment.ProductRequest{Article: q.Get("article"), Size: q.Get("size")}
		status, body := s.dispatch(r.Context(), name, req)
		writeJSON(w, status, body)
	}
}

// handleRPC serves the connectivity HTTP transport. Failures are tagged
// values with status 200, so that the transport only reports transport
// problems as errors.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	if err := horosafe.ValidateIdentifier(name); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if _, ok := s.services[name]; !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: msgUnknown})
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
		return
	}
	ctx := kit.WithTransport(r.Context(), "rpc")
	_, body := s.call(ctx, name, payload)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := s.store.DB().PingContext(r.Context())
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(started).Round(time.Second).String(),
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		shield.GetLogger(r.Context()).Warn("server: health check failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
