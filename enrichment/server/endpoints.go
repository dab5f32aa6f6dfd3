package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/enrichment/internal/store"
)

// Messages shown to the extension user.
const (
	msgNoArticle    = "Не указан артикул"
	msgNoOzonTokens = "Нет активных OZON токенов"
	msgNoWBTokens   = "Нет активных WB токенов"
	msgNotFound     = "Товар не найден в базе"
	msgUnknown      = "Неизвестный сервис"
)

// apiError is a failure with the HTTP status the REST API answers with.
type apiError struct {
	Status  int
	Message string
	Err     error
}

func (e *apiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server: %s: %v", e.Message, e.Err)
	}
	return "server: " + e.Message
}

func (e *apiError) Unwrap() error { return e.Err }

// errorBody is the tagged failure value every service answers with.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// failure maps err to a status and a tagged body.
func failure(err error) (int, errorBody) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status, errorBody{Error: ae.Message}
	}
	return http.StatusInternalServerError, errorBody{Error: err.Error()}
}

func decodeProductRequest(payload []byte) (any, error) {
	var req enrichment.ProductRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}
	return &req, nil
}

func (s *Server) knownIdentifiers(ctx context.Context, _ any) (any, error) {
	articles, err := s.Articles(ctx)
	if err != nil {
		return nil, err
	}
	return &enrichment.KnownIdentifiers{Success: true, Articles: articles, Count: len(articles)}, nil
}

func (s *Server) productInfo(ctx context.Context, req any) (any, error) {
	r, _ := req.(*enrichment.ProductRequest)
	if r == nil || strings.TrimSpace(r.Article) == "" {
		return nil, &apiError{Status: http.StatusBadRequest, Message: msgNoArticle}
	}
	info, err := s.store.OzonProductInfo(ctx, strings.TrimSpace(r.Article), strings.TrimSpace(r.Size))
	switch {
	case errors.Is(err, store.ErrNoTokens):
		return nil, &apiError{Status: http.StatusNotFound, Message: msgNoOzonTokens, Err: err}
	case err != nil:
		return nil, err
	}
	return &enrichment.OzonResponse{Success: true, OzonInfo: info}, nil
}

func (s *Server) wbProductInfo(ctx context.Context, req any) (any, error) {
	r, _ := req.(*enrichment.ProductRequest)
	if r == nil || strings.TrimSpace(r.Article) == "" {
		return nil, &apiError{Status: http.StatusBadRequest, Message: msgNoArticle}
	}
	info, err := s.store.WBProductInfo(ctx, strings.TrimSpace(r.Article))
	switch {
	case errors.Is(err, store.ErrNoTokens):
		return nil, &apiError{Status: http.StatusNotFound, Message: msgNoWBTokens, Err: err}
	case errors.Is(err, store.ErrNotFound):
		return nil, &apiError{Status: http.StatusNotFound, Message: msgNotFound, Err: err}
	case err != nil:
		return nil, err
	}
	return &enrichment.WBResponse{Success: true, WBInfo: info}, nil
}

// dispatch runs service on an already decoded request. The body is the
// success value or a tagged errorBody.
func (s *Server) dispatch(ctx context.Context, name string, req any) (int, any) {
	svc, ok := s.services[name]
	if !ok {
		return http.StatusNotFound, errorBody{Error: msgUnknown}
	}
	resp, err := svc.endpoint(ctx, req)
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, resp
}

// call decodes payload for service name and dispatches it.
func (s *Server) call(ctx context.Context, name string, payload []byte) (int, any) {
	svc, ok := s.services[name]
	if !ok {
		return http.StatusNotFound, errorBody{Error: msgUnknown}
	}
	req, err := svc.decode(payload)
	if err != nil {
		return http.StatusBadRequest, errorBody{Error: err.Error()}
	}
	return s.dispatch(ctx, name, req)
}
