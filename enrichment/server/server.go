// Package server is the enrichment backend: it answers the overlay's
// known-identifier and product-info lookups from the statistics store, over
// REST (the browser extension API), JSON RPC for the connectivity HTTP
// transport, MCP tools, and in-process connectivity handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/enrichment/internal/store"
	"github.com/hazyhaar/mplens/kit"
	"github.com/hazyhaar/mplens/observability"
	"github.com/hazyhaar/mplens/shield"
	"github.com/hazyhaar/mplens/watch"
)

// Version is reported by /healthz and the MCP implementation.
const Version = "0.3.0"

type service struct {
	endpoint kit.Endpoint
	decode   func([]byte) (any, error)
}

// Server serves one statistics store.
type Server struct {
	store    *store.Store
	logger   *slog.Logger
	metrics  *observability.MetricsManager
	traceSQL bool

	services map[string]service

	flight   singleflight.Group
	mu       sync.RWMutex
	articles []string // nil until loaded
	gen      atomic.Uint64
	loads    atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records every service call in mm and serves a summary at
// GET /api/extension/metrics.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(s *Server) { s.metrics = mm }
}

// WithSQLTrace makes Open use the tracing SQLite driver.
func WithSQLTrace() Option {
	return func(s *Server) { s.traceSQL = true }
}

// New creates a Server over st.
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{store: st, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.services = map[string]service{
		enrichment.ServiceKnownIdentifiers: {
			endpoint: s.instrument(enrichment.ServiceKnownIdentifiers, s.knownIdentifiers),
			decode:   func([]byte) (any, error) { return nil, nil },
		},
		enrichment.ServiceProductInfo: {
			endpoint: s.instrument(enrichment.ServiceProductInfo, s.productInfo),
			decode:   decodeProductRequest,
		},
		enrichment.ServiceWBProductInfo: {
			endpoint: s.instrument(enrichment.ServiceWBProductInfo, s.wbProductInfo),
			decode:   decodeProductRequest,
		},
	}
	return s
}

func (s *Server) instrument(name string, e kit.Endpoint) kit.Endpoint {
	mws := []kit.Middleware{kit.Logging(s.logger, name)}
	if s.metrics != nil {
		mws = append(mws, observability.Middleware(s.metrics, name))
	}
	return kit.Chain(mws...)(e)
}

// Handler returns the full HTTP surface: the extension API, the RPC
// endpoint, /healthz and the MCP streamable endpoint at /mcp.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.logger) {
		r.Use(mw)
	}
	s.RegisterHTTP(r)

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "mplens", Version: Version}, nil)
	s.RegisterMCP(mcpSrv)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	return r
}

// Articles returns the seller's vendor codes. The list is read from the
// store once and cached until InvalidateArticles; concurrent misses share
// one query.
func (s *Server) Articles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	cached := s.articles
	s.mu.RUnlock()
	if cached != nil {
		return slices.Clone(cached), nil
	}

	v, err, shared := s.flight.Do("articles", func() (any, error) {
		gen := s.gen.Load()
		list, err := s.store.Articles(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.loads.Add(1)
		s.mu.Lock()
		if s.gen.Load() == gen {
			s.articles = list
		}
		s.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.DebugContext(ctx, "server: articles load shared")
	}
	return slices.Clone(v.([]string)), nil
}

// InvalidateArticles drops the cached article list. A load already in
// flight finishes for its callers but is not cached.
func (s *Server) InvalidateArticles() {
	s.mu.Lock()
	s.articles = nil
	s.gen.Add(1)
	s.mu.Unlock()
	s.flight.Forget("articles")
}

// ArticleLoads counts store reads of the article list.
func (s *Server) ArticleLoads() int64 { return s.loads.Load() }

// Watch invalidates the article list whenever the store changes, until ctx
// is done.
func (s *Server) Watch(ctx context.Context, opts watch.Options) {
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	watch.New(s.store.DB(), opts).Run(ctx, func(context.Context) error {
		s.InvalidateArticles()
		s.logger.Info("server: article list invalidated")
		return nil
	})
}
