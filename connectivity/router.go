// Package connectivity routes named service calls either to an in-process
// handler or to a remote transport, as decided by the route table in the
// configuration. The overlay engine only ever sees Call: whether the
// enrichment backend runs in the same binary or behind HTTP/MCP is a
// config change.
//
//	router := connectivity.New()
//	router.RegisterTransport("http", connectivity.HTTPFactory(connectivity.WithAllowPrivate()))
//	srv.RegisterConnectivity(router) // local handlers
//	router.Apply(cfg.Routes)         // remote routes win over local ones
//
//	resp, err := router.Call(ctx, "mplens_product_info", payload)
package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint. config is the
// route's transport-specific JSON. The close func, if any, runs when the
// route is removed or replaced.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

// Route is one entry of the route table.
type Route struct {
	Service  string
	Strategy string // "local", "noop", or a registered transport name
	Endpoint string
	Config   json.RawMessage

	// Resilience applied around the remote handler.
	Timeout  time.Duration
	Retries  int
	Backoff  time.Duration
	Breaker  int  // consecutive failures that open the breaker; 0 disables it
	Fallback bool // fall back to the local handler when the remote fails
}

// fingerprint changes whenever the route needs a new handler.
func (rt Route) fingerprint() string {
	b, _ := json.Marshal(struct {
		S, E     string
		C        json.RawMessage
		T, B     time.Duration
		R, K     int
		Fallback bool
	}{rt.Strategy, rt.Endpoint, rt.Config, rt.Timeout, rt.Backoff, rt.Retries, rt.Breaker, rt.Fallback})
	return string(b)
}

type remoteEntry struct {
	handler Handler
	close   func()
	breaker *CircuitBreaker
}

// Router dispatches service calls. Safe for concurrent use; Apply may run
// while calls are in flight.
type Router struct {
	mu            sync.RWMutex
	localHandlers map[string]Handler
	remoteEntries map[string]remoteEntry
	routes        map[string]Route
	factories     map[string]TransportFactory
	logger        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router with no routes.
func New(opts ...Option) *Router {
	r := &Router{
		localHandlers: make(map[string]Handler),
		remoteEntries: make(map[string]remoteEntry),
		routes:        make(map[string]Route),
		factories:     make(map[string]TransportFactory),
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-process handler for service. Local handlers
// are wrapped with Recovery so a panicking handler yields *ErrPanic.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.localHandlers[service] = Recovery(r.logger)(h)
	r.mu.Unlock()
}

// RegisterTransport registers the factory used by routes whose Strategy is
// protocol.
func (r *Router) RegisterTransport(protocol string, f TransportFactory) {
	r.mu.Lock()
	r.factories[protocol] = f
	r.mu.Unlock()
}

// Call dispatches a service call: a noop route returns (nil, nil), a remote
// route wins over a local handler, and a service with neither fails with
// *ErrServiceNotFound.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	entry, hasRemote := r.remoteEntries[service]
	local := r.localHandlers[service]
	rt, hasRoute := r.routes[service]
	r.mu.RUnlock()

	if hasRoute && rt.Strategy == "noop" {
		r.logger.DebugContext(ctx, "connectivity: noop", "service", service)
		return nil, nil
	}
	if hasRemote {
		r.logger.DebugContext(ctx, "connectivity: remote",
			"service", service, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
		return entry.handler(ctx, payload)
	}
	if local != nil {
		r.logger.DebugContext(ctx, "connectivity: local", "service", service)
		return local(ctx, payload)
	}
	return nil, &ErrServiceNotFound{Service: service}
}

// Apply replaces the route table. Handlers of unchanged routes are kept,
// so their connections and breaker state survive. Routes whose transport
// cannot be built are skipped and reported in the joined error; the rest
// of the table still applies.
func (r *Router) Apply(routes []Route) error {
	next := make(map[string]Route, len(routes))
	for _, rt := range routes {
		next[rt.Service] = rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	entries := make(map[string]remoteEntry, len(next))
	kept := make(map[string]bool)
	for name, rt := range next {
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if old, ok := r.routes[name]; ok && old.fingerprint() == rt.fingerprint() {
			if existing, ok := r.remoteEntries[name]; ok {
				entries[name] = existing
				kept[name] = true
				continue
			}
		}

		factory, ok := r.factories[rt.Strategy]
		if !ok {
			r.logger.Warn("connectivity: no transport factory", "service", name, "strategy", rt.Strategy)
			errs = append(errs, &ErrNoFactory{Service: name, Strategy: rt.Strategy})
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			r.logger.Error("connectivity: factory failed",
				"service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint, "error", err)
			errs = append(errs, &ErrFactoryFailed{Service: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		entries[name] = r.wrap(rt, h, closeFn)
		r.logger.Info("connectivity: route built",
			"service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remoteEntries {
		if !kept[name] && old.close != nil {
			old.close()
		}
	}

	r.remoteEntries = entries
	r.routes = next
	r.logger.Info("connectivity: routes applied", "total", len(next), "remote", len(entries))
	return errors.Join(errs...)
}

// wrap applies the route's resilience settings, outermost first:
// fallback, retry, breaker, timeout, recovery.
func (r *Router) wrap(rt Route, h Handler, closeFn func()) remoteEntry {
	e := remoteEntry{close: closeFn}
	var mws []HandlerMiddleware
	if rt.Fallback {
		mws = append(mws, WithFallback(r.localHandlers[rt.Service], rt.Service, r.logger))
	}
	if rt.Retries > 0 {
		mws = append(mws, WithRetry(rt.Retries, rt.Backoff, r.logger))
	}
	if rt.Breaker > 0 {
		e.breaker = NewCircuitBreaker(WithBreakerThreshold(rt.Breaker))
		mws = append(mws, WithCircuitBreaker(e.breaker, rt.Service))
	}
	if rt.Timeout > 0 {
		mws = append(mws, Timeout(rt.Service, rt.Timeout))
	}
	mws = append(mws, Recovery(r.logger), Logging(r.logger.With("service", rt.Service)))
	e.handler = Chain(mws...)(h)
	return e
}

// Close shuts down all remote handlers and forgets the route table.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.remoteEntries {
		if entry.close != nil {
			entry.close()
		}
	}
	r.remoteEntries = make(map[string]remoteEntry)
	r.routes = make(map[string]Route)
	return nil
}
