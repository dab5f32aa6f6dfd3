// Package overlay is the identifier recognition and hover session engine.
//
// An Engine owns one document and runs every state change on a single
// event loop: scanning, known-identifier reloads, hover sessions and their
// timers. Hosts feed it document mutations through Do and pointer events
// through Pointer, and receive tooltips through a Presenter.
//
//	eng := overlay.New("www.ozon.ru", doc, client, presenter, overlay.Config{})
//	eng.Start(ctx)
//	defer eng.Stop()
//	eng.Pointer(dom.Event{Type: dom.MouseEnter, Target: el, X: x, Y: y})
package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/mplens/dom"
	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/idgen"
	"github.com/hazyhaar/mplens/marketplace"
	"github.com/hazyhaar/mplens/overlay/internal/enrichcache"
	"github.com/hazyhaar/mplens/overlay/internal/hover"
	"github.com/hazyhaar/mplens/overlay/internal/knownset"
	"github.com/hazyhaar/mplens/overlay/internal/loop"
	"github.com/hazyhaar/mplens/overlay/internal/scanner"
	"github.com/hazyhaar/mplens/render"
)

// ErrInactive is returned by operations that need a marketplace profile on
// an inert engine.
var ErrInactive = errors.New("overlay: engine inactive for this host")

// ErrStopped is returned by loop operations after Stop.
var ErrStopped = errors.New("overlay: engine stopped")

// Engine is the overlay for one page.
type Engine struct {
	id      string
	host    string
	profile marketplace.Profile
	doc     *dom.Document
	cfg     Config
	logger  *slog.Logger

	loop  *loop.Loop
	sched loop.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	fetch   enrichcache.FetchFunc
	known   *knownset.Set
	keeper  *knownset.Keeper
	cache   *enrichcache.Cache
	scanner *scanner.Scanner
	hover   *hover.Controller

	mu      sync.Mutex
	started bool
	stopped bool
	ready   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// withScheduler runs the engine on s instead of its own loop. Callers must
// then invoke every method from one goroutine.
func withScheduler(s loop.Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// New builds an engine for the page at host. An unknown host yields an
// inert engine: Active is false and Start and Stop do nothing.
func New(host string, doc *dom.Document, svc enrichment.Service, presenter Presenter, cfg Config, opts ...Option) *Engine {
	cfg.defaults()
	e := &Engine{
		id:     idgen.Engine(),
		host:   host,
		doc:    doc,
		cfg:    cfg,
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("engine", e.id)

	e.profile = marketplace.Detect(host)
	if cfg.Marketplace != "" {
		p, err := marketplace.ByID(marketplace.ID(cfg.Marketplace))
		if err != nil {
			e.logger.Warn("overlay: configured marketplace ignored", "marketplace", cfg.Marketplace, "error", err)
		} else {
			e.profile = p
		}
	}
	if e.profile == nil {
		return e
	}

	if e.sched == nil {
		e.loop = loop.New(loop.WithLogger(e.logger))
		e.sched = e.loop
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.fetch = enrichcache.ServiceFetch(svc)
	e.known = knownset.New(e.profile, svc)
	e.cache = enrichcache.New(e.ctx,
		enrichcache.WithRetryErrors(cfg.RetryErrors),
		enrichcache.WithLogger(e.logger))
	e.scanner = scanner.New(doc, e.profile, e.known, e.sched, scanner.Config{
		Debounce:       cfg.ScanDebounce,
		Interval:       cfg.ScanInterval,
		MaxBurst:       cfg.ScanMaxBurst,
		HighlightClass: cfg.HighlightClass,
		RootSelectors:  cfg.RootSelectors,
	}, scanner.WithLogger(e.logger))
	e.hover = hover.New(e.sched, e.profile, e.cache, e.fetch, presenter,
		e.scanner.Annotation,
		hover.WithDelay(cfg.HoverDelay),
		hover.WithLogger(e.logger))
	e.scanner.SetHandlers(scanner.Handlers{
		Enter: e.hover.Enter,
		Leave: e.hover.Leave,
		Move:  e.hover.Move,
	})
	e.keeper = knownset.NewKeeper(e.known, e.sched,
		knownset.WithBackoff(cfg.LoadBackoff),
		knownset.WithRefresh(cfg.RefreshInterval),
		knownset.WithLogger(e.logger),
		knownset.WithOnReady(e.onReady))
	return e
}

// ID returns the engine instance ID.
func (e *Engine) ID() string { return e.id }

// Active reports whether the host matched a marketplace.
func (e *Engine) Active() bool { return e.profile != nil }

// Profile returns the active profile, nil when inert.
func (e *Engine) Profile() marketplace.Profile { return e.profile }

// Document returns the engine's document. Mutate it only through Do.
func (e *Engine) Document() *dom.Document { return e.doc }

// Start launches the loop, the known-identifier keeper and the scanner
// watch. ctx bounds the loop; Stop ends everything earlier.
func (e *Engine) Start(ctx context.Context) {
	if !e.Active() {
		e.logger.Info("overlay: inactive, unknown host", "host", e.host)
		return
	}
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	context.AfterFunc(ctx, e.cancel)
	e.logger.Info("overlay: starting", "host", e.host, "marketplace", e.profile.ID())

	if e.loop != nil {
		go e.loop.Run(e.ctx)
	}
	e.run(func() {
		e.keeper.Start(e.ctx)
		e.scanner.Watch()
	})
}

// Stop halts timers and hides any tooltip. The engine cannot be restarted.
func (e *Engine) Stop() {
	if !e.Active() {
		e.logger.Info("overlay: inactive, nothing to stop", "host", e.host)
		return
	}
	e.mu.Lock()
	if !e.started || e.stopped {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.run(func() {
		e.keeper.Stop()
		e.scanner.Stop()
		e.hover.Reset()
	})

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()
	if e.loop != nil {
		<-e.loop.Done()
	}
	e.logger.Info("overlay: stopped", "annotated", e.scanner.Annotations().Len())
}

// Do applies fn to the document on the loop and then delivers the
// resulting mutation records. It waits for fn to finish.
func (e *Engine) Do(fn func(doc *dom.Document)) error {
	if !e.Active() {
		fn(e.doc)
		return nil
	}
	return e.runErr(func() {
		fn(e.doc)
		e.doc.Flush()
	})
}

// Pointer queues a pointer event. It does not wait.
func (e *Engine) Pointer(ev dom.Event) {
	if !e.Active() {
		return
	}
	e.post(func() { e.doc.Dispatch(ev) })
}

// Ready is closed after the first successful known-identifier load.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// WaitReady blocks until the known identifiers are loaded.
func (e *Engine) WaitReady(ctx context.Context) error {
	if !e.Active() {
		return ErrInactive
	}
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Found is one annotated identifier occurrence.
type Found struct {
	Element     *html.Node
	Parsed      marketplace.ParsedIdentifier
	Marketplace marketplace.ID
}

// Annotated lists annotated elements in document order.
func (e *Engine) Annotated() ([]Found, error) {
	if !e.Active() {
		return nil, ErrInactive
	}
	var out []Found
	err := e.runErr(func() {
		var walk func(n *html.Node)
		walk = func(n *html.Node) {
			if ann, ok := e.scanner.Annotation(n); ok {
				out = append(out, Found{Element: n, Parsed: ann.Parsed, Marketplace: ann.Marketplace})
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(e.doc.Root)
	})
	return out, err
}

// Scan runs one scan of the configured roots now.
func (e *Engine) Scan() (int, error) {
	if !e.Active() {
		return 0, ErrInactive
	}
	var n int
	err := e.runErr(func() { n = e.scanner.ScanDocument() })
	return n, err
}

// Lookup resolves an identifier through the engine cache without a hover
// session, for hosts that list results instead of showing tooltips.
func (e *Engine) Lookup(ctx context.Context, parsed marketplace.ParsedIdentifier) (RenderModel, error) {
	if !e.Active() {
		return RenderModel{}, ErrInactive
	}
	ann := scanner.Annotation{Parsed: parsed, Marketplace: e.profile.ID()}
	p := e.cache.GetOrFetch(e.hover.Key(ann), e.fetch)
	r, err := p.Wait(ctx)
	if err != nil {
		return RenderModel{}, err
	}
	return render.Build(ann.Marketplace, parsed, r.Info, r.Err), nil
}

// HoverState returns the hover state name, for diagnostics.
func (e *Engine) HoverState() string {
	if !e.Active() {
		return hover.Idle.String()
	}
	var s string
	_ = e.runErr(func() { s = e.hover.State().String() })
	return s
}

func (e *Engine) onReady() {
	select {
	case <-e.ready:
	default:
		close(e.ready)
	}
	n := e.scanner.ScanDocument()
	e.logger.Info("overlay: known identifiers ready", "articles", e.known.Len(), "annotated", n)
}

func (e *Engine) run(f func()) { _ = e.runErr(f) }

// runErr executes f on the loop. Before Start the caller is the only
// goroutine touching the engine, so f runs inline.
func (e *Engine) runErr(f func()) error {
	if e.loop == nil {
		f()
		return nil
	}
	e.mu.Lock()
	started, stopped := e.started, e.stopped
	e.mu.Unlock()
	switch {
	case stopped:
		return ErrStopped
	case !started:
		f()
		return nil
	}
	if err := e.loop.Do(e.ctx, f); err != nil {
		return ErrStopped
	}
	return nil
}

func (e *Engine) post(f func()) {
	if e.loop == nil {
		f()
		return
	}
	e.mu.Lock()
	running := e.started && !e.stopped
	e.mu.Unlock()
	if running {
		e.loop.Post(f)
	}
}
