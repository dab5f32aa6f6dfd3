// Package hover implements the hover session state machine. One global
// cursor exists per engine: entering a new element supersedes the previous
// session, and every delayed step checks the session token it was armed
// with before touching the presenter.
package hover

import (
	"log/slog"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/mplens/marketplace"
	"github.com/hazyhaar/mplens/overlay/internal/enrichcache"
	"github.com/hazyhaar/mplens/overlay/internal/loop"
	"github.com/hazyhaar/mplens/overlay/internal/scanner"
	"github.com/hazyhaar/mplens/render"
)

// State of the hover session.
type State int

const (
	Idle State = iota
	Pending
	Loading
	Shown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Loading:
		return "loading"
	case Shown:
		return "shown"
	}
	return "unknown"
}

// Presenter displays the tooltip.
type Presenter interface {
	ShowLoading(x, y float64)
	ShowResult(m render.Model, x, y float64)
	Reposition(x, y float64)
	Hide()
}

// Cache is the lookup memo used on fire.
type Cache interface {
	GetOrFetch(key enrichcache.Key, fetch enrichcache.FetchFunc) *enrichcache.Pending
}

// Lookup returns the annotation of an element.
type Lookup func(el *html.Node) (scanner.Annotation, bool)

// Controller must only be used from the event loop.
type Controller struct {
	sched     loop.Scheduler
	profile   marketplace.Profile
	cache     Cache
	fetch     enrichcache.FetchFunc
	presenter Presenter
	lookup    Lookup
	delay     time.Duration
	logger    *slog.Logger

	state   State
	token   uint64
	el      *html.Node
	ann     scanner.Annotation
	x, y    float64
	timer   loop.Timer
	visible bool
	stale   int
}

// Option configures a Controller.
type Option func(*Controller)

// WithDelay sets the hover debounce. Default: 300ms.
func WithDelay(d time.Duration) Option {
	return func(c *Controller) { c.delay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates an idle Controller.
func New(sched loop.Scheduler, profile marketplace.Profile, cache Cache, fetch enrichcache.FetchFunc, presenter Presenter, lookup Lookup, opts ...Option) *Controller {
	c := &Controller{
		sched:     sched,
		profile:   profile,
		cache:     cache,
		fetch:     fetch,
		presenter: presenter,
		lookup:    lookup,
		delay:     300 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Token returns the current session token.
func (c *Controller) Token() uint64 { return c.token }

// Current returns the hovered element, nil when idle.
func (c *Controller) Current() *html.Node { return c.el }

// Discarded counts stale timer fires and completions that were dropped.
func (c *Controller) Discarded() int { return c.stale }

// Enter starts a session for el unless el is already the current element.
func (c *Controller) Enter(el *html.Node, x, y float64) {
	ann, ok := c.lookup(el)
	if !ok {
		return
	}
	if el == c.el && c.state != Idle {
		c.x, c.y = x, y
		return
	}

	c.end()
	c.token++
	c.state = Pending
	c.el, c.ann = el, ann
	c.x, c.y = x, y

	token := c.token
	c.timer = c.sched.AfterFunc(c.delay, func() { c.fire(token) })
}

// Leave ends the session if el is the current element.
func (c *Controller) Leave(el *html.Node) {
	if el == nil || el != c.el || c.state == Idle {
		return
	}
	c.end()
	c.token++
}

// Move tracks the pointer on the current element.
func (c *Controller) Move(el *html.Node, x, y float64) {
	if el == nil || el != c.el || c.state == Idle {
		return
	}
	c.x, c.y = x, y
	if c.state == Loading || c.state == Shown {
		c.presenter.Reposition(x, y)
	}
}

// Reset ends any session, as on engine stop.
func (c *Controller) Reset() {
	if c.state == Idle {
		return
	}
	c.end()
	c.token++
}

// Key returns the cache key of an annotation.
func (c *Controller) Key(ann scanner.Annotation) enrichcache.Key {
	return enrichcache.Key{
		Marketplace: ann.Marketplace,
		Article:     c.profile.Normalize(ann.Parsed.Article),
		Size:        ann.Parsed.Size,
	}
}

// end cancels the timer, hides what is visible and goes idle. The caller
// bumps the token.
func (c *Controller) end() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.visible {
		c.presenter.Hide()
		c.visible = false
	}
	c.state = Idle
	c.el = nil
	c.ann = scanner.Annotation{}
}

func (c *Controller) fire(token uint64) {
	if token != c.token || c.state != Pending {
		c.stale++
		c.logger.Debug("hover: stale timer discarded", "token", token, "current", c.token)
		return
	}
	c.timer = nil
	c.state = Loading
	c.visible = true
	c.presenter.ShowLoading(c.x, c.y)

	key := c.Key(c.ann)
	p := c.cache.GetOrFetch(key, c.fetch)
	c.sched.Go(func() func() {
		<-p.Done()
		r := p.Result()
		return func() { c.resolved(token, key, r) }
	})
}

func (c *Controller) resolved(token uint64, key enrichcache.Key, r enrichcache.Result) {
	if token != c.token || c.state != Loading {
		c.stale++
		c.logger.Debug("hover: stale result discarded", "key", key.String(), "token", token, "current", c.token)
		return
	}
	c.state = Shown
	c.presenter.ShowResult(render.Build(c.ann.Marketplace, c.ann.Parsed, r.Info, r.Err), c.x, c.y)
}
