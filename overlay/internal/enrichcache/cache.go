// Package enrichcache memoizes enrichment lookups per identifier and
// coalesces concurrent lookups of the same key into one fetch.
package enrichcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/marketplace"
)

// Key identifies one enrichment lookup. Article is the normalized base
// article; Size is empty when the marketplace has no size dimension.
type Key struct {
	Marketplace marketplace.ID
	Article     string
	Size        string
}

func (k Key) String() string {
	if k.Size == "" {
		return fmt.Sprintf("%s:%s", k.Marketplace, k.Article)
	}
	return fmt.Sprintf("%s:%s/%s", k.Marketplace, k.Article, k.Size)
}

// Result is either a success payload or a human-readable error.
type Result struct {
	Info *enrichment.ProductInfo
	Err  string
}

// OK reports whether the result carries data.
func (r Result) OK() bool { return r.Err == "" && r.Info != nil && r.Info.Success }

// FetchFunc performs the actual lookup. It must not panic; if it does the
// panic is turned into an error Result.
type FetchFunc func(ctx context.Context, key Key) Result

// Pending is the promise returned by GetOrFetch.
type Pending struct {
	done   chan struct{}
	result Result
}

// Resolved returns an already completed Pending.
func Resolved(r Result) *Pending {
	p := &Pending{done: make(chan struct{}), result: r}
	close(p.done)
	return p
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result is valid after Done is closed.
func (p *Pending) Result() Result { return p.result }

// Wait blocks until the result is available or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cache entries are never evicted. Safe for concurrent use.
type Cache struct {
	mu          sync.Mutex
	entries     map[Key]*Pending
	ctx         context.Context
	retryErrors bool
	logger      *slog.Logger
	fetches     atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithRetryErrors drops error results once they complete, so the next
// lookup fetches again. Only successes are memoized.
func WithRetryErrors(v bool) Option {
	return func(c *Cache) { c.retryErrors = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache whose fetches run under ctx.
func New(ctx context.Context, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]*Pending),
		ctx:     ctx,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetOrFetch returns the cached or in-flight Pending for key, or starts
// exactly one fetch for it.
func (c *Cache) GetOrFetch(key Key, fetch FetchFunc) *Pending {
	c.mu.Lock()
	if p, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return p
	}
	p := &Pending{done: make(chan struct{})}
	c.entries[key] = p
	c.mu.Unlock()

	c.fetches.Add(1)
	go c.run(key, p, fetch)
	return p
}

// Invalidate forgets key. An in-flight fetch still completes for the
// callers already holding its Pending.
func (c *Cache) Invalidate(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Len returns the number of entries, in flight or resolved.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetches returns how many fetches were started.
func (c *Cache) Fetches() int64 { return c.fetches.Load() }

func (c *Cache) run(key Key, p *Pending, fetch FetchFunc) {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("enrichcache: fetch panic recovered", "key", key.String(), "panic", r)
			p.result = Result{Err: enrichment.MsgNoData}
		}
		if p.result.Err != "" && c.retryErrors {
			c.mu.Lock()
			if c.entries[key] == p {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
	}()

	p.result = fetch(c.ctx, key)
	if p.result.Err == "" && (p.result.Info == nil || !p.result.Info.Success) {
		msg := enrichment.MsgNoData
		if p.result.Info != nil && p.result.Info.Error != "" {
			msg = p.result.Info.Error
		}
		p.result.Err = msg
	}
	c.logger.Debug("enrichcache: fetched", "key", key.String(), "ok", p.result.Err == "")
}

// ServiceFetch adapts an enrichment.Service into a FetchFunc.
func ServiceFetch(svc enrichment.Service) FetchFunc {
	return func(ctx context.Context, key Key) Result {
		info, err := svc.FetchEnrichment(ctx, key.Marketplace, key.Article, key.Size)
		if err != nil {
			return Result{Info: info, Err: enrichment.Message(err)}
		}
		return Result{Info: info}
	}
}
