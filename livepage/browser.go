// Package livepage runs the overlay engine against a real page in Chrome,
// driven through go-rod.
//
// A page script reports the body to Go as serialized subtrees and keeps
// reporting child-list changes; Go mirrors them into a dom.Document the
// engine owns. Elements the engine annotates are highlighted in the page,
// their pointer events come back through a CDP binding, and tooltips are
// drawn by the page script on the Presenter's behalf.
package livepage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures Launch.
type BrowserConfig struct {
	// Remote is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one.
	Remote string
	// Headful shows the browser window.
	Headful bool
	// Stealth opens pages with go-rod/stealth evasions.
	Stealth bool
	// ResourceBlocking lists resource types to block: images, fonts,
	// media, stylesheets, or raw CDP type names.
	ResourceBlocking []string
	// NavigateTimeout bounds navigation. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is one Chrome instance.
type Browser struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// Launch starts Chrome, or connects to cfg.Remote.
func Launch(ctx context.Context, cfg BrowserConfig) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	b := &Browser{cfg: cfg}
	wsURL := cfg.Remote
	if wsURL != "" {
		log.Info("livepage: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Headless(!cfg.Headful)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("livepage: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("livepage: launched local chrome", "url", wsURL, "headful", cfg.Headful)
	}

	rb := rod.New().Context(ctx).ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("livepage: connect: %w", err)
	}
	b.browser = rb
	return b, nil
}

// Page is a browser tab with optional request blocking.
type Page struct {
	*rod.Page
	hijack *rod.HijackRouter
}

// NewPage opens a blank tab.
func (b *Browser) NewPage() (*Page, error) {
	b.mu.Lock()
	rb, closed := b.browser, b.closed
	b.mu.Unlock()
	if closed || rb == nil {
		return nil, fmt.Errorf("livepage: browser is closed")
	}

	var (
		page *rod.Page
		err  error
	)
	if b.cfg.Stealth {
		page, err = stealth.Page(rb)
	} else {
		page, err = rb.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("livepage: create tab: %w", err)
	}

	p := &Page{Page: page}
	if len(b.cfg.ResourceBlocking) > 0 {
		p.hijack = blockResources(page, b.cfg.ResourceBlocking)
	}
	return p, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	if p.hijack != nil {
		_ = p.hijack.Stop()
	}
	return p.Page.Close()
}

// Eval implements Evaluator.
func (p *Page) Eval(ctx context.Context, js string, args ...any) error {
	_, err := p.Page.Context(ctx).Eval(js, args...)
	return err
}

// Close shuts Chrome down, or disconnects from a remote instance.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.cleanup()
}

func (b *Browser) cleanup() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}

// blockResources fails requests of the listed resource types.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[resourceType(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if block[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// resourceType maps config names to CDP resource types.
func resourceType(name string) string {
	switch n := strings.ToLower(name); n {
	case "images":
		return "image"
	case "fonts":
		return "font"
	case "stylesheets":
		return "stylesheet"
	default:
		return n
	}
}
