package overlay

import (
	"time"

	"github.com/hazyhaar/mplens/overlay/internal/scanner"
	"github.com/hazyhaar/mplens/render"
)

// RenderModel is the marketplace-tagged tooltip content.
type RenderModel = render.Model

// Presenter displays the tooltip. The engine calls it from its loop only;
// the presenter owns layout and viewport clamping.
type Presenter interface {
	ShowLoading(x, y float64)
	ShowResult(m RenderModel, x, y float64)
	Reposition(x, y float64)
	Hide()
}

// Config tunes an Engine. Zero values take defaults.
type Config struct {
	// Marketplace forces a profile ("ozon", "wb") instead of host detection.
	Marketplace string `yaml:"marketplace"`
	// HoverDelay before a lookup starts. Default: 300ms.
	HoverDelay time.Duration `yaml:"hover_delay"`
	// ScanDebounce after a mutation adding nodes. Default: 500ms.
	ScanDebounce time.Duration `yaml:"scan_debounce"`
	// ScanInterval of the fallback scan. Default: 2s.
	ScanInterval time.Duration `yaml:"scan_interval"`
	// ScanMaxBurst forces a scan after this many mutation batches. 0 = off.
	ScanMaxBurst int `yaml:"scan_max_burst"`
	// LoadBackoff between failed known-identifier loads. Default: 5s.
	LoadBackoff time.Duration `yaml:"load_backoff"`
	// RefreshInterval reloads known identifiers once ready. 0 = never.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// RetryErrors forgets failed lookups instead of caching them.
	RetryErrors bool `yaml:"retry_errors"`
	// HighlightClass added to annotated elements.
	HighlightClass string `yaml:"highlight_class"`
	// RootSelectors restricts scanning to matching subtrees (CSS).
	RootSelectors []string `yaml:"root_selectors"`
}

func (c *Config) defaults() {
	if c.HoverDelay <= 0 {
		c.HoverDelay = 300 * time.Millisecond
	}
	if c.ScanDebounce <= 0 {
		c.ScanDebounce = 500 * time.Millisecond
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 2 * time.Second
	}
	if c.LoadBackoff <= 0 {
		c.LoadBackoff = 5 * time.Second
	}
	if c.HighlightClass == "" {
		c.HighlightClass = scanner.DefaultHighlightClass
	}
}
