// Package scanner finds identifier occurrences in a document and annotates
// their elements exactly once. Scans are incremental: annotated elements
// are never visited again, and mutation bursts are coalesced into one
// trailing scan.
package scanner

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/mplens/dom"
	"github.com/hazyhaar/mplens/marketplace"
	"github.com/hazyhaar/mplens/overlay/internal/loop"
)

// DefaultHighlightClass is added to every annotated element.
const DefaultHighlightClass = "mp-article-highlight"

// Known is the membership test applied to parsed articles.
type Known interface {
	Ready() bool
	Has(article string) bool
}

// Handlers receive pointer events on annotated elements. Any of them may
// be nil.
type Handlers struct {
	Enter func(el *html.Node, x, y float64)
	Leave func(el *html.Node)
	Move  func(el *html.Node, x, y float64)
}

// Config controls scanning. Zero values take defaults.
type Config struct {
	// Debounce is the trailing delay after a mutation adding nodes. Default: 500ms.
	Debounce time.Duration
	// Interval is the periodic fallback scan. Default: 2s.
	Interval time.Duration
	// MaxBurst scans immediately once this many mutation batches piled up
	// inside one debounce window. Zero disables it.
	MaxBurst int
	// HighlightClass defaults to DefaultHighlightClass.
	HighlightClass string
	// RootSelectors restricts scans to the matched subtrees.
	RootSelectors []string
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.HighlightClass == "" {
		c.HighlightClass = DefaultHighlightClass
	}
}

// Scanner must only be used from the event loop that owns its document.
type Scanner struct {
	doc      *dom.Document
	profile  marketplace.Profile
	known    Known
	sched    loop.Scheduler
	cfg      Config
	logger   *slog.Logger
	ann      *Annotations
	handlers Handlers

	onEnter dom.Listener
	onLeave dom.Listener
	onMove  dom.Listener

	debounce   *debouncer
	periodic   loop.Timer
	disconnect func()
	gen        uint64
	watching   bool
	scans      int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithHandlers sets the pointer event handlers.
func WithHandlers(h Handlers) Option {
	return func(s *Scanner) { s.handlers = h }
}

// New creates a Scanner over doc.
func New(doc *dom.Document, profile marketplace.Profile, known Known, sched loop.Scheduler, cfg Config, opts ...Option) *Scanner {
	cfg.defaults()
	s := &Scanner{
		doc:     doc,
		profile: profile,
		known:   known,
		sched:   sched,
		cfg:     cfg,
		logger:  slog.Default(),
		ann:     NewAnnotations(),
	}
	for _, o := range opts {
		o(s)
	}

	// Listeners are shared by every element and only see the event target,
	// so the listener table never pins a node.
	s.onEnter = func(ev dom.Event) {
		if s.handlers.Enter != nil {
			s.handlers.Enter(ev.Target, ev.X, ev.Y)
		}
	}
	s.onLeave = func(ev dom.Event) {
		if s.handlers.Leave != nil {
			s.handlers.Leave(ev.Target)
		}
	}
	s.onMove = func(ev dom.Event) {
		if s.handlers.Move != nil {
			s.handlers.Move(ev.Target, ev.X, ev.Y)
		}
	}
	s.debounce = newDebouncer(sched, cfg.Debounce, cfg.MaxBurst, func() { s.ScanDocument() })
	return s
}

// SetHandlers replaces the pointer event handlers.
func (s *Scanner) SetHandlers(h Handlers) { s.handlers = h }

// Annotations exposes the association table.
func (s *Scanner) Annotations() *Annotations { return s.ann }

// Annotation returns the annotation of el.
func (s *Scanner) Annotation(el *html.Node) (Annotation, bool) { return s.ann.Get(el) }

// Scans returns how many scans actually ran.
func (s *Scanner) Scans() int { return s.scans }

// ScanDocument scans the configured roots, or the body when no root
// selector is set.
func (s *Scanner) ScanDocument() int {
	if len(s.cfg.RootSelectors) == 0 {
		return s.Scan(s.doc.Body())
	}
	n := 0
	for _, sel := range s.cfg.RootSelectors {
		for _, root := range dom.Select(s.doc.Root, sel) {
			n += s.Scan(root)
		}
	}
	return n
}

// Scan annotates identifier elements under root and returns how many were
// newly annotated. It is a no-op until the known set is ready.
func (s *Scanner) Scan(root *html.Node) int {
	if root == nil || !s.known.Ready() {
		return 0
	}
	s.scans++
	if n := s.ann.Prune(); n > 0 {
		s.logger.Debug("scanner: pruned collected elements", "count", n)
	}

	candidates := s.collect(root)

	added := 0
	for _, text := range candidates {
		if s.annotate(text) {
			added++
		}
	}
	if added > 0 {
		s.logger.Debug("scanner: annotated", "added", added, "candidates", len(candidates), "total", s.ann.Len())
		// Highlight class changes reach attribute observers now, not on the
		// next host mutation.
		s.doc.Flush()
	}
	return added
}

// collect gathers candidate text nodes before any of them is processed.
func (s *Scanner) collect(root *html.Node) []*html.Node {
	var out []*html.Node
	pattern := s.profile.Pattern()

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			parent := n.Parent
			if parent == nil || parent.Type != html.ElementNode || s.ann.Has(parent) {
				return
			}
			if pattern.MatchString(strings.TrimSpace(n.Data)) {
				out = append(out, n)
			}
			return
		case html.ElementNode:
			if skipped(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func (s *Scanner) annotate(text *html.Node) bool {
	parent := text.Parent
	if parent == nil || parent.Type != html.ElementNode || s.ann.Has(parent) {
		return false
	}

	parsed, ok := s.profile.Parse(text.Data)
	if !ok || !s.known.Has(parsed.Article) {
		return false
	}

	s.ann.set(parent, Annotation{Parsed: parsed, Marketplace: s.profile.ID()})
	s.doc.AddClass(parent, s.cfg.HighlightClass)
	s.doc.AddEventListener(parent, dom.MouseEnter, s.onEnter)
	s.doc.AddEventListener(parent, dom.MouseLeave, s.onLeave)
	s.doc.AddEventListener(parent, dom.MouseMove, s.onMove)
	return true
}

func skipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	switch strings.ToLower(n.Data) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

// Watch starts the mutation-triggered debounced scan and the periodic
// fallback scan. Mutations are delivered when the document is flushed.
func (s *Scanner) Watch() {
	if s.watching {
		return
	}
	s.watching = true
	s.gen++

	s.disconnect = s.doc.Observe(s.doc.Root, dom.ObserveOptions{ChildList: true, Subtree: true}, func(recs []dom.Record) {
		for _, r := range recs {
			if len(r.Added) > 0 {
				s.debounce.trigger()
				return
			}
		}
	})
	s.armPeriodic(s.gen)
}

// Stop disarms both timers and detaches the mutation observer.
// Annotations are kept.
func (s *Scanner) Stop() {
	if !s.watching {
		return
	}
	s.watching = false
	s.gen++
	if s.disconnect != nil {
		s.disconnect()
		s.disconnect = nil
	}
	s.debounce.cancel()
	if s.periodic != nil {
		s.periodic.Stop()
		s.periodic = nil
	}
}

func (s *Scanner) armPeriodic(gen uint64) {
	s.periodic = s.sched.AfterFunc(s.cfg.Interval, func() {
		if gen != s.gen {
			return
		}
		s.ScanDocument()
		s.armPeriodic(gen)
	})
}
