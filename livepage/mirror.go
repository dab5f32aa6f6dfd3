package livepage

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/mplens/dom"
)

// Message is one report from the page script.
//
//	{"type":"init","id":1,"nodes":[...]}        body and its children
//	{"type":"children","id":7,"nodes":[...]}    new child list of element 7
//	{"type":"pointer","event":"mouseenter","id":7,"x":10,"y":20}
type Message struct {
	Type  string  `json:"type"`
	ID    int64   `json:"id"`
	Nodes []Node  `json:"nodes,omitempty"`
	Event string  `json:"event,omitempty"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
}

// Node is a serialized page node. Text nodes have no Tag.
type Node struct {
	ID       int64             `json:"id,omitempty"`
	Tag      string            `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

// Mark asks the page to add classes to element ID and start reporting
// its pointer events.
type Mark struct {
	ID    int64  `json:"id"`
	Class string `json:"class"`
}

// Mirror keeps a dom.Document in step with the page body. Page elements
// are addressed by the integer IDs the page script assigns.
//
// Apply must run on the engine loop (inside Engine.Do); Node and ID may be
// called from any goroutine.
type Mirror struct {
	doc  *dom.Document
	body *html.Node

	mu   sync.Mutex
	byID map[int64]*html.Node
	ids  map[*html.Node]int64
	// pageClass is the class attribute the page last reported for a
	// mirrored element; tokens beyond it were added by the engine.
	pageClass map[*html.Node]string
}

// NewMirror creates a mirror over an empty document.
func NewMirror() *Mirror {
	doc, _ := dom.ParseString("<html><head></head><body></body></html>")
	return &Mirror{
		doc:       doc,
		body:      doc.Body(),
		byID:      make(map[int64]*html.Node),
		ids:       make(map[*html.Node]int64),
		pageClass: make(map[*html.Node]string),
	}
}

// Document returns the mirrored document.
func (m *Mirror) Document() *dom.Document { return m.doc }

// Node returns the element with page ID id, or nil.
func (m *Mirror) Node(id int64) *html.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// ID returns the page ID of n.
func (m *Mirror) ID(n *html.Node) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[n]
	return id, ok
}

// Len returns the number of mirrored elements.
func (m *Mirror) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Apply applies an init or children message to the document.
//
// A children message reconciles the subtree in place: elements whose page
// ID is already mirrored keep their *html.Node, so annotations, listeners
// and the hovered element survive a container re-render.
func (m *Mirror) Apply(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg.Type {
	case "init":
		m.byID = map[int64]*html.Node{msg.ID: m.body}
		m.ids = map[*html.Node]int64{m.body: msg.ID}
		m.pageClass = make(map[*html.Node]string)
		nodes := make([]*html.Node, 0, len(msg.Nodes))
		for _, n := range msg.Nodes {
			nodes = append(nodes, m.build(n))
		}
		m.doc.ReplaceChildren(m.body, nodes...)
		return nil
	case "children":
		parent := m.byID[msg.ID]
		if parent == nil {
			return nil // detached since; the page already moved on
		}
		before := m.descendants(parent)
		kept := make(map[*html.Node]bool)
		m.reconcile(parent, msg.Nodes, kept)
		for n := range before {
			if !kept[n] {
				m.drop(n)
			}
		}
		return nil
	default:
		return fmt.Errorf("livepage: unexpected %q message", msg.Type)
	}
}

// reconcile gives parent the children described by nodes, reusing mirrored
// elements by page ID and text nodes by position. Reused elements are added
// to kept. It must run with mu held.
func (m *Mirror) reconcile(parent *html.Node, nodes []Node, kept map[*html.Node]bool) {
	var old []*html.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		old = append(old, c)
	}
	next := make([]*html.Node, 0, len(nodes))
	for i, n := range nodes {
		if n.Tag == "" {
			if i < len(old) && old[i].Type == html.TextNode && old[i].Data == n.Text {
				next = append(next, old[i])
			} else {
				next = append(next, dom.Text(n.Text))
			}
			continue
		}
		el := m.byID[n.ID]
		if n.ID == 0 || el == nil || el.Data != n.Tag || el == parent {
			next = append(next, m.build(n))
			continue
		}
		kept[el] = true
		m.syncAttrs(el, n.Attrs)
		m.reconcile(el, n.Children, kept)
		next = append(next, el)
	}
	if !slices.Equal(old, next) {
		m.doc.ReplaceChildren(parent, next...)
	}
}

// syncAttrs copies the page attributes onto a reused element. Classes the
// engine added and the page dropped are put back through the document, so
// the page receives the highlight again.
func (m *Mirror) syncAttrs(el *html.Node, attrs map[string]string) {
	prev := strings.Fields(m.pageClass[el])
	var added []string
	for _, c := range strings.Fields(dom.Attr(el, "class")) {
		if !slices.Contains(prev, c) {
			added = append(added, c)
		}
	}
	el.Attr = el.Attr[:0]
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		el.Attr = append(el.Attr, html.Attribute{Key: k, Val: attrs[k]})
	}
	m.pageClass[el] = attrs["class"]
	for _, c := range added {
		m.doc.AddClass(el, c)
	}
}

// build creates a fresh subtree. It must run with mu held.
func (m *Mirror) build(n Node) *html.Node {
	if n.Tag == "" {
		return dom.Text(n.Text)
	}
	el := &html.Node{Type: html.ElementNode, Data: n.Tag, DataAtom: atom.Lookup([]byte(n.Tag))}
	for _, k := range slices.Sorted(maps.Keys(n.Attrs)) {
		el.Attr = append(el.Attr, html.Attribute{Key: k, Val: n.Attrs[k]})
	}
	if n.ID != 0 {
		if old := m.byID[n.ID]; old != nil {
			delete(m.ids, old)
			delete(m.pageClass, old)
		}
		m.byID[n.ID] = el
		m.ids[el] = n.ID
		m.pageClass[el] = n.Attrs["class"]
	}
	for _, c := range n.Children {
		el.AppendChild(m.build(c))
	}
	return el
}

// descendants returns the mirrored elements under n. It must run with mu
// held.
func (m *Mirror) descendants(n *html.Node) map[*html.Node]bool {
	out := make(map[*html.Node]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if _, ok := m.ids[c]; ok {
				out[c] = true
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// drop forgets the page ID of one element, unless the ID has moved on to
// another node. It must run with mu held.
func (m *Mirror) drop(n *html.Node) {
	id, ok := m.ids[n]
	if !ok {
		return
	}
	delete(m.ids, n)
	delete(m.pageClass, n)
	if m.byID[id] == n {
		delete(m.byID, id)
	}
}

// WatchMarks calls fn with the class changes the engine makes to mirrored
// elements, so the page can highlight them. The records come from the
// engine's scans; the mirror itself builds nodes without records.
func (m *Mirror) WatchMarks(fn func([]Mark)) (disconnect func()) {
	return m.doc.Observe(m.doc.Root, dom.ObserveOptions{Attributes: true, Subtree: true}, func(recs []dom.Record) {
		var marks []Mark
		for _, r := range recs {
			if r.Attr != "class" {
				continue
			}
			if id, ok := m.ID(r.Target); ok {
				marks = append(marks, Mark{ID: id, Class: dom.Attr(r.Target, "class")})
			}
		}
		if len(marks) > 0 {
			fn(marks)
		}
	})
}
