// Package dom is a small live-document layer over golang.org/x/net/html.
//
// It gives the overlay engine the two browser facilities it relies on
// without a browser: mutation records delivered to observers in batches, and
// per-element event listeners. Hosts (tests, the static scanner, the rod
// mirror) apply every change through a Document so observers see it.
//
// A Document is not safe for concurrent use. The engine only touches it from
// its event loop.
package dom

import (
	"io"
	"slices"
	"strings"
	"weak"

	"golang.org/x/net/html"
)

// RecordKind is the type of a mutation record.
type RecordKind int

const (
	ChildList RecordKind = iota
	CharacterData
	Attributes
)

func (k RecordKind) String() string {
	switch k {
	case ChildList:
		return "childList"
	case CharacterData:
		return "characterData"
	case Attributes:
		return "attributes"
	}
	return "unknown"
}

// Record describes one mutation, in the shape of a MutationRecord.
type Record struct {
	Kind    RecordKind
	Target  *html.Node
	Added   []*html.Node
	Removed []*html.Node
	Attr    string // attribute name for Attributes records
}

// ObserveOptions selects which records an observer receives.
type ObserveOptions struct {
	ChildList     bool
	CharacterData bool
	Attributes    bool
	Subtree       bool
}

type observer struct {
	target *html.Node
	opts   ObserveOptions
	fn     func([]Record)
	active bool
}

func (o *observer) wants(rec Record) bool {
	switch rec.Kind {
	case ChildList:
		if !o.opts.ChildList {
			return false
		}
	case CharacterData:
		if !o.opts.CharacterData {
			return false
		}
	case Attributes:
		if !o.opts.Attributes {
			return false
		}
	}
	if rec.Target == o.target {
		return true
	}
	return o.opts.Subtree && Contains(o.target, rec.Target)
}

// Document wraps a parsed tree with mutation observers and listeners.
type Document struct {
	Root *html.Node

	observers []*observer
	pending   []Record
	removals  bool

	listeners map[weak.Pointer[html.Node]]map[EventType][]Listener
}

// New wraps an existing tree.
func New(root *html.Node) *Document {
	return &Document{
		Root:      root,
		listeners: make(map[weak.Pointer[html.Node]]map[EventType][]Listener),
	}
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return New(root), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Body returns the <body> element, or the root when there is none.
func (d *Document) Body() *html.Node {
	if b := FindElement(d.Root, "body"); b != nil {
		return b
	}
	return d.Root
}

// AppendChild moves child under parent, detaching it first if needed.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref (nil ref appends).
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if child.Parent != nil {
		d.Remove(child)
	}
	parent.InsertBefore(child, ref)
	d.queue(Record{Kind: ChildList, Target: parent, Added: []*html.Node{child}})
}

// Remove detaches n from its parent. Listeners stay attached to n, as in a
// browser; they disappear once n becomes unreachable.
func (d *Document) Remove(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	parent.RemoveChild(n)
	d.removals = true
	d.queue(Record{Kind: ChildList, Target: parent, Removed: []*html.Node{n}})
}

// ReplaceChildren swaps every child of parent for children in one record.
func (d *Document) ReplaceChildren(parent *html.Node, children ...*html.Node) {
	var removed []*html.Node
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	for _, c := range children {
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		parent.AppendChild(c)
	}
	if len(removed) > 0 {
		d.removals = true
	}
	d.queue(Record{Kind: ChildList, Target: parent, Added: children, Removed: removed})
}

// SetText replaces the data of a text node.
func (d *Document) SetText(n *html.Node, text string) {
	if n.Type != html.TextNode || n.Data == text {
		return
	}
	n.Data = text
	d.queue(Record{Kind: CharacterData, Target: n})
}

// SetAttr sets or adds an attribute on an element.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			if n.Attr[i].Val == val {
				return
			}
			n.Attr[i].Val = val
			d.queue(Record{Kind: Attributes, Target: n, Attr: key})
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	d.queue(Record{Kind: Attributes, Target: n, Attr: key})
}

// AddClass adds class to the element's class list.
func (d *Document) AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	cur := Attr(n, "class")
	if cur != "" {
		cur += " "
	}
	d.SetAttr(n, "class", cur+class)
}

// Observe registers fn for records under target. Records are delivered on
// Flush. The returned function disconnects the observer.
func (d *Document) Observe(target *html.Node, opts ObserveOptions, fn func([]Record)) (disconnect func()) {
	o := &observer{target: target, opts: opts, fn: fn, active: true}
	d.observers = append(d.observers, o)
	return func() {
		o.active = false
		d.observers = slices.DeleteFunc(d.observers, func(x *observer) bool { return x == o })
	}
}

// Flush delivers pending records to observers, like a microtask checkpoint.
func (d *Document) Flush() {
	if d.removals {
		d.pruneListeners()
		d.removals = false
	}
	if len(d.pending) == 0 {
		return
	}
	records := d.pending
	d.pending = nil

	for _, o := range slices.Clone(d.observers) {
		if !o.active {
			continue
		}
		var batch []Record
		for _, rec := range records {
			if o.wants(rec) {
				batch = append(batch, rec)
			}
		}
		if len(batch) > 0 {
			o.fn(batch)
		}
	}
}

// Pending returns the number of undelivered records.
func (d *Document) Pending() int { return len(d.pending) }

func (d *Document) queue(rec Record) {
	if len(d.observers) == 0 {
		return
	}
	d.pending = append(d.pending, rec)
}
