package scanner

import (
	"weak"

	"golang.org/x/net/html"

	"github.com/hazyhaar/mplens/marketplace"
)

// Annotation is what the scanner remembers about an annotated element.
type Annotation struct {
	Parsed      marketplace.ParsedIdentifier
	Marketplace marketplace.ID
}

// Annotations associates elements with their Annotation without keeping
// the elements alive. Entries whose element was collected are dropped by
// Prune.
type Annotations struct {
	m map[weak.Pointer[html.Node]]Annotation
}

// NewAnnotations returns an empty table.
func NewAnnotations() *Annotations {
	return &Annotations{m: make(map[weak.Pointer[html.Node]]Annotation)}
}

// Get returns the annotation of el.
func (a *Annotations) Get(el *html.Node) (Annotation, bool) {
	if el == nil {
		return Annotation{}, false
	}
	ann, ok := a.m[weak.Make(el)]
	return ann, ok
}

// Has reports whether el is annotated.
func (a *Annotations) Has(el *html.Node) bool {
	_, ok := a.Get(el)
	return ok
}

func (a *Annotations) set(el *html.Node, ann Annotation) {
	a.m[weak.Make(el)] = ann
}

// Len returns the number of entries, collected or not.
func (a *Annotations) Len() int { return len(a.m) }

// Prune drops entries whose element has been garbage collected and
// returns how many were dropped.
func (a *Annotations) Prune() int {
	n := 0
	for k := range a.m {
		if k.Value() == nil {
			delete(a.m, k)
			n++
		}
	}
	return n
}
