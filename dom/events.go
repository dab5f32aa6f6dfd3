package dom

import (
	"weak"

	"golang.org/x/net/html"
)

// EventType is a pointer event name.
type EventType string

const (
	MouseEnter EventType = "mouseenter"
	MouseLeave EventType = "mouseleave"
	MouseMove  EventType = "mousemove"
)

// Event is a pointer event delivered to the listeners of its target.
// Pointer events here do not bubble: only listeners registered on Target run.
type Event struct {
	Type   EventType
	Target *html.Node
	X, Y   float64
}

// Listener handles an event. Listeners must not capture their target node;
// the target arrives in the event, which keeps the registry from pinning
// detached nodes in memory.
type Listener func(Event)

// AddEventListener registers l on n for typ.
func (d *Document) AddEventListener(n *html.Node, typ EventType, l Listener) {
	key := weak.Make(n)
	byType := d.listeners[key]
	if byType == nil {
		byType = make(map[EventType][]Listener)
		d.listeners[key] = byType
	}
	byType[typ] = append(byType[typ], l)
}

// ListenerCount reports how many listeners of typ are registered on n.
func (d *Document) ListenerCount(n *html.Node, typ EventType) int {
	return len(d.listeners[weak.Make(n)][typ])
}

// HasListeners reports whether any listener is registered on n.
func (d *Document) HasListeners(n *html.Node) bool {
	return len(d.listeners[weak.Make(n)]) > 0
}

// Dispatch runs the listeners registered on ev.Target for ev.Type and
// reports whether any ran.
func (d *Document) Dispatch(ev Event) bool {
	if ev.Target == nil {
		return false
	}
	ls := d.listeners[weak.Make(ev.Target)][ev.Type]
	for _, l := range ls {
		l(ev)
	}
	return len(ls) > 0
}

func (d *Document) pruneListeners() {
	for key := range d.listeners {
		if key.Value() == nil {
			delete(d.listeners, key)
		}
	}
}
