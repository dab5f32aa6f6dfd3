package dom

import (
	"runtime"
	"testing"

	"golang.org/x/net/html"
)

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func TestObserve_ChildListSubtree(t *testing.T) {
	d := mustParse(t, `<html><body><div id="list"></div><p id="other"></p></body></html>`)
	list := Select(d.Root, "#list")[0]

	var got []Record
	disconnect := d.Observe(d.Body(), ObserveOptions{ChildList: true, Subtree: true}, func(recs []Record) {
		got = append(got, recs...)
	})

	li := Element("span")
	d.AppendChild(list, li)
	d.SetAttr(li, "class", "x") // not observed
	if len(got) != 0 {
		t.Fatal("records delivered before Flush")
	}

	d.Flush()
	if len(got) != 1 {
		t.Fatalf("records: got %d, want 1", len(got))
	}
	if got[0].Kind != ChildList || got[0].Target != list || len(got[0].Added) != 1 {
		t.Errorf("record: got %+v", got[0])
	}

	disconnect()
	d.AppendChild(list, Element("span"))
	d.Flush()
	if len(got) != 1 {
		t.Errorf("records after disconnect: got %d, want 1", len(got))
	}
}

func TestObserve_OutsideTarget(t *testing.T) {
	d := mustParse(t, `<html><body><div id="a"></div><div id="b"></div></body></html>`)
	a := Select(d.Root, "#a")[0]
	b := Select(d.Root, "#b")[0]

	n := 0
	d.Observe(a, ObserveOptions{ChildList: true, Subtree: true}, func(recs []Record) { n += len(recs) })
	d.AppendChild(b, Element("i"))
	d.Flush()
	if n != 0 {
		t.Errorf("records for sibling subtree: got %d, want 0", n)
	}
}

func TestReplaceChildren(t *testing.T) {
	d := mustParse(t, `<html><body><ul><li>1</li><li>2</li></ul></body></html>`)
	ul := Select(d.Root, "ul")[0]

	var recs []Record
	d.Observe(d.Root, ObserveOptions{ChildList: true, Subtree: true}, func(r []Record) { recs = r })
	d.ReplaceChildren(ul, Element("li"))
	d.Flush()

	if len(recs) != 1 || len(recs[0].Removed) != 2 || len(recs[0].Added) != 1 {
		t.Fatalf("ReplaceChildren record: got %+v", recs)
	}
	if c := len(Select(d.Root, "li")); c != 1 {
		t.Errorf("li count: got %d, want 1", c)
	}
}

func TestListeners(t *testing.T) {
	d := mustParse(t, `<html><body><span id="s">x</span></body></html>`)
	s := Select(d.Root, "#s")[0]

	var seen []EventType
	d.AddEventListener(s, MouseEnter, func(ev Event) { seen = append(seen, ev.Type) })
	d.AddEventListener(s, MouseLeave, func(ev Event) { seen = append(seen, ev.Type) })

	if d.ListenerCount(s, MouseEnter) != 1 {
		t.Errorf("ListenerCount: got %d, want 1", d.ListenerCount(s, MouseEnter))
	}
	if !d.Dispatch(Event{Type: MouseEnter, Target: s}) {
		t.Error("Dispatch(mouseenter): no listener ran")
	}
	if d.Dispatch(Event{Type: MouseMove, Target: s}) {
		t.Error("Dispatch(mousemove): unexpected listener")
	}
	if d.Dispatch(Event{Type: MouseEnter, Target: d.Body()}) {
		t.Error("Dispatch on body: events must not bubble")
	}
	if len(seen) != 1 || seen[0] != MouseEnter {
		t.Errorf("seen: got %v", seen)
	}
}

func TestListenersPrunedAfterRemoval(t *testing.T) {
	d := mustParse(t, `<html><body><div id="host"></div></body></html>`)
	host := Select(d.Root, "#host")[0]

	func() {
		el := Element("span")
		d.AppendChild(host, el)
		d.AddEventListener(el, MouseEnter, func(Event) {})
		d.Remove(el)
	}()

	runtime.GC()
	runtime.GC()
	d.Flush()

	if n := len(d.listeners); n != 0 {
		t.Errorf("listener entries after removal: got %d", n)
	}
}

func TestHelpers(t *testing.T) {
	d := mustParse(t, `<html><body><p class="a b">hello <b>world</b></p><script>x</script></body></html>`)
	p := Select(d.Root, "p")[0]

	if !HasClass(p, "b") || HasClass(p, "c") {
		t.Error("HasClass")
	}
	d.AddClass(p, "c")
	d.AddClass(p, "c")
	if Attr(p, "class") != "a b c" {
		t.Errorf("AddClass: got %q", Attr(p, "class"))
	}
	if TextContent(p) != "hello world" {
		t.Errorf("TextContent: got %q", TextContent(p))
	}
	bold := Select(p, "b")[0]
	if ParentElement(bold.FirstChild) != bold || !Contains(d.Body(), bold) {
		t.Error("ParentElement/Contains")
	}
	if len(Select(d.Root, "[[invalid")) != 0 {
		t.Error("invalid selector should match nothing")
	}
	if n := Text("x"); n.Type != html.TextNode {
		t.Error("Text node type")
	}
}
