package livepage

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/marketplace"
	"github.com/hazyhaar/mplens/overlay"
)

type evalCall struct {
	js   string
	args []any
}

type recEval struct{ calls chan evalCall }

func newRecEval() *recEval { return &recEval{calls: make(chan evalCall, 64)} }

func (r *recEval) Eval(_ context.Context, js string, args ...any) error {
	r.calls <- evalCall{js: js, args: args}
	return nil
}

// next returns the next call whose script is js, skipping others.
func (r *recEval) next(t *testing.T, js string) evalCall {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-r.calls:
			if c.js == js {
				return c
			}
		case <-timeout:
			t.Fatalf("no page call %q", js)
		}
	}
}

type fakeService struct {
	mu      sync.Mutex
	lookups []string
}

func (f *fakeService) FetchKnownIdentifiers(context.Context) (*enrichment.KnownIdentifiers, error) {
	return &enrichment.KnownIdentifiers{Success: true, Articles: []string{"3009030003"}, Count: 1}, nil
}

func (f *fakeService) FetchEnrichment(_ context.Context, mp marketplace.ID, article, size string) (*enrichment.ProductInfo, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, article+"/"+size)
	f.mu.Unlock()
	return &enrichment.ProductInfo{Success: true, Marketplace: mp, Ozon: &enrichment.OzonInfo{
		Article: article, Size: size, OfferID: article + "/" + size, Stock: 7, OrdersTotal: 10, Delivered: 8, BuyoutPercent: 88.9,
	}}, nil
}

func TestSession_HoverRoundTrip(t *testing.T) {
	eval := newRecEval()
	svc := &fakeService{}
	s, err := newSession("www.ozon.ru", svc, overlay.Config{HoverDelay: 20 * time.Millisecond}, eval, slog.Default())
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.engine.Start(ctx)
	defer s.Close()

	if err := s.engine.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	s.handle(initMsg)

	mark := eval.next(t, jsMark)
	marks, _ := mark.args[0].([]Mark)
	if len(marks) != 1 || marks[0].ID != 3 || !strings.Contains(marks[0].Class, "mp-article-highlight") {
		t.Fatalf("marks: got %+v", mark.args)
	}

	s.handle(`{"type":"pointer","event":"mouseenter","id":3,"x":40,"y":50}`)
	loading := eval.next(t, jsShow)
	if loading.args[0] != `<div class="mp-tooltip-loading">Загрузка...</div>` || loading.args[1] != 40.0 {
		t.Errorf("loading: got %v", loading.args)
	}
	result := eval.next(t, jsShow)
	html, _ := result.args[0].(string)
	if !strings.Contains(html, "3009030003/M") || !strings.Contains(html, "88.9%") {
		t.Errorf("result html: got %q", html)
	}

	s.handle(`{"type":"pointer","event":"mouseleave","id":3,"x":0,"y":0}`)
	eval.next(t, jsHide)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.lookups) != 1 || svc.lookups[0] != "3009030003/M" {
		t.Errorf("lookups: got %v", svc.lookups)
	}
}

// gridRerender re-renders container 2 the way a virtualized list does:
// span 3 keeps its page ID, a new row is appended.
const gridRerender = `{"type":"children","id":2,"nodes":[
	{"id":3,"tag":"span","attrs":{"class":"mp-article-highlight"},"children":[{"text":"3009030003/M"}]},
	{"id":6,"tag":"span","children":[{"text":"new row"}]}
]}`

func startSession(t *testing.T, svc *fakeService, delay time.Duration) (*Session, *recEval) {
	t.Helper()
	eval := newRecEval()
	s, err := newSession("www.ozon.ru", svc, overlay.Config{HoverDelay: delay}, eval, slog.Default())
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.engine.Start(ctx)
	t.Cleanup(func() { s.Close() })
	if err := s.engine.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	s.handle(initMsg)
	eval.next(t, jsMark)
	return s, eval
}

func TestSession_RerenderKeepsHoveredElement(t *testing.T) {
	svc := &fakeService{}
	s, eval := startSession(t, svc, 20*time.Millisecond)
	span := s.mirror.Node(3)

	s.handle(`{"type":"pointer","event":"mouseenter","id":3,"x":40,"y":50}`)
	eval.next(t, jsShow) // loading
	eval.next(t, jsShow) // result

	s.handle(gridRerender)
	if s.mirror.Node(3) != span {
		t.Fatal("re-render replaced the hovered element")
	}
	s.handle(`{"type":"pointer","event":"mouseleave","id":3,"x":0,"y":0}`)
	eval.next(t, jsHide)
	if got := s.engine.HoverState(); got != "idle" {
		t.Errorf("state after mouseleave: got %q, want idle", got)
	}

	found, err := s.engine.Annotated()
	if err != nil {
		t.Fatalf("Annotated: %v", err)
	}
	if len(found) != 1 || found[0].Element != span {
		t.Errorf("annotated after re-render: got %+v", found)
	}
}

func TestSession_RerenderThenLeaveBeforeDelay(t *testing.T) {
	svc := &fakeService{}
	s, _ := startSession(t, svc, 200*time.Millisecond)

	s.handle(`{"type":"pointer","event":"mouseenter","id":3,"x":40,"y":50}`)
	s.handle(gridRerender)
	s.handle(`{"type":"pointer","event":"mouseleave","id":3,"x":0,"y":0}`)
	time.Sleep(400 * time.Millisecond)

	if got := s.engine.HoverState(); got != "idle" {
		t.Errorf("state: got %q, want idle", got)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.lookups) != 0 {
		t.Errorf("lookups after leaving before the delay: got %v", svc.lookups)
	}
}

func TestSession_IgnoresBadMessages(t *testing.T) {
	eval := newRecEval()
	s, err := newSession("www.ozon.ru", &fakeService{}, overlay.Config{}, eval, slog.Default())
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Close()

	s.handle(`not json`)
	s.handle(`{"type":"pointer","event":"click","id":3}`)
	s.handle(`{"type":"pointer","event":"mouseenter","id":42}`)
	s.handle(`{"type":"bogus"}`)
	if s.mirror.Len() != 0 {
		t.Errorf("mirror: got %d elements", s.mirror.Len())
	}
}

func TestSession_UnknownHost(t *testing.T) {
	_, err := newSession("example.com", &fakeService{}, overlay.Config{}, newRecEval(), slog.Default())
	if !errors.Is(err, overlay.ErrInactive) {
		t.Errorf("err: got %v, want ErrInactive", err)
	}
}

func TestQueue_OrderAndClose(t *testing.T) {
	eval := newRecEval()
	q := newQueue(eval, slog.Default())
	for i := 0; i < 5; i++ {
		q.push(jsMark, float64(i))
	}
	q.close()
	q.push(jsHide) // after close: dropped

	for i := 0; i < 5; i++ {
		c := <-eval.calls
		if c.args[0] != float64(i) {
			t.Errorf("call %d: got %v", i, c.args)
		}
	}
	select {
	case c := <-eval.calls:
		t.Errorf("call after close: %v", c)
	default:
	}
}

// gateEval blocks every call until release is closed.
type gateEval struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   []string
}

func newGateEval() *gateEval {
	return &gateEval{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateEval) Eval(_ context.Context, js string, _ ...any) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.mu.Lock()
	g.calls = append(g.calls, js)
	g.mu.Unlock()
	return nil
}

func count(calls []string, js string) int {
	n := 0
	for _, c := range calls {
		if c == js {
			n++
		}
	}
	return n
}

func TestQueue_HideSurvivesBacklog(t *testing.T) {
	eval := newGateEval()
	q := newQueue(eval, slog.Default())
	q.push(jsStyle, "css")
	<-eval.started

	q.push(jsShow, "<b>loading</b>", 1.0, 1.0)
	for i := 0; i < 3*maxPending; i++ {
		q.push(jsMove, float64(i), 0.0)
		q.push(jsMark, []Mark{{ID: int64(i), Class: "mp-article-highlight"}})
	}
	q.push(jsHide)
	close(eval.release)
	q.close()

	if got := count(eval.calls, jsHide); got != 1 {
		t.Errorf("hide calls: got %d, want 1", got)
	}
	if last := eval.calls[len(eval.calls)-1]; last != jsHide {
		t.Errorf("last call: got %q, want hide", last)
	}
	if n := count(eval.calls, jsShow) + count(eval.calls, jsMove); n != 0 {
		t.Errorf("tooltip calls queued before hide still ran: %d", n)
	}
	if got := count(eval.calls, jsMark); got != 3*maxPending {
		t.Errorf("mark calls: got %d, want %d", got, 3*maxPending)
	}
}

func TestQueue_CoalescesMoves(t *testing.T) {
	eval := newGateEval()
	q := newQueue(eval, slog.Default())
	q.push(jsStyle, "css")
	<-eval.started

	q.push(jsShow, "<b>x</b>", 1.0, 1.0)
	for i := 0; i < 10; i++ {
		q.push(jsMove, float64(i), 0.0)
	}
	close(eval.release)
	q.close()

	want := []string{jsStyle, jsShow, jsMove}
	if !slices.Equal(eval.calls, want) {
		t.Errorf("calls: got %d %v, want %v", len(eval.calls), eval.calls, want)
	}
}

func TestResourceType(t *testing.T) {
	tests := map[string]string{"images": "image", "Fonts": "font", "stylesheets": "stylesheet", "media": "media", "xhr": "xhr"}
	for in, want := range tests {
		if got := resourceType(in); got != want {
			t.Errorf("resourceType(%q): got %q, want %q", in, got, want)
		}
	}
}
