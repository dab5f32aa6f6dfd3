package knownset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/marketplace"
	"github.com/hazyhaar/mplens/overlay/internal/loop"
)

type fakeSource struct {
	calls int
	resp  []*enrichment.KnownIdentifiers
	errs  []error
}

func (f *fakeSource) FetchKnownIdentifiers(context.Context) (*enrichment.KnownIdentifiers, error) {
	i := f.calls
	f.calls++
	if i >= len(f.resp) {
		i = len(f.resp) - 1
	}
	return f.resp[i], f.errs[i]
}

func ok(articles ...string) *enrichment.KnownIdentifiers {
	return &enrichment.KnownIdentifiers{Success: true, Articles: articles, Count: len(articles)}
}

func TestSet_HasBeforeLoad(t *testing.T) {
	s := New(marketplace.Ozon(), &fakeSource{})
	if s.Ready() {
		t.Error("Ready: want false before load")
	}
	if s.Has("3009030003") {
		t.Error("Has: want false before load")
	}
}

func TestSet_LoadAndHas(t *testing.T) {
	src := &fakeSource{resp: []*enrichment.KnownIdentifiers{ok("2013060166", "")}, errs: []error{nil}}
	s := New(marketplace.Wildberries(), src)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len: got %d, want 1", s.Len())
	}
	if !s.Has("2013060166-1") {
		t.Error("Has(suffixed): want true via normalized form")
	}
	if !s.Has("2013060166") {
		t.Error("Has(base): want true")
	}
	if s.Has("2013060167") {
		t.Error("Has(unknown): want false")
	}
}

func TestSet_FailedLoadKeepsPrevious(t *testing.T) {
	src := &fakeSource{
		resp: []*enrichment.KnownIdentifiers{ok("1111111"), nil, {Error: "db locked"}},
		errs: []error{nil, errors.New("refused"), nil},
	}
	s := New(marketplace.Wildberries(), src)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for i := 0; i < 2; i++ {
		err := s.Load(context.Background())
		var le *LoadError
		if !errors.As(err, &le) {
			t.Fatalf("load %d: got %v, want *LoadError", i, err)
		}
	}
	if !s.Has("1111111") {
		t.Error("previous set lost after failed reload")
	}
}

func TestKeeper_RetriesWithBackoff(t *testing.T) {
	src := &fakeSource{
		resp: []*enrichment.KnownIdentifiers{nil, nil, ok("3009030003")},
		errs: []error{errors.New("refused"), errors.New("refused"), nil},
	}
	s := New(marketplace.Ozon(), src)
	m := loop.NewManual(time.Unix(0, 0))
	readyCalls := 0
	k := NewKeeper(s, m, WithOnReady(func() { readyCalls++ }))

	k.Start(context.Background())
	m.Settle()
	if src.calls != 1 || s.Ready() {
		t.Fatalf("after first attempt: calls=%d ready=%v", src.calls, s.Ready())
	}

	m.Advance(4999 * time.Millisecond)
	m.Settle()
	if src.calls != 1 {
		t.Fatalf("retried before backoff: calls=%d", src.calls)
	}

	m.Advance(time.Millisecond)
	m.Settle()
	if src.calls != 2 {
		t.Fatalf("after 5s: calls=%d, want 2", src.calls)
	}

	m.Advance(5 * time.Second)
	m.Settle()
	if !s.Ready() || readyCalls != 1 {
		t.Fatalf("ready=%v onReady=%d", s.Ready(), readyCalls)
	}
	if m.Timers() != 0 {
		t.Errorf("Timers after ready without refresh: got %d, want 0", m.Timers())
	}
}

func TestKeeper_RefreshAndStop(t *testing.T) {
	src := &fakeSource{resp: []*enrichment.KnownIdentifiers{ok("1")}, errs: []error{nil}}
	s := New(marketplace.Ozon(), src)
	m := loop.NewManual(time.Unix(0, 0))
	readyCalls := 0
	k := NewKeeper(s, m, WithRefresh(time.Minute), WithOnReady(func() { readyCalls++ }))

	k.Start(context.Background())
	m.Settle()
	m.Advance(time.Minute)
	m.Settle()
	if src.calls != 2 {
		t.Fatalf("refresh: calls=%d, want 2", src.calls)
	}
	if readyCalls != 1 {
		t.Errorf("onReady: got %d calls, want 1", readyCalls)
	}

	k.Stop()
	m.Advance(time.Hour)
	m.Settle()
	if src.calls != 2 {
		t.Errorf("after Stop: calls=%d, want 2", src.calls)
	}
}
