package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hazyhaar/mplens/marketplace"
)

type callerFunc func(ctx context.Context, service string, payload []byte) ([]byte, error)

func (f callerFunc) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	return f(ctx, service, payload)
}

func TestClient_FetchEnrichmentOzon(t *testing.T) {
	var gotService string
	var gotReq ProductRequest
	c := NewClient(callerFunc(func(_ context.Context, service string, payload []byte) ([]byte, error) {
		gotService = service
		json.Unmarshal(payload, &gotReq)
		return []byte(`{"success":true,"article":"3009030003","size":"M","offer_id":"3009030003/M","stock":4,"delivered":8,"cancelled":2,"buyout_percent":80}`), nil
	}))

	info, err := c.FetchEnrichment(context.Background(), marketplace.OZON, "3009030003", "M")
	if err != nil {
		t.Fatalf("FetchEnrichment: %v", err)
	}
	if gotService != ServiceProductInfo {
		t.Errorf("service: got %q, want %q", gotService, ServiceProductInfo)
	}
	if gotReq.Article != "3009030003" || gotReq.Size != "M" {
		t.Errorf("request: got %+v", gotReq)
	}
	if !info.Success || info.Ozon == nil || info.WB != nil {
		t.Fatalf("info: got %+v", info)
	}
	if info.Ozon.Stock != 4 || info.Ozon.BuyoutPercent != 80 {
		t.Errorf("ozon: got %+v", info.Ozon)
	}
}

func TestClient_FetchEnrichmentWBDropsSize(t *testing.T) {
	var gotReq ProductRequest
	c := NewClient(callerFunc(func(_ context.Context, service string, payload []byte) ([]byte, error) {
		if service != ServiceWBProductInfo {
			t.Errorf("service: got %q", service)
		}
		json.Unmarshal(payload, &gotReq)
		return []byte(`{"success":true,"article":"2013060166","sizes":[{"size":"42","tokens":[{"token_id":1,"token_name":"main","stock":3}]}],"token_names":["main"]}`), nil
	}))

	info, err := c.FetchEnrichment(context.Background(), marketplace.WB, "2013060166", "ignored")
	if err != nil {
		t.Fatalf("FetchEnrichment: %v", err)
	}
	if gotReq.Size != "" {
		t.Errorf("size: got %q, want empty", gotReq.Size)
	}
	if info.WB == nil || len(info.WB.Sizes) != 1 || info.WB.Sizes[0].Tokens[0].Stock != 3 {
		t.Errorf("wb: got %+v", info.WB)
	}
}

func TestClient_BackendError(t *testing.T) {
	c := NewClient(callerFunc(func(context.Context, string, []byte) ([]byte, error) {
		return []byte(`{"success":false,"error":"Товар не найден в базе"}`), nil
	}))

	info, err := c.FetchEnrichment(context.Background(), marketplace.WB, "2013060166", "")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error: got %v, want *FetchError", err)
	}
	if fe.Transport {
		t.Error("Transport: want false for backend error")
	}
	if info == nil || info.Success || info.Error != "Товар не найден в базе" {
		t.Errorf("info: got %+v", info)
	}
	if got := Message(err); got != "Товар не найден в базе" {
		t.Errorf("Message: got %q", got)
	}
}

func TestClient_TransportError(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	c := NewClient(callerFunc(func(context.Context, string, []byte) ([]byte, error) {
		return nil, boom
	}))

	info, err := c.FetchEnrichment(context.Background(), marketplace.OZON, "1", "2")
	if !errors.Is(err, boom) {
		t.Fatalf("errors.Is: got %v", err)
	}
	if info.Error != MsgConnection {
		t.Errorf("info.Error: got %q, want %q", info.Error, MsgConnection)
	}
	if got := Message(err); got != MsgConnection {
		t.Errorf("Message: got %q", got)
	}
}

func TestClient_MalformedIsTransport(t *testing.T) {
	c := NewClient(callerFunc(func(context.Context, string, []byte) ([]byte, error) {
		return []byte(`<html>`), nil
	}))

	_, err := c.FetchEnrichment(context.Background(), marketplace.OZON, "1", "2")
	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Transport {
		t.Fatalf("error: got %v, want transport FetchError", err)
	}
}

func TestClient_FetchKnownIdentifiers(t *testing.T) {
	c := NewClient(callerFunc(func(_ context.Context, service string, _ []byte) ([]byte, error) {
		if service != ServiceKnownIdentifiers {
			t.Errorf("service: got %q", service)
		}
		return []byte(`{"success":true,"articles":["a","b"]}`), nil
	}))

	ki, err := c.FetchKnownIdentifiers(context.Background())
	if err != nil {
		t.Fatalf("FetchKnownIdentifiers: %v", err)
	}
	if ki.Count != 2 {
		t.Errorf("Count: got %d, want 2", ki.Count)
	}

	c = NewClient(callerFunc(func(context.Context, string, []byte) ([]byte, error) {
		return []byte(`{"success":false,"error":"db locked"}`), nil
	}))
	if _, err := c.FetchKnownIdentifiers(context.Background()); err == nil {
		t.Error("success=false: want error")
	}
}
