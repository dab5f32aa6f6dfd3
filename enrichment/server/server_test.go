package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mplens/connectivity"
	"github.com/hazyhaar/mplens/dbopen"
	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/enrichment/internal/store"
	"github.com/hazyhaar/mplens/marketplace"
	"github.com/hazyhaar/mplens/observability"
	"github.com/hazyhaar/mplens/watch"
)

var today = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, seed bool) *store.Store {
	t.Helper()
	st := store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)),
		store.WithClock(func() time.Time { return today }))
	if seed {
		if err := st.Seed(context.Background(), store.Demo(today)); err != nil {
			t.Fatalf("Seed: %v", err)
		}
	}
	return st
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: decode %q: %v", target, rec.Body.String(), err)
	}
	return rec, body
}

func TestREST_Articles(t *testing.T) {
	h := New(newStore(t, true)).Handler()
	rec, body := get(t, h, "/api/extension/articles")
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("articles: %d %v", rec.Code, body)
	}
	if body["count"] != float64(3) {
		t.Errorf("count: got %v, want 3", body["count"])
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestREST_ProductInfo(t *testing.T) {
	h := New(newStore(t, true)).Handler()
	rec, body := get(t, h, "/api/extension/product-info?article=3009030003&size=M")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %v", rec.Code, body)
	}
	if body["offer_id"] != "3009030003/M" || body["stock"] != float64(8) || body["buyout_percent"] != 88.9 {
		t.Errorf("body: got %v", body)
	}
}

func TestREST_Errors(t *testing.T) {
	seeded := New(newStore(t, true)).Handler()
	empty := New(newStore(t, false)).Handler()

	tests := []struct {
		name   string
		h      http.Handler
		target string
		status int
		msg    string
	}{
		{"no article", seeded, "/api/extension/product-info?article=%20", 400, msgNoArticle},
		{"wb no article", seeded, "/api/extension/wb/product-info", 400, msgNoArticle},
		{"wb not found", seeded, "/api/extension/wb/product-info?article=nope", 404, msgNotFound},
		{"ozon no tokens", empty, "/api/extension/product-info?article=1", 404, msgNoOzonTokens},
		{"wb no tokens", empty, "/api/extension/wb/product-info?article=1", 404, msgNoWBTokens},
	}
	for _, tt := range tests {
		rec, body := get(t, tt.h, tt.target)
		if rec.Code != tt.status || body["success"] != false || body["error"] != tt.msg {
			t.Errorf("%s: got %d %v, want %d %q", tt.name, rec.Code, body, tt.status, tt.msg)
		}
	}
}

func TestREST_WBProductInfo(t *testing.T) {
	h := New(newStore(t, true)).Handler()
	rec, body := get(t, h, "/api/extension/wb/product-info?article=51203")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	names, _ := body["token_names"].([]any)
	if len(names) != 2 || names[1] != "Токен 3" {
		t.Errorf("token_names: got %v", body["token_names"])
	}
}

func TestRPC(t *testing.T) {
	h := New(newStore(t, true)).Handler()

	post := func(path, payload string) (int, map[string]any) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload)))
		var body map[string]any
		json.Unmarshal(rec.Body.Bytes(), &body)
		return rec.Code, body
	}

	code, body := post("/api/extension/rpc/mplens_wb_product_info", `{"article":"nope"}`)
	if code != http.StatusOK || body["success"] != false || body["error"] != msgNotFound {
		t.Errorf("tagged failure: got %d %v", code, body)
	}
	code, body = post("/api/extension/rpc/mplens_product_info", `{"article":"3009030003","size":"M"}`)
	if code != http.StatusOK || body["success"] != true {
		t.Errorf("success: got %d %v", code, body)
	}
	if code, _ = post("/api/extension/rpc/nope", `{}`); code != http.StatusNotFound {
		t.Errorf("unknown service: got %d, want 404", code)
	}
	if code, _ = post("/api/extension/rpc/bad%20name", `{}`); code != http.StatusBadRequest {
		t.Errorf("bad service name: got %d, want 400", code)
	}
}

func TestHealthz(t *testing.T) {
	rec, body := get(t, New(newStore(t, false)).Handler(), "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["version"] != Version {
		t.Errorf("healthz: got %d %v", rec.Code, body)
	}
}

func TestArticles_CachedAndCoalesced(t *testing.T) {
	s := New(newStore(t, true))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if list, err := s.Articles(ctx); err != nil || len(list) != 3 {
				t.Errorf("Articles: got %v, %v", list, err)
			}
		}()
	}
	wg.Wait()
	if got := s.ArticleLoads(); got != 1 {
		t.Errorf("loads: got %d, want 1", got)
	}

	s.InvalidateArticles()
	s.Articles(ctx)
	if got := s.ArticleLoads(); got != 2 {
		t.Errorf("loads after invalidate: got %d, want 2", got)
	}
}

func TestWatch_InvalidatesOnSeed(t *testing.T) {
	st := newStore(t, true)
	s := New(st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx, watch.Options{Interval: 10 * time.Millisecond, Detector: watch.PragmaUserVersion})

	if list, _ := s.Articles(ctx); slices.Contains(list, "777") {
		t.Fatal("777 present before seed")
	}
	// The watcher takes its baseline asynchronously; keep changing the store
	// until a change lands after it.
	deadline := time.Now().Add(2 * time.Second)
	for id := int64(100); ; id++ {
		if err := st.Seed(ctx, store.Seed{Goods: []store.Good{{ID: id, VendorCode: "777"}}}); err != nil {
			t.Fatalf("Seed: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		list, _ := s.Articles(ctx)
		if slices.Contains(list, "777") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("article list not refreshed: %v", list)
		}
	}
}

func TestClient_LocalRouter(t *testing.T) {
	router := connectivity.New()
	New(newStore(t, true)).RegisterConnectivity(router)
	client := enrichment.NewClient(router)
	ctx := context.Background()

	known, err := client.FetchKnownIdentifiers(ctx)
	if err != nil || known.Count != 3 {
		t.Fatalf("FetchKnownIdentifiers: got %+v, %v", known, err)
	}

	info, err := client.FetchEnrichment(ctx, marketplace.OZON, "3009030003", "M")
	if err != nil || info.Ozon == nil || info.Ozon.Stock != 8 {
		t.Fatalf("FetchEnrichment ozon: got %+v, %v", info, err)
	}

	info, err = client.FetchEnrichment(ctx, marketplace.WB, "nope", "")
	if err == nil || info.Success || info.Error != msgNotFound {
		t.Errorf("FetchEnrichment wb missing: got %+v, %v", info, err)
	}
	if enrichment.Message(err) != msgNotFound {
		t.Errorf("Message: got %q", enrichment.Message(err))
	}
}

func TestClient_HTTPAndMCPRoutes(t *testing.T) {
	ts := httptest.NewServer(New(newStore(t, true)).Handler())
	defer ts.Close()

	router := connectivity.New()
	router.RegisterTransport("http", connectivity.HTTPFactory(connectivity.WithAllowPrivate()))
	router.RegisterTransport("mcp", connectivity.MCPFactory(connectivity.WithAllowPrivate()))
	defer router.Close()

	err := router.Apply([]connectivity.Route{
		{Service: enrichment.ServiceKnownIdentifiers, Strategy: "http",
			Endpoint: ts.URL + "/api/extension/rpc/" + enrichment.ServiceKnownIdentifiers},
		{Service: enrichment.ServiceProductInfo, Strategy: "http",
			Endpoint: ts.URL + "/api/extension/rpc/" + enrichment.ServiceProductInfo},
		{Service: enrichment.ServiceWBProductInfo, Strategy: "mcp", Endpoint: ts.URL + "/mcp",
			Config: json.RawMessage(`{"tool_name":"` + enrichment.ServiceWBProductInfo + `"}`)},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	client := enrichment.NewClient(router)
	ctx := context.Background()

	if known, err := client.FetchKnownIdentifiers(ctx); err != nil || known.Count != 3 {
		t.Errorf("known over http: got %+v, %v", known, err)
	}
	if info, err := client.FetchEnrichment(ctx, marketplace.OZON, "4001", "65"); err != nil || !info.Ozon.ProductExists {
		t.Errorf("ozon over http: got %+v, %v", info, err)
	}
	info, err := client.FetchEnrichment(ctx, marketplace.WB, "51203", "")
	if err != nil || len(info.WB.Sizes) != 1 || info.WB.Sizes[0].Tokens[0].Stock != 12 {
		t.Errorf("wb over mcp: got %+v, %v", info, err)
	}
}

func TestMCP_Tools(t *testing.T) {
	impl := &mcp.Implementation{Name: "server-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	New(newStore(t, true)).RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	call := func(name string, args any) map[string]any {
		t.Helper()
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			t.Fatalf("CallTool(%s): %v", name, err)
		}
		if res.IsError {
			t.Fatalf("CallTool(%s): tool error", name)
		}
		var body map[string]any
		json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &body)
		return body
	}

	if body := call(enrichment.ServiceKnownIdentifiers, map[string]any{}); body["count"] != float64(3) {
		t.Errorf("known: got %v", body)
	}
	if body := call(enrichment.ServiceProductInfo, map[string]any{"article": "3009030003", "size": "M"}); body["delivering"] != float64(1) {
		t.Errorf("product: got %v", body)
	}
	if body := call(enrichment.ServiceProductInfo, map[string]any{"article": ""}); body["error"] != msgNoArticle {
		t.Errorf("tagged failure: got %v", body)
	}
}

func TestOpen_SeedDemo(t *testing.T) {
	s, err := Open(t.TempDir() + "/stats/mplens.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if list, err := s.Articles(ctx); err != nil || len(list) != 0 {
		t.Fatalf("Articles before seed: got %v, %v", list, err)
	}
	if err := s.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	if list, _ := s.Articles(ctx); len(list) != 3 {
		t.Errorf("Articles after seed: got %v", list)
	}
}

func TestMetrics_RecordsServiceCalls(t *testing.T) {
	mm := observability.NewMetricsManager(dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema)))
	defer mm.Close()
	h := New(newStore(t, true), WithMetrics(mm)).Handler()

	get(t, h, "/api/extension/articles")
	get(t, h, "/api/extension/wb/product-info?article=51203")
	get(t, h, "/api/extension/wb/product-info?article=nope")
	mm.Flush()

	rec, body := get(t, h, "/api/extension/metrics")
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("metrics: %d %v", rec.Code, body)
	}
	services, _ := body["services"].([]any)
	if len(services) != 2 {
		t.Fatalf("services: got %d, want 2: %v", len(services), services)
	}
	for _, v := range services {
		st := v.(map[string]any)
		switch st["service"] {
		case enrichment.ServiceKnownIdentifiers:
			if st["calls"] != float64(1) || st["errors"] != float64(0) {
				t.Errorf("known stats: got %v", st)
			}
		case enrichment.ServiceWBProductInfo:
			if st["calls"] != float64(2) || st["errors"] != float64(1) {
				t.Errorf("wb stats: got %v", st)
			}
		default:
			t.Errorf("unexpected service %v", st["service"])
		}
	}
}

func TestMetrics_DisabledByDefault(t *testing.T) {
	h := New(newStore(t, true)).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/extension/metrics", nil))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("metrics without WithMetrics: got %d", rec.Code)
	}
}
