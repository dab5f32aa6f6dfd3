package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/mplens/enrichment/server"
	"github.com/hazyhaar/mplens/internal/config"
)

const page = `<html><body><div class="catalog">
<span>3009030003/M</span>
<span>3009030003/L</span>
<span>9999999999/M</span>
<p>Описание</p>
</div></body></html>`

func newApp(t *testing.T, backend string) *app {
	t.Helper()
	t.Setenv("MPLENS_BACKEND", backend)
	t.Setenv("MPLENS_DB", filepath.Join(t.TempDir(), "mplens.db"))
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Server.Seed = true
	a := &app{cfg: cfg, logger: slog.Default()}
	t.Cleanup(a.close)
	return a
}

func writePage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunScan_InProcess(t *testing.T) {
	a := newApp(t, "")
	var out bytes.Buffer
	if err := a.runScan(context.Background(), writePage(t), "www.ozon.ru", &out); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	report := out.String()
	for _, want := range []string{"2 identifiers found", "## 3009030003/M", "## 3009030003/L", "Остаток"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
	if strings.Contains(report, "9999999999") {
		t.Error("unknown article reported")
	}
}

func TestRunScan_RemoteBackend(t *testing.T) {
	srv, err := server.Open(filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("server.Open: %v", err)
	}
	defer srv.Close()
	if err := srv.SeedDemo(context.Background()); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	a := newApp(t, ts.URL)
	if a.needsLocal() {
		t.Fatal("needsLocal with every service routed remotely")
	}
	var out bytes.Buffer
	if err := a.runScan(context.Background(), writePage(t), "www.ozon.ru", &out); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if a.backend != nil {
		t.Error("local backend opened for a remote configuration")
	}
	if !strings.Contains(out.String(), "2 identifiers found") {
		t.Errorf("report:\n%s", out.String())
	}
}

func TestRunScan_UnknownHost(t *testing.T) {
	a := newApp(t, "")
	var out bytes.Buffer
	if err := a.runScan(context.Background(), writePage(t), "", &out); err == nil {
		t.Error("file without -host: want error")
	}
}
