package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/mplens/dbopen"
	"github.com/hazyhaar/mplens/kit"
	"github.com/hazyhaar/mplens/trace"
)

func newManager(t *testing.T, opts ...Option) *MetricsManager {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mm := NewMetricsManager(db, append([]Option{WithFlushInterval(time.Hour)}, opts...)...)
	t.Cleanup(func() { mm.Close() })
	return mm
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	mm := newManager(t)
	ctx := context.Background()

	mm.Record(&Metric{Name: "lookups", Value: 3, Unit: "count", Labels: map[string]string{"mp": "ozon"}})
	mm.Record(&Metric{Name: "other", Value: 1})
	if got, _ := mm.Query(ctx, "", time.Time{}, 0); len(got) != 0 {
		t.Fatalf("before flush: got %d metrics", len(got))
	}
	mm.Flush()

	got, err := mm.Query(ctx, "lookups", time.Time{}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Value != 3 || got[0].Labels["mp"] != "ozon" || got[0].Unit != "count" {
		t.Errorf("lookups: got %+v", got)
	}
	if all, _ := mm.Query(ctx, "", time.Time{}, 0); len(all) != 2 {
		t.Errorf("all: got %d, want 2", len(all))
	}
}

func TestMetricsManager_FlushWhenFull(t *testing.T) {
	mm := newManager(t, WithBufferSize(2))
	mm.Record(&Metric{Name: "a", Value: 1})
	mm.Record(&Metric{Name: "a", Value: 2})
	if got, _ := mm.Query(context.Background(), "a", time.Time{}, 0); len(got) != 2 {
		t.Errorf("after full buffer: got %d, want 2", len(got))
	}
}

func TestMetricsManager_CloseFlushes(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	mm := NewMetricsManager(db, WithFlushInterval(time.Hour))
	mm.Record(&Metric{Name: "a", Value: 1})
	mm.Close()
	mm.Close()
	mm.Record(&Metric{Name: "a", Value: 2}) // dropped after Close

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 1 {
		t.Errorf("rows: got %d, want 1", n)
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mm := newManager(t, WithClock(func() time.Time { return now }))
	mm.Record(&Metric{Name: "a", Timestamp: now.Add(-48 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: "a", Timestamp: now.Add(-time.Hour), Value: 2})
	mm.Flush()

	n, err := mm.Cleanup(context.Background(), 24*time.Hour)
	if err != nil || n != 1 {
		t.Errorf("Cleanup: got %d, %v, want 1", n, err)
	}
}

func TestMiddleware_Summary(t *testing.T) {
	mm := newManager(t)
	ok := Middleware(mm, "svc_a")(func(context.Context, any) (any, error) { return "x", nil })
	bad := Middleware(mm, "svc_b")(func(context.Context, any) (any, error) { return nil, errors.New("boom") })

	ctx := kit.WithTransport(context.Background(), "http")
	ok(ctx, nil)
	ok(ctx, nil)
	bad(ctx, nil)
	mm.Flush()

	got, err := mm.Summary(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Summary: got %+v", got)
	}
	if got[0].Service != "svc_a" || got[0].Calls != 2 || got[0].Errors != 0 {
		t.Errorf("svc_a: got %+v", got[0])
	}
	if got[1].Service != "svc_b" || got[1].Calls != 1 || got[1].Errors != 1 {
		t.Errorf("svc_b: got %+v", got[1])
	}

	m, _ := mm.Query(context.Background(), MetricCallDuration, time.Time{}, 1)
	if m[0].Labels["transport"] != "http" {
		t.Errorf("transport label: got %v", m[0].Labels)
	}
}

func TestSQLRecorder(t *testing.T) {
	mm := newManager(t)

	rec := SQLRecorder(mm)
	rec.RecordQuery(context.Background(), trace.Entry{Op: "Query", Query: "SELECT 1", Duration: 3 * time.Millisecond})
	rec.RecordQuery(context.Background(), trace.Entry{Op: "Exec", Query: "bad", Err: errors.New("syntax")})
	mm.Flush()

	got, err := mm.Query(context.Background(), MetricQueryDuration, time.Time{}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("metrics: got %d, want 2", len(got))
	}
	statuses := map[string]string{}
	for _, m := range got {
		statuses[m.Labels["op"]] = m.Labels["status"]
	}
	if statuses["Query"] != "ok" || statuses["Exec"] != "error" {
		t.Errorf("statuses: got %v", statuses)
	}
}
