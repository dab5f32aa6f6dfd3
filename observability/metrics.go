package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/mplens/kit"
	"github.com/hazyhaar/mplens/trace"
)

// MetricCallDuration is recorded once per service call, in milliseconds,
// labelled with service, transport and status ("ok" or "error").
const MetricCallDuration = "service_call_duration_ms"

// MetricQueryDuration is recorded once per traced SQL statement, labelled
// with op ("Exec" or "Query") and status.
const MetricQueryDuration = "sql_query_duration_ms"

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex
	buffer []*Metric
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// Option configures a MetricsManager.
type Option func(*MetricsManager)

// WithBufferSize sets the batch size. Default: 100.
func WithBufferSize(n int) Option { return func(m *MetricsManager) { m.bufferSize = n } }

// WithFlushInterval sets the background flush period. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(m *MetricsManager) { m.flushInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *MetricsManager) { m.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *MetricsManager) { m.now = now } }

// NewMetricsManager starts a manager writing to db, which must carry Schema.
func NewMetricsManager(db *sql.DB, opts ...Option) *MetricsManager {
	mm := &MetricsManager{
		db:            db,
		bufferSize:    100,
		flushInterval: 5 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(mm)
	}
	mm.buffer = make([]*Metric, 0, mm.bufferSize)
	go mm.flushLoop()
	return mm
}

// Record queues a metric. It never blocks on the database for long: the
// inline flush happens only when the buffer is full.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = mm.now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return
	}
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// Flush writes buffered metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.flushLocked()
}

// Query returns metrics named name (all when empty) recorded at or after
// since, newest first. limit <= 0 means no limit.
func (mm *MetricsManager) Query(ctx context.Context, name string, since time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE timestamp >= ?"
	args := []any{since.UnixMilli()}
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m      Metric
			ts     int64
			labels sql.NullString
			unit   sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Unit = unit.String
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CallStats aggregates MetricCallDuration for one service.
type CallStats struct {
	Service string  `json:"service"`
	Calls   int     `json:"calls"`
	Errors  int     `json:"errors"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// Summary aggregates service calls recorded since the given time, sorted
// by service name.
func (mm *MetricsManager) Summary(ctx context.Context, since time.Time) ([]CallStats, error) {
	metrics, err := mm.Query(ctx, MetricCallDuration, since, 0)
	if err != nil {
		return nil, err
	}
	by := make(map[string]*CallStats)
	for _, m := range metrics {
		svc := m.Labels["service"]
		st := by[svc]
		if st == nil {
			st = &CallStats{Service: svc}
			by[svc] = st
		}
		st.Calls++
		if m.Labels["status"] != "ok" {
			st.Errors++
		}
		st.AvgMs += m.Value
		st.MaxMs = max(st.MaxMs, m.Value)
	}
	out := make([]CallStats, 0, len(by))
	for _, st := range by {
		st.AvgMs /= float64(st.Calls)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

// Cleanup deletes metrics older than the retention and returns the count
// removed.
func (mm *MetricsManager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := mm.now().Add(-retention).UnixMilli()
	res, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes remaining metrics and stops the background goroutine.
func (mm *MetricsManager) Close() error {
	mm.mu.Lock()
	if mm.closed {
		mm.mu.Unlock()
		return nil
	}
	mm.closed = true
	mm.mu.Unlock()
	close(mm.stop)
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.bufferSize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mm.write(ctx, batch); err != nil {
		mm.logger.Warn("observability: metrics batch dropped", "count", len(batch), "error", err)
	}
}

func (mm *MetricsManager) write(ctx context.Context, batch []*Metric) error {
	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range batch {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SQLRecorder records MetricQueryDuration for every statement traced by
// the sqlite-trace driver. The metrics database itself must not be traced.
func SQLRecorder(mm *MetricsManager) trace.Recorder {
	return trace.RecorderFunc(func(ctx context.Context, e trace.Entry) {
		status := "ok"
		if e.Err != nil {
			status = "error"
		}
		mm.Record(&Metric{
			Name:      MetricQueryDuration,
			Timestamp: mm.now().Add(-e.Duration),
			Value:     float64(e.Duration.Microseconds()) / 1000,
			Unit:      "milliseconds",
			Labels:    map[string]string{"op": e.Op, "status": status},
		})
	})
}

// Middleware records MetricCallDuration for every call of the endpoint.
// Endpoints that report failures as values should be wrapped before they
// convert errors.
func Middleware(mm *MetricsManager, service string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := mm.now()
			resp, err := next(ctx, req)
			status := "ok"
			if err != nil {
				status = "error"
			}
			mm.Record(&Metric{
				Name:      MetricCallDuration,
				Timestamp: start,
				Value:     float64(mm.now().Sub(start).Microseconds()) / 1000,
				Unit:      "milliseconds",
				Labels: map[string]string{
					"service":   service,
					"transport": kit.GetTransport(ctx),
					"status":    status,
				},
			})
			return resp, err
		}
	}
}
