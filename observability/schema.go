// Package observability records service call metrics in SQLite.
//
// Metrics go to their own database so that recording never contends with
// the statistics store. Persistence is buffered and asynchronous: a full
// buffer is flushed inline, a failed flush drops its batch.
package observability

// Schema is the DDL of the metrics table. Pass it to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id   INTEGER PRIMARY KEY,
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
`
