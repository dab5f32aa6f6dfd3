// Package trace provides transparent SQL tracing for modernc.org/sqlite.
//
// It registers a "sqlite-trace" driver that wraps the standard "sqlite"
// driver and sees every Exec and Query of the statistics database. Switch
// the driver name to enable it:
//
//	db, err := dbopen.Open(path, dbopen.WithTrace())
//
// Every statement is logged with adaptive levels (Debug, Warn when slower
// than SlowQuery, Error on failure) and carries the request ID of its
// context. A Recorder installed with SetRecorder additionally receives
// every Entry; databases that store those entries must be opened with the
// plain driver.
package trace

import (
	"context"
	"database/sql"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "sqlite-trace"

// SlowQuery is the duration above which a statement is logged at Warn.
const SlowQuery = 100 * time.Millisecond

// Entry is a single traced statement.
type Entry struct {
	RequestID string
	Op        string // "Exec" or "Query"
	Query     string
	Duration  time.Duration
	Err       error
}

// Recorder receives traced statements. RecordQuery is called on the
// statement's goroutine and must not block.
type Recorder interface {
	RecordQuery(ctx context.Context, e Entry)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Entry)

func (f RecorderFunc) RecordQuery(ctx context.Context, e Entry) { f(ctx, e) }

var (
	recorderMu sync.RWMutex
	recorder   Recorder
)

// SetRecorder installs the process-wide recorder. Nil restores log-only
// tracing.
func SetRecorder(r Recorder) {
	recorderMu.Lock()
	recorder = r
	recorderMu.Unlock()
}

func getRecorder() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return recorder
}

func init() {
	sql.Register(DriverName, &TracingDriver{Driver: &sqlite.Driver{}})
}
