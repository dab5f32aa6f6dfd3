// Package watch polls a SQLite database for a change token and runs an
// action once the token settles on a new value. The enrichment backend uses
// it to drop its cached article list when the sync jobs write new goods.
//
//	w := watch.New(db, watch.Options{Interval: time.Second})
//	go w.Run(ctx, func(ctx context.Context) error { srv.InvalidateArticles(); return nil })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different values mean the data
// changed in between.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval between polls. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period a new token must hold before the action
	// runs. 0 runs it on the poll that saw the change.
	Debounce time.Duration
	// Detector defaults to Combine(PragmaDataVersion, PragmaUserVersion).
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = Combine(PragmaDataVersion, PragmaUserVersion)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls one database. Counters are safe to read concurrently with Run.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// New creates a Watcher. Nothing is polled until Run.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Version returns the last token the action was run for.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Stats returns the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// Run polls until ctx is done. The token read at start is the baseline and
// does not run the action. When action fails the token is not recorded, so
// the next poll runs it again.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger
	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var settle <-chan time.Time
	var settleTimer *time.Timer
	pending, hasPending := int64(0), false

	log.Info("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			log.Info("watch: stopped")
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || (hasPending && cur == pending) {
				continue
			}
			w.changes.Add(1)
			pending, hasPending = cur, true
			if w.opts.Debounce <= 0 {
				w.fire(ctx, action, pending)
				hasPending = false
				continue
			}
			if settleTimer != nil {
				settleTimer.Stop()
			}
			settleTimer = time.NewTimer(w.opts.Debounce)
			settle = settleTimer.C
			log.Debug("watch: change detected", "pending_version", cur)

		case <-settle:
			settle = nil
			if hasPending {
				w.fire(ctx, action, pending)
				hasPending = false
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error, v int64) {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "error", err, "version", v)
		return
	}
	w.reloads.Add(1)
	w.opts.Logger.Info("watch: reloaded", "old_version", w.version.Load(), "new_version", v,
		"duration", time.Since(start))
	w.version.Store(v)
}

// PragmaDataVersion changes when another connection commits to the
// database file. It misses writes made on the polling connection itself.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// PragmaUserVersion reads the application-maintained user_version counter.
func PragmaUserVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// MaxColumnDetector polls MAX(column) of table.
func MaxColumnDetector(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

// Combine sums the tokens of several monotonic detectors.
func Combine(ds ...Detector) Detector {
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var sum int64
		for _, d := range ds {
			v, err := d(ctx, db)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
