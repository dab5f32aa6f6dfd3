package server

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/mplens/dbopen"
	"github.com/hazyhaar/mplens/enrichment/internal/store"
)

// Open opens (creating if needed) the statistics database at path and
// returns a Server over it. Close releases the database.
func Open(path string, opts ...Option) (*Server, error) {
	s := New(nil, opts...)
	dbOpts := []dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema)}
	if s.traceSQL {
		dbOpts = append(dbOpts, dbopen.WithTrace())
	}
	db, err := dbopen.Open(path, dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("server: open store: %w", err)
	}
	s.store = store.New(db, store.WithLogger(s.logger))
	return s, nil
}

// SeedDemo loads demonstration tokens, goods, stocks and orders dated
// today.
func (s *Server) SeedDemo(ctx context.Context) error {
	if err := s.store.Seed(ctx, store.Demo(time.Now().UTC())); err != nil {
		return fmt.Errorf("server: seed: %w", err)
	}
	s.InvalidateArticles()
	return nil
}

// Close closes the database.
func (s *Server) Close() error {
	return s.store.DB().Close()
}
