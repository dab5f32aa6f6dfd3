// Package knownset holds the seller's known-identifier set. The set is
// replaced wholesale on every successful load, so readers never observe a
// partially updated membership.
package knownset

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/marketplace"
)

// Source provides the article list.
type Source interface {
	FetchKnownIdentifiers(ctx context.Context) (*enrichment.KnownIdentifiers, error)
}

// LoadError reports a failed load. The previous set, if any, stays in place.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("knownset: load: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Set is safe for concurrent use.
type Set struct {
	profile marketplace.Profile
	source  Source
	keys    atomic.Pointer[map[string]struct{}]
}

// New creates an unloaded Set.
func New(profile marketplace.Profile, source Source) *Set {
	return &Set{profile: profile, source: source}
}

// Load fetches the article list and swaps it in.
func (s *Set) Load(ctx context.Context) error {
	ki, err := s.source.FetchKnownIdentifiers(ctx)
	if err != nil {
		return &LoadError{Err: err}
	}
	if ki == nil || !ki.Success {
		msg := "empty response"
		if ki != nil && ki.Error != "" {
			msg = ki.Error
		}
		return &LoadError{Err: fmt.Errorf("backend: %s", msg)}
	}

	keys := make(map[string]struct{}, len(ki.Articles))
	for _, a := range ki.Articles {
		if a != "" {
			keys[a] = struct{}{}
		}
	}
	s.keys.Store(&keys)
	return nil
}

// Has reports whether article is known. It is false until the first
// successful load.
func (s *Set) Has(article string) bool {
	m := s.keys.Load()
	if m == nil {
		return false
	}
	for _, k := range s.profile.KnownKeys(article) {
		if _, ok := (*m)[k]; ok {
			return true
		}
	}
	return false
}

// Ready reports whether a load has succeeded.
func (s *Set) Ready() bool { return s.keys.Load() != nil }

// Len returns the number of known articles.
func (s *Set) Len() int {
	m := s.keys.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}
