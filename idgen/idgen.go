// Package idgen generates the identifiers mplens attaches to engines, HTTP
// requests and browser sessions. IDs are prefixed UUID v7 strings, so they
// sort by creation time in logs.
package idgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

var (
	// Engine names one overlay engine instance.
	Engine = Prefixed("ovl_", UUIDv7())
	// Request names one HTTP request to the enrichment backend.
	Request = Prefixed("req_", UUIDv7())
	// Session names one live browser session.
	Session = Prefixed("ses_", UUIDv7())
)

// New produces a bare UUID v7.
func New() string { return uuid.Must(uuid.NewV7()).String() }

// Parse validates an ID, with or without a "xxx_" prefix, and returns its
// UUID part.
func Parse(id string) (string, error) {
	raw := id
	if i := strings.IndexByte(id, '_'); i >= 0 {
		raw = id[i+1:]
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", id, err)
	}
	return u.String(), nil
}

var externalID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// FromHeader returns a caller-supplied request ID when it is safe to echo
// and log, or a fresh one.
func FromHeader(v string) string {
	if externalID.MatchString(v) {
		return v
	}
	return Request()
}
