// Package marketplace holds the identifier grammars of the supported
// marketplace layouts. A Profile is chosen once from the page host name and
// is the only place where marketplace-specific parsing lives: scanning and
// hover logic only see the Profile interface.
package marketplace

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ID names a marketplace layout.
type ID string

const (
	OZON ID = "ozon" // variant A: "article/size"
	WB   ID = "wb"   // variant B: "article[-N]"
)

// ErrUnknownMarketplace is returned by ByID for an unsupported ID.
var ErrUnknownMarketplace = errors.New("marketplace: unknown marketplace")

// ParsedIdentifier is the structured form of an identifier found in page text.
type ParsedIdentifier struct {
	Article string `json:"article"`
	Size    string `json:"size,omitempty"`
	HasSize bool   `json:"has_size,omitempty"`
	Full    string `json:"full"`
}

// Profile is the identifier grammar of one marketplace layout.
// Implementations are immutable and safe for concurrent use.
type Profile interface {
	ID() ID
	// Pattern is the cheap pre-filter applied to trimmed text during traversal.
	Pattern() *regexp.Regexp
	// Parse returns false for any text that is not an identifier.
	Parse(text string) (ParsedIdentifier, bool)
	// Normalize returns the aggregation key used for membership and caching.
	Normalize(article string) string
	// KnownKeys lists the forms under which the backend may store article.
	KnownKeys(article string) []string
}

var (
	ozonPattern    = regexp.MustCompile(`^[\d-]+/[\w.,]+$`)
	ozonArticle    = regexp.MustCompile(`^\d[\d-]*$`)
	wbPattern      = regexp.MustCompile(`^\d{7,}(-\d+)?$`)
	wbSuffix       = regexp.MustCompile(`-\d+$`)
	ozonProfileVal = ozonProfile{}
	wbProfileVal   = wbProfile{}
)

// Ozon returns the variant A profile.
func Ozon() Profile { return ozonProfileVal }

// Wildberries returns the variant B profile.
func Wildberries() Profile { return wbProfileVal }

// ByID returns the profile for id.
func ByID(id ID) (Profile, error) {
	switch ID(strings.ToLower(string(id))) {
	case OZON:
		return ozonProfileVal, nil
	case WB:
		return wbProfileVal, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMarketplace, id)
}

// Detect maps a page host name to its profile. It returns nil for hosts
// that belong to no supported marketplace; the overlay stays inert there.
// Only the marketplace domain and its subdomains match, not look-alikes
// that merely contain it.
func Detect(hostname string) Profile {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")

	switch {
	case matchDomain(host, "ozon.ru"):
		return ozonProfileVal
	case matchDomain(host, "wildberries.ru"):
		return wbProfileVal
	}
	return nil
}

func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

type ozonProfile struct{}

func (ozonProfile) ID() ID                  { return OZON }
func (ozonProfile) Pattern() *regexp.Regexp { return ozonPattern }

func (ozonProfile) Parse(text string) (ParsedIdentifier, bool) {
	text = strings.TrimSpace(text)
	if !ozonPattern.MatchString(text) {
		return ParsedIdentifier{}, false
	}

	parts := strings.Split(text, "/")
	if len(parts) != 2 {
		return ParsedIdentifier{}, false
	}
	if !ozonArticle.MatchString(parts[0]) {
		return ParsedIdentifier{}, false
	}

	return ParsedIdentifier{
		Article: parts[0],
		Size:    parts[1],
		HasSize: true,
		Full:    text,
	}, true
}

func (ozonProfile) Normalize(article string) string { return article }

func (ozonProfile) KnownKeys(article string) []string { return []string{article} }

type wbProfile struct{}

func (wbProfile) ID() ID                  { return WB }
func (wbProfile) Pattern() *regexp.Regexp { return wbPattern }

func (wbProfile) Parse(text string) (ParsedIdentifier, bool) {
	text = strings.TrimSpace(text)
	if !wbPattern.MatchString(text) {
		return ParsedIdentifier{}, false
	}
	return ParsedIdentifier{Article: text, Full: text}, true
}

// Normalize strips the trailing "-N" colour/variant suffix.
func (wbProfile) Normalize(article string) string {
	return wbSuffix.ReplaceAllString(article, "")
}

// KnownKeys tolerates a backend that stores either the base or the
// suffixed article.
func (p wbProfile) KnownKeys(article string) []string {
	base := p.Normalize(article)
	if base == article {
		return []string{article}
	}
	return []string{base, article}
}
