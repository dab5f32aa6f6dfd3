// Package fetcher loads a page without a browser: one HTTP GET, or a local
// file, parsed into a dom.Document for a static scan.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/mplens/dom"
	"github.com/hazyhaar/mplens/horosafe"
)

// Result is a fetched and parsed page.
type Result struct {
	URL        string
	Host       string // empty for local files
	Doc        *dom.Document
	StatusCode int
	Size       int
	// Sufficient is false for script shells whose content only appears in
	// a browser.
	Sufficient bool
}

// Fetcher performs HTTP GETs and file reads.
type Fetcher struct {
	client       *http.Client
	ua           string
	maxBody      int64
	allowPrivate bool
	logger       *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithMaxBody caps the body size.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) { f.maxBody = n }
}

// WithAllowPrivate permits loopback and private hosts.
func WithAllowPrivate() Option {
	return func(f *Fetcher) { f.allowPrivate = true }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		ua:      "Mozilla/5.0 (compatible; mplens/1.0)",
		maxBody: 10 << 20,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Load fetches target when it is an http(s) URL and reads it from disk
// otherwise.
func (f *Fetcher) Load(ctx context.Context, target string) (*Result, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return f.Fetch(ctx, target)
	}
	return f.Open(target)
}

// Fetch GETs pageURL and parses the body.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	var vopts []horosafe.URLOption
	if f.allowPrivate {
		vopts = append(vopts, horosafe.AllowPrivate())
	}
	if err := horosafe.ValidateURL(pageURL, vopts...); err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	u, _ := url.Parse(pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, f.maxBody)
	if err != nil {
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{URL: pageURL, Code: resp.StatusCode}
	}

	res, err := parse(pageURL, u.Hostname(), body)
	if err != nil {
		return nil, err
	}
	res.StatusCode = resp.StatusCode

	f.logger.DebugContext(ctx, "fetcher: fetched",
		"url", pageURL, "status", resp.StatusCode,
		"size", len(body), "sufficient", res.Sufficient)
	return res, nil
}

// Open reads and parses a local HTML file.
func (f *Fetcher) Open(path string) (*Result, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fetcher: open: %w", err)
	}
	defer fh.Close()
	body, err := horosafe.LimitedReadAll(fh, f.maxBody)
	if err != nil {
		return nil, fmt.Errorf("fetcher: read %s: %w", path, err)
	}
	return parse(path, "", body)
}

func parse(src, host string, body []byte) (*Result, error) {
	doc, err := dom.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse %s: %w", src, err)
	}
	return &Result{
		URL:        src,
		Host:       host,
		Doc:        doc,
		Size:       len(body),
		Sufficient: IsSufficient(body),
	}, nil
}

// StatusError is an HTTP error status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: %s: status %d", e.URL, e.Code)
}
