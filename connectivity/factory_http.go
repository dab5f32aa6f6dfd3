package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/mplens/horosafe"
)

// maxHTTPResponseBody caps remote response reads (10 MiB).
const maxHTTPResponseBody int64 = 10 << 20

type factoryConfig struct {
	allowPrivate bool
	client       *http.Client
}

// FactoryOption configures HTTPFactory and MCPFactory.
type FactoryOption func(*factoryConfig)

// WithAllowPrivate accepts loopback and private endpoints. The usual
// deployment runs the enrichment backend on localhost or the LAN.
func WithAllowPrivate() FactoryOption {
	return func(c *factoryConfig) { c.allowPrivate = true }
}

// WithHTTPClient sets the base HTTP client. Per-route timeouts still apply.
func WithHTTPClient(hc *http.Client) FactoryOption {
	return func(c *factoryConfig) { c.client = hc }
}

func newFactoryConfig(opts []FactoryOption) factoryConfig {
	var c factoryConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c factoryConfig) validate(endpoint string) error {
	if c.allowPrivate {
		return horosafe.ValidateURL(endpoint, horosafe.AllowPrivate())
	}
	return horosafe.ValidateURL(endpoint)
}

func (c factoryConfig) httpClient(timeout time.Duration) *http.Client {
	hc := &http.Client{Timeout: timeout}
	if c.client != nil {
		cp := *c.client
		cp.Timeout = timeout
		hc = &cp
	}
	return hc
}

// httpConfig is the per-route transport config.
type httpConfig struct {
	TimeoutMs   int64  `json:"timeout_ms"`
	ContentType string `json:"content_type"`
}

// HTTPFactory builds Handlers that POST the payload to the route endpoint
// and return the response body. The endpoint is the full URL of one
// service, e.g. "http://127.0.0.1:5000/api/extension/rpc/mplens_product_info".
// Non-2xx answers are errors.
//
//	router.RegisterTransport("http", connectivity.HTTPFactory())
func HTTPFactory(opts ...FactoryOption) TransportFactory {
	fc := newFactoryConfig(opts)
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if err := fc.validate(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}

		var cfg httpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: parse config: %w", err)
			}
		}
		timeout := 30 * time.Second
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		contentType := "application/json"
		if cfg.ContentType != "" {
			contentType = cfg.ContentType
		}
		client := fc.httpClient(timeout)

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: create request: %w", err)
			}
			req.Header.Set("Content-Type", contentType)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do request: %w", err)
			}
			defer resp.Body.Close()

			body, err := horosafe.LimitedReadAll(resp.Body, maxHTTPResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("connectivity/http: status %d: %s", resp.StatusCode, body)
			}
			return body, nil
		}
		return handler, client.CloseIdleConnections, nil
	}
}
