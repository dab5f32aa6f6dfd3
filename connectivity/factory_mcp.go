package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// mcpConfig is the per-route transport config.
type mcpConfig struct {
	ToolName  string `json:"tool_name"`
	TimeoutMs int64  `json:"timeout_ms"`
}

var mcpImpl = &mcp.Implementation{Name: "mplens-connectivity", Version: "0.1.0"}

// MCPFactory builds Handlers that call one MCP tool over the streamable
// HTTP transport. The payload is the JSON object of tool arguments and the
// response is the tool's first text content. The session is opened on the
// first call and reopened after a transport error, so a backend that is
// down at start does not drop the route.
//
//	{"tool_name": "mplens_product_info"}
func MCPFactory(opts ...FactoryOption) TransportFactory {
	fc := newFactoryConfig(opts)
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if err := fc.validate(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/mcp: %w", err)
		}
		var cfg mcpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/mcp: parse config: %w", err)
			}
		}
		if cfg.ToolName == "" {
			return nil, nil, fmt.Errorf("connectivity/mcp: tool_name required in config")
		}
		timeout := 30 * time.Second
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}

		c := &mcpCaller{
			endpoint: endpoint,
			tool:     cfg.ToolName,
			client:   mcp.NewClient(mcpImpl, nil),
			http:     fc.httpClient(timeout),
		}
		return c.call, c.close, nil
	}
}

type mcpCaller struct {
	endpoint string
	tool     string
	client   *mcp.Client
	http     *http.Client

	mu      sync.Mutex
	session *mcp.ClientSession
	closed  bool
}

func (c *mcpCaller) connect(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connectivity/mcp: transport closed")
	}
	if c.session != nil {
		return c.session, nil
	}
	s, err := c.client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   c.endpoint,
		HTTPClient: c.http,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connectivity/mcp: connect %s: %w", c.endpoint, err)
	}
	c.session = s
	return s, nil
}

// drop forgets s so the next call reconnects.
func (c *mcpCaller) drop(s *mcp.ClientSession) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	s.Close()
}

func (c *mcpCaller) call(ctx context.Context, payload []byte) ([]byte, error) {
	var args map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, fmt.Errorf("connectivity/mcp: unmarshal args: %w", err)
		}
	}

	s, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.CallTool(ctx, &mcp.CallToolParams{Name: c.tool, Arguments: args})
	if err != nil {
		if ctx.Err() == nil {
			c.drop(s)
		}
		return nil, fmt.Errorf("connectivity/mcp: call %s: %w", c.tool, err)
	}

	text := ""
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			text = tc.Text
			break
		}
	}
	if res.IsError {
		return nil, fmt.Errorf("connectivity/mcp: tool %s: %s", c.tool, text)
	}
	return []byte(text), nil
}

func (c *mcpCaller) close() {
	c.mu.Lock()
	s := c.session
	c.session, c.closed = nil, true
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
	c.http.CloseIdleConnections()
}
