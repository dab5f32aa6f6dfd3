package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/kit"
)

// RegisterMCP registers one tool per enrichment service. Tools answer with
// the same tagged JSON as the other transports.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        enrichment.ServiceKnownIdentifiers,
		Description: "List the seller's article numbers (vendor codes) known to the statistics database.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.tagged(enrichment.ServiceKnownIdentifiers), kit.DecodeJSON[struct{}]())

	productProps := map[string]any{
		"article": map[string]any{"type": "string", "description": "Seller article (vendor code)"},
		"size":    map[string]any{"type": "string", "description": "Size as printed on the marketplace, e.g. 65 or M"},
	}
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        enrichment.ServiceProductInfo,
		Description: "OZON stock, orders and buyout percent for one article/size offer.",
		InputSchema: inputSchema(productProps, []string{"article"}),
	}, s.tagged(enrichment.ServiceProductInfo), kit.DecodeJSON[enrichment.ProductRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        enrichment.ServiceWBProductInfo,
		Description: "Wildberries stock and orders per size and seller account for one article.",
		InputSchema: inputSchema(map[string]any{"article": productProps["article"]}, []string{"article"}),
	}, s.tagged(enrichment.ServiceWBProductInfo), kit.DecodeJSON[enrichment.ProductRequest]())
}

// tagged adapts a service to kit: failures become tagged values, not tool
// errors.
func (s *Server) tagged(name string) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		_, body := s.dispatch(ctx, name, req)
		return body, nil
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
