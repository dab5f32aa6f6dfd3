package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/mplens/marketplace"
)

// Caller dispatches a named service call. *connectivity.Router satisfies it.
type Caller interface {
	Call(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// Client implements Service over a Caller. Every failure comes back as a
// *FetchError together with a tagged, unsuccessful value, never a panic or
// a nil result.
type Client struct {
	caller Caller
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client dispatching through caller.
func NewClient(caller Caller, opts ...ClientOption) *Client {
	c := &Client{caller: caller, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchKnownIdentifiers loads the seller's article list.
func (c *Client) FetchKnownIdentifiers(ctx context.Context) (*KnownIdentifiers, error) {
	resp, err := c.caller.Call(ctx, ServiceKnownIdentifiers, []byte("{}"))
	if err != nil {
		return &KnownIdentifiers{Error: err.Error()}, &FetchError{
			Service: ServiceKnownIdentifiers, Message: MsgConnection, Transport: true, Err: err,
		}
	}

	var out KnownIdentifiers
	if err := json.Unmarshal(resp, &out); err != nil {
		return &KnownIdentifiers{Error: "malformed response"}, &FetchError{
			Service: ServiceKnownIdentifiers, Message: MsgConnection, Transport: true,
			Err: fmt.Errorf("decode: %w", err),
		}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = MsgNoData
		}
		return &out, &FetchError{Service: ServiceKnownIdentifiers, Message: msg}
	}
	if out.Count == 0 {
		out.Count = len(out.Articles)
	}
	return &out, nil
}

// FetchEnrichment looks up one identifier. size is ignored for variant B.
func (c *Client) FetchEnrichment(ctx context.Context, mp marketplace.ID, article, size string) (*ProductInfo, error) {
	var service string
	switch mp {
	case marketplace.OZON:
		service = ServiceProductInfo
	case marketplace.WB:
		service = ServiceWBProductInfo
		size = ""
	default:
		return Failed(mp, MsgNoData), &FetchError{
			Article: article, Message: MsgNoData,
			Err: fmt.Errorf("%w: %q", marketplace.ErrUnknownMarketplace, mp),
		}
	}

	payload, err := json.Marshal(ProductRequest{Article: article, Size: size})
	if err != nil {
		return Failed(mp, MsgNoData), &FetchError{Service: service, Article: article, Message: MsgNoData, Err: err}
	}

	resp, err := c.caller.Call(ctx, service, payload)
	if err != nil {
		c.logger.WarnContext(ctx, "enrichment: call failed",
			"service", service, "article", article, "error", err)
		return Failed(mp, MsgConnection), &FetchError{
			Service: service, Article: article, Message: MsgConnection, Transport: true, Err: err,
		}
	}

	info, err := decodeProduct(mp, resp)
	if err != nil {
		return Failed(mp, MsgConnection), &FetchError{
			Service: service, Article: article, Message: MsgConnection, Transport: true, Err: err,
		}
	}
	if !info.Success {
		if info.Error == "" {
			info.Error = MsgNoData
		}
		return info, &FetchError{Service: service, Article: article, Message: info.Error}
	}
	return info, nil
}

func decodeProduct(mp marketplace.ID, data []byte) (*ProductInfo, error) {
	info := &ProductInfo{Marketplace: mp}
	switch mp {
	case marketplace.OZON:
		var r OzonResponse
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		info.Success, info.Error = r.Success, r.Error
		if r.Success {
			if r.OzonInfo == nil {
				return nil, fmt.Errorf("decode: empty ozon payload")
			}
			info.Ozon = r.OzonInfo
		}
	case marketplace.WB:
		var r WBResponse
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		info.Success, info.Error = r.Success, r.Error
		if r.Success {
			if r.WBInfo == nil {
				return nil, fmt.Errorf("decode: empty wb payload")
			}
			info.WB = r.WBInfo
		}
	}
	return info, nil
}
