// Package enrichment defines the enrichment service boundary: the wire
// shapes exchanged with the backend and a Client that reaches it through a
// connectivity router, locally or over HTTP.
package enrichment

import (
	"context"

	"github.com/hazyhaar/mplens/marketplace"
)

// Service names registered on the connectivity router.
const (
	ServiceKnownIdentifiers = "mplens_known_identifiers"
	ServiceProductInfo      = "mplens_product_info"
	ServiceWBProductInfo    = "mplens_wb_product_info"
)

// Service is the enrichment backend as seen by the overlay engine.
type Service interface {
	FetchKnownIdentifiers(ctx context.Context) (*KnownIdentifiers, error)
	FetchEnrichment(ctx context.Context, mp marketplace.ID, article, size string) (*ProductInfo, error)
}

// KnownIdentifiers is the seller's article list.
type KnownIdentifiers struct {
	Success  bool     `json:"success"`
	Articles []string `json:"articles,omitempty"`
	Count    int      `json:"count"`
	Error    string   `json:"error,omitempty"`
}

// ProductRequest is the payload of the product-info services.
type ProductRequest struct {
	Article string `json:"article"`
	Size    string `json:"size,omitempty"`
}

// OzonInfo holds per-offer statistics for variant A.
type OzonInfo struct {
	Article       string  `json:"article"`
	Size          string  `json:"size"`
	OfferID       string  `json:"offer_id"`
	ProductExists bool    `json:"product_exists"`
	Stock         int     `json:"stock"`
	OrdersTotal   int     `json:"orders_total"`
	Delivered     int     `json:"delivered"`
	Cancelled     int     `json:"cancelled"`
	Delivering    int     `json:"delivering"`
	BuyoutPercent float64 `json:"buyout_percent"`
}

// OzonResponse is the wire shape of the variant A product-info service.
type OzonResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	*OzonInfo
}

// WBTokenStats is one seller account's figures for one size.
type WBTokenStats struct {
	TokenID       int64   `json:"token_id"`
	TokenName     string  `json:"token_name"`
	Stock         int     `json:"stock"`
	InWayToClient int     `json:"in_way_to_client"`
	OrdersTotal   int     `json:"orders_total"`
	Delivered     int     `json:"delivered"`
	Cancelled     int     `json:"cancelled"`
	BuyoutPercent float64 `json:"buyout_percent"`
}

// WBSize groups token figures under one tech size.
type WBSize struct {
	Size   string         `json:"size"`
	Tokens []WBTokenStats `json:"tokens"`
}

// WBInfo holds per-size, per-token statistics for variant B.
type WBInfo struct {
	Article    string   `json:"article"`
	Sizes      []WBSize `json:"sizes"`
	TokenNames []string `json:"token_names"`
}

// WBResponse is the wire shape of the variant B product-info service.
type WBResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	*WBInfo
}

// ProductInfo is the marketplace-tagged enrichment record handed to the
// overlay. Exactly one of Ozon and WB is set when Success is true.
type ProductInfo struct {
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Marketplace marketplace.ID `json:"marketplace"`
	Ozon        *OzonInfo      `json:"ozon,omitempty"`
	WB          *WBInfo        `json:"wb,omitempty"`
}

// Failed builds an unsuccessful ProductInfo carrying msg.
func Failed(mp marketplace.ID, msg string) *ProductInfo {
	return &ProductInfo{Marketplace: mp, Error: msg}
}
