package server

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/mplens/connectivity"
	"github.com/hazyhaar/mplens/enrichment"
)

// RegisterConnectivity registers the three enrichment services as local
// handlers, for running the overlay and the backend in one process.
//
//	mplens_known_identifiers : {} → KnownIdentifiers
//	mplens_product_info      : ProductRequest → OzonResponse
//	mplens_wb_product_info   : ProductRequest → WBResponse
func (s *Server) RegisterConnectivity(router *connectivity.Router) {
	for _, name := range []string{
		enrichment.ServiceKnownIdentifiers,
		enrichment.ServiceProductInfo,
		enrichment.ServiceWBProductInfo,
	} {
		router.RegisterLocal(name, s.localHandler(name))
	}
}

func (s *Server) localHandler(name string) connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		_, body := s.call(ctx, name, payload)
		return json.Marshal(body)
	}
}
