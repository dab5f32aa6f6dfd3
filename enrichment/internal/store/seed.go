package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/mplens/dbopen"
)

// Token is a seller account on one marketplace.
type Token struct {
	ID          int64
	Name        string
	Marketplace string
	Active      bool
}

// Good is one article in one size.
type Good struct {
	ID         int64
	VendorCode string
	TechSize   string
}

// OzonStock is a per-offer stock snapshot.
type OzonStock struct {
	TokenID  int64
	OfferID  string
	FBO, FBS int
	Date     time.Time
}

// OzonOrder is one posting with its status.
type OzonOrder struct {
	TokenID int64
	OfferID string
	Status  string
}

// WBStock is a per-product stock snapshot.
type WBStock struct {
	TokenID       int64
	ProductID     int64
	Quantity      int
	InWayToClient int
	Date          time.Time
}

// WBOrder is one order line.
type WBOrder struct {
	TokenID         int64
	SupplierArticle string
	TechSize        string
	Cancelled       bool
}

// WBSale is one completed sale.
type WBSale struct {
	TokenID   int64
	ProductID int64
}

// Seed is a batch of rows written in one transaction.
type Seed struct {
	Tokens     []Token
	Goods      []Good
	OzonStocks []OzonStock
	OzonOrders []OzonOrder
	WBStocks   []WBStock
	WBOrders   []WBOrder
	WBSales    []WBSale
}

// Seed writes every row of seed.
func (s *Store) Seed(ctx context.Context, seed Seed) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, t := range seed.Tokens {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tokens (id, name, marketplace, is_active) VALUES (?, NULLIF(?, ''), ?, ?)`,
				t.ID, t.Name, t.Marketplace, t.Active); err != nil {
				return fmt.Errorf("token %d: %w", t.ID, err)
			}
		}
		for _, g := range seed.Goods {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO goods (id, vendor_code, tech_size) VALUES (?, ?, NULLIF(?, ''))`,
				g.ID, g.VendorCode, g.TechSize); err != nil {
				return fmt.Errorf("good %d: %w", g.ID, err)
			}
		}
		for _, r := range seed.OzonStocks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ozon_stocks (token_id, offer_id, fbo_present, fbs_present, date) VALUES (?, ?, ?, ?, ?)`,
				r.TokenID, r.OfferID, r.FBO, r.FBS, r.Date.UTC().Format(time.DateTime)); err != nil {
				return fmt.Errorf("ozon stock %s: %w", r.OfferID, err)
			}
		}
		for _, r := range seed.OzonOrders {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ozon_orders (token_id, offer_id, status) VALUES (?, ?, ?)`,
				r.TokenID, r.OfferID, r.Status); err != nil {
				return fmt.Errorf("ozon order %s: %w", r.OfferID, err)
			}
		}
		for _, r := range seed.WBStocks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO wb_stocks (token_id, product_id, quantity, in_way_to_client, date) VALUES (?, ?, ?, ?, ?)`,
				r.TokenID, r.ProductID, r.Quantity, r.InWayToClient, r.Date.UTC().Format(time.DateTime)); err != nil {
				return fmt.Errorf("wb stock %d: %w", r.ProductID, err)
			}
		}
		for _, r := range seed.WBOrders {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO wb_orders (token_id, supplier_article, tech_size, is_cancel) VALUES (?, ?, NULLIF(?, ''), ?)`,
				r.TokenID, r.SupplierArticle, r.TechSize, r.Cancelled); err != nil {
				return fmt.Errorf("wb order %s: %w", r.SupplierArticle, err)
			}
		}
		for _, r := range seed.WBSales {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO wb_sales (token_id, product_id) VALUES (?, ?)`,
				r.TokenID, r.ProductID); err != nil {
				return fmt.Errorf("wb sale %d: %w", r.ProductID, err)
			}
		}
		return bumpUserVersion(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("store: seed: %w", err)
	}
	s.logger.Info("store: seeded",
		"tokens", len(seed.Tokens), "goods", len(seed.Goods),
		"ozon_orders", len(seed.OzonOrders), "wb_orders", len(seed.WBOrders))
	return nil
}

// Demo returns a small data set with one OZON and two WB accounts, usable
// against the demo pages and in tests. today dates the stock snapshots.
func Demo(today time.Time) Seed {
	yesterday := today.AddDate(0, 0, -1)
	seed := Seed{
		Tokens: []Token{
			{ID: 1, Name: "Основной", Marketplace: MarketplaceOzon, Active: true},
			{ID: 2, Name: "Склад Москва", Marketplace: MarketplaceWB, Active: true},
			{ID: 3, Marketplace: MarketplaceWB, Active: true},
			{ID: 4, Name: "Старый", Marketplace: MarketplaceOzon, Active: false},
		},
		Goods: []Good{
			{ID: 10, VendorCode: "3009030003", TechSize: "M"},
			{ID: 11, VendorCode: "3009030003", TechSize: "L"},
			{ID: 12, VendorCode: "4001", TechSize: "6.5"},
			{ID: 13, VendorCode: "51203", TechSize: "42"},
		},
		OzonStocks: []OzonStock{
			{TokenID: 1, OfferID: "3009030003/M", FBO: 5, FBS: 2, Date: today},
			{TokenID: 1, OfferID: "'3009030003/M", FBO: 1, Date: today},
			{TokenID: 1, OfferID: "3009030003/M", FBO: 40, Date: yesterday},
			{TokenID: 4, OfferID: "3009030003/M", FBO: 99, Date: today},
			{TokenID: 1, OfferID: "4001/65", FBS: 3, Date: today},
		},
		WBStocks: []WBStock{
			{TokenID: 2, ProductID: 13, Quantity: 12, InWayToClient: 2, Date: today},
			{TokenID: 3, ProductID: 13, Quantity: 4, Date: today},
			{TokenID: 2, ProductID: 13, Quantity: 50, Date: yesterday},
		},
	}
	for i := 0; i < 8; i++ {
		seed.OzonOrders = append(seed.OzonOrders, OzonOrder{TokenID: 1, OfferID: "3009030003/M", Status: "delivered"})
	}
	seed.OzonOrders = append(seed.OzonOrders,
		OzonOrder{TokenID: 1, OfferID: "3009030003/M", Status: "cancelled"},
		OzonOrder{TokenID: 1, OfferID: "'3009030003/M", Status: "awaiting_packaging"},
		OzonOrder{TokenID: 1, OfferID: "3009030003/L", Status: "delivered"},
	)
	for i := 0; i < 6; i++ {
		seed.WBOrders = append(seed.WBOrders, WBOrder{TokenID: 2, SupplierArticle: "51203", TechSize: "42", Cancelled: i == 0})
	}
	seed.WBOrders = append(seed.WBOrders, WBOrder{TokenID: 3, SupplierArticle: "51203", TechSize: "42", Cancelled: true})
	for i := 0; i < 3; i++ {
		seed.WBSales = append(seed.WBSales, WBSale{TokenID: 2, ProductID: 13})
	}
	return seed
}

// bumpUserVersion lets watchers on the same connection see the write.
func bumpUserVersion(ctx context.Context, tx *sql.Tx) error {
	var v int64
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return fmt.Errorf("user_version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
		return fmt.Errorf("user_version: %w", err)
	}
	return nil
}
