// Package store answers the extension queries from the marketplace
// statistics database: the seller's article list, per-offer OZON figures
// and per-size, per-account WB figures.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hazyhaar/mplens/enrichment"
)

// Token marketplace values.
const (
	MarketplaceOzon = "ozon"
	MarketplaceWB   = "wildberries"
)

var (
	// ErrNoTokens means no active seller account exists for the marketplace.
	ErrNoTokens = errors.New("store: no active tokens")
	// ErrNotFound means the article has no goods rows.
	ErrNotFound = errors.New("store: product not found")
)

// Store reads marketplace statistics from SQLite.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock that decides which stock snapshot is today's.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps db, which must already carry Schema.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) today() string {
	return s.now().UTC().Format(time.DateOnly)
}

// Articles returns the distinct non-empty vendor codes.
func (s *Store) Articles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT vendor_code FROM goods
		 WHERE vendor_code IS NOT NULL AND vendor_code != ''
		 ORDER BY vendor_code`)
	if err != nil {
		return nil, fmt.Errorf("store: articles: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("store: articles: scan: %w", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// OzonProductInfo aggregates today's stock and all-time order figures for
// one offer across every active OZON account. An offer is stored as
// "article/size", sometimes with a leading quote or another prefix.
func (s *Store) OzonProductInfo(ctx context.Context, article, size string) (*enrichment.OzonInfo, error) {
	ids, _, err := s.activeTokens(ctx, MarketplaceOzon)
	if err != nil {
		return nil, err
	}

	offerID := article
	if size != "" {
		offerID = article + "/" + size
	}
	tokenIn, tokenArgs := inClause(ids)
	match := `(offer_id = ? OR offer_id = ? OR offer_id LIKE ? ESCAPE '\')`
	matchArgs := []any{offerID, "'" + offerID, "%" + escapeLike(offerID)}

	info := &enrichment.OzonInfo{Article: article, Size: size, OfferID: offerID}

	stockArgs := append(append(append([]any{}, tokenArgs...), matchArgs...), s.today())
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(fbo_present + fbs_present), 0) FROM ozon_stocks
		 WHERE token_id IN `+tokenIn+` AND `+match+` AND date(date) = ?`,
		stockArgs...).Scan(&info.Stock)
	if err != nil {
		return nil, fmt.Errorf("store: ozon stock: %w", err)
	}

	orderArgs := append(append([]any{}, tokenArgs...), matchArgs...)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status IN ('delivering', 'awaiting_deliver', 'awaiting_packaging') THEN 1 ELSE 0 END), 0)
		 FROM ozon_orders
		 WHERE token_id IN `+tokenIn+` AND `+match,
		orderArgs...).Scan(&info.OrdersTotal, &info.Delivered, &info.Cancelled, &info.Delivering)
	if err != nil {
		return nil, fmt.Errorf("store: ozon orders: %w", err)
	}
	info.BuyoutPercent = BuyoutPercent(info.Delivered, info.Cancelled)

	info.ProductExists, err = s.productExists(ctx, article, size)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Store) productExists(ctx context.Context, article, size string) (bool, error) {
	q := `SELECT 1 FROM goods WHERE vendor_code = ?`
	args := []any{article}
	if size != "" {
		in, vargs := inClause(SizeVariants(size))
		q += ` AND tech_size IN ` + in
		args = append(args, vargs...)
	}
	var one int
	err := s.db.QueryRowContext(ctx, q+` LIMIT 1`, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("store: product exists: %w", err)
	}
	return true, nil
}

// WBProductInfo reports, for every size of article and every active WB
// account, today's stock, orders, sales and buyout percent.
func (s *Store) WBProductInfo(ctx context.Context, article string) (*enrichment.WBInfo, error) {
	ids, names, err := s.activeTokens(ctx, MarketplaceWB)
	if err != nil {
		return nil, err
	}

	type product struct {
		id   int64
		size sql.NullString
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tech_size FROM goods WHERE vendor_code = ? ORDER BY tech_size`, article)
	if err != nil {
		return nil, fmt.Errorf("store: wb goods: %w", err)
	}
	var products []product
	for rows.Next() {
		var p product
		if err := rows.Scan(&p.id, &p.size); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: wb goods: scan: %w", err)
		}
		products = append(products, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: wb goods: %w", err)
	}
	if len(products) == 0 {
		return nil, ErrNotFound
	}

	info := &enrichment.WBInfo{Article: article, TokenNames: names}
	today := s.today()
	for _, p := range products {
		size := enrichment.WBSize{Size: p.size.String}
		if size.Size == "" {
			size.Size = "-"
		}
		for i, tokenID := range ids {
			st := enrichment.WBTokenStats{TokenID: tokenID, TokenName: names[i]}

			err := s.db.QueryRowContext(ctx,
				`SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(in_way_to_client), 0)
				 FROM wb_stocks WHERE token_id = ? AND product_id = ? AND date(date) = ?`,
				tokenID, p.id, today).Scan(&st.Stock, &st.InWayToClient)
			if err != nil {
				return nil, fmt.Errorf("store: wb stock: %w", err)
			}

			// tech_size IS ? also matches goods rows without a size.
			err = s.db.QueryRowContext(ctx,
				`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_cancel THEN 1 ELSE 0 END), 0)
				 FROM wb_orders WHERE token_id = ? AND supplier_article = ? AND tech_size IS ?`,
				tokenID, article, p.size).Scan(&st.OrdersTotal, &st.Cancelled)
			if err != nil {
				return nil, fmt.Errorf("store: wb orders: %w", err)
			}

			err = s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM wb_sales WHERE token_id = ? AND product_id = ?`,
				tokenID, p.id).Scan(&st.Delivered)
			if err != nil {
				return nil, fmt.Errorf("store: wb sales: %w", err)
			}

			st.BuyoutPercent = BuyoutPercent(st.Delivered, st.Cancelled)
			size.Tokens = append(size.Tokens, st)
		}
		info.Sizes = append(info.Sizes, size)
	}
	return info, nil
}

// activeTokens returns the ids and display names of the active accounts of
// a marketplace, ordered by id. A token without a name displays as
// "Токен <id>".
func (s *Store) activeTokens(ctx context.Context, mp string) ([]int64, []string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM tokens WHERE marketplace = ? AND is_active = 1 ORDER BY id`, mp)
	if err != nil {
		return nil, nil, fmt.Errorf("store: tokens: %w", err)
	}
	defer rows.Close()

	var ids []int64
	var names []string
	for rows.Next() {
		var id int64
		var name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, nil, fmt.Errorf("store: tokens: scan: %w", err)
		}
		if name.String == "" {
			name.String = fmt.Sprintf("Токен %d", id)
		}
		ids = append(ids, id)
		names = append(names, name.String)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: tokens: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil, ErrNoTokens
	}
	return ids, names, nil
}

// BuyoutPercent is delivered / (delivered + cancelled) as a percentage
// rounded to one decimal, or 0 when nothing was settled.
func BuyoutPercent(delivered, cancelled int) float64 {
	base := delivered + cancelled
	if base == 0 {
		return 0
	}
	return math.Round(float64(delivered)/float64(base)*1000) / 10
}

func inClause[T any](vals []T) (string, []any) {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",") + ")", args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
