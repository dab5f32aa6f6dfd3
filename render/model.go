// Package render turns enrichment results into marketplace-tagged tooltip
// models and renders those as sanitized HTML or markdown.
package render

import (
	"strconv"

	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/marketplace"
)

// Kind selects the tooltip layout.
type Kind string

const (
	KindOzon  Kind = "ozon"
	KindWB    Kind = "wb"
	KindError Kind = "error"
)

// MsgNoSizes is shown for a variant B article without size rows.
const MsgNoSizes = "Нет данных по размерам"

// Model is what a presenter shows for one hovered identifier.
type Model struct {
	Marketplace marketplace.ID `json:"marketplace"`
	Kind        Kind           `json:"kind"`
	Title       string         `json:"title,omitempty"`
	Rows        []Row          `json:"rows,omitempty"`
	Table       *Table         `json:"table,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Row is one label/value line of the variant A tooltip.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Class string `json:"class"`
}

// Table is the variant B sizes × accounts grid.
type Table struct {
	Tokens []string   `json:"tokens"`
	Rows   []TableRow `json:"rows"`
}

// TableRow holds one size.
type TableRow struct {
	Size  string `json:"size"`
	Cells []Cell `json:"cells"`
}

// Cell is one account's stock and orders for a size.
type Cell struct {
	Stock       int    `json:"stock"`
	Orders      int    `json:"orders"`
	StockClass  string `json:"stock_class"`
	OrdersClass string `json:"orders_class"`
}

// Build makes the model for a resolved lookup. A non-empty errMsg, a nil
// info or an unsuccessful info yields an error model.
func Build(mp marketplace.ID, parsed marketplace.ParsedIdentifier, info *enrichment.ProductInfo, errMsg string) Model {
	m := Model{Marketplace: mp}

	if msg := failure(info, errMsg); msg != "" {
		m.Kind, m.Error = KindError, msg
		return m
	}

	switch {
	case info.Ozon != nil:
		return buildOzon(m, parsed, info.Ozon)
	case info.WB != nil:
		return buildWB(m, parsed, info.WB)
	}
	m.Kind, m.Error = KindError, enrichment.MsgNoData
	return m
}

// Error makes an error model.
func Error(mp marketplace.ID, msg string) Model {
	return Model{Marketplace: mp, Kind: KindError, Error: msg}
}

func failure(info *enrichment.ProductInfo, errMsg string) string {
	switch {
	case errMsg != "":
		return errMsg
	case info == nil:
		return enrichment.MsgNoData
	case !info.Success && info.Error != "":
		return info.Error
	case !info.Success:
		return enrichment.MsgNoData
	}
	return ""
}

func buildOzon(m Model, parsed marketplace.ParsedIdentifier, o *enrichment.OzonInfo) Model {
	article, size := o.Article, o.Size
	if article == "" {
		article, size = parsed.Article, parsed.Size
	}

	m.Kind = KindOzon
	m.Title = article + "/" + size
	m.Rows = []Row{
		{Label: "Остаток:", Value: strconv.Itoa(o.Stock) + " шт", Class: "stock"},
		{Label: "Заказов:", Value: strconv.Itoa(o.OrdersTotal), Class: "orders"},
		{Label: "Выкуплено:", Value: strconv.Itoa(o.Delivered), Class: "delivered"},
		{Label: "Отменено:", Value: strconv.Itoa(o.Cancelled), Class: "cancelled"},
		{Label: "% выкупа:", Value: Percent(o.BuyoutPercent) + "%", Class: PercentClass(o.BuyoutPercent)},
		{Label: "Доставляется:", Value: strconv.Itoa(o.Delivering), Class: "orders"},
	}
	return m
}

func buildWB(m Model, parsed marketplace.ParsedIdentifier, w *enrichment.WBInfo) Model {
	if len(w.Sizes) == 0 {
		m.Kind, m.Error = KindError, MsgNoSizes
		return m
	}

	m.Kind = KindWB
	m.Title = w.Article
	if m.Title == "" {
		m.Title = parsed.Article
	}

	t := &Table{Tokens: w.TokenNames}
	for _, s := range w.Sizes {
		row := TableRow{Size: s.Size}
		for _, tok := range s.Tokens {
			row.Cells = append(row.Cells, Cell{
				Stock:       tok.Stock,
				Orders:      tok.OrdersTotal,
				StockClass:  nonZero(tok.Stock, "stock"),
				OrdersClass: nonZero(tok.OrdersTotal, "orders"),
			})
		}
		t.Rows = append(t.Rows, row)
	}
	m.Table = t
	return m
}

// PercentClass grades a buyout percentage.
func PercentClass(p float64) string {
	switch {
	case p >= 80:
		return "percent good"
	case p < 50:
		return "percent bad"
	}
	return "percent"
}

// Percent formats p without trailing zeros.
func Percent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func nonZero(v int, class string) string {
	if v > 0 {
		return class
	}
	return "zero"
}
