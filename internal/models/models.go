package models

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by stores for missing records
var ErrNotFound = errors.New("record not found")

// CanonicalItem is one offer of a part from one source
type CanonicalItem struct {
	ResourceID    string          `json:"resource_id,omitempty"`
	Article       string          `json:"article"`
	Brand         string          `json:"brand,omitempty"`
	Name          string          `json:"name"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	StockQuantity int             `json:"stock_quantity"`
	SourceLabel   string          `json:"source"`
	DeliveryDays  int             `json:"delivery_days,omitempty"`
	IsAnalog      bool            `json:"is_analog,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// DedupKey returns the identity of the physical part this offer refers to.
// Source, cost and stock never take part in it.
func (i CanonicalItem) DedupKey() string {
	return NormalizeKey(i.Article) + "\x1f" + NormalizeKey(i.Brand) + "\x1f" + NormalizeKey(i.Name)
}

// SamePart reports whether the offer is for the given article and brand.
// An empty brand matches any brand.
func (i CanonicalItem) SamePart(article, brand string) bool {
	if NormalizeKey(i.Article) != NormalizeKey(article) {
		return false
	}
	return brand == "" || NormalizeKey(i.Brand) == NormalizeKey(brand)
}

// NormalizeKey trims and case-folds an identifier for comparison
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PriceRule is one row of the administrator-maintained markup table
type PriceRule struct {
	ID             int64            `db:"id" json:"id"`
	BrandFilter    *string          `db:"brand_filter" json:"brand_filter,omitempty"`
	CategoryFilter *string          `db:"category_filter" json:"category_filter,omitempty"`
	PercentMarkup  decimal.Decimal  `db:"percent_markup" json:"percent_markup"`
	MinimumMargin  *decimal.Decimal `db:"minimum_margin" json:"minimum_margin,omitempty"`
	Active         bool             `db:"active" json:"active"`
}

// WarehouseStock is a row of the shop's own stock table
type WarehouseStock struct {
	ID           int64           `db:"id" json:"id"`
	Article      string          `db:"article" json:"article"`
	Brand        string          `db:"brand" json:"brand"`
	Name         string          `db:"name" json:"name"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	Quantity     int             `db:"quantity" json:"quantity"`
	Location     string          `db:"location" json:"location"`
	AnalogsGroup *string         `db:"analogs_group" json:"analogs_group,omitempty"`
}

// AggregatedQuery is the caller input for one logical search.
// Exactly one of Article, ResourceID or VIN is expected to be set.
type AggregatedQuery struct {
	Article        string `json:"article,omitempty"`
	Brand          string `json:"brand,omitempty"`
	ResourceID     string `json:"resource_id,omitempty"`
	VIN            string `json:"vin,omitempty"`
	IncludeAnalogs bool   `json:"include_analogs"`
	Category       string `json:"category,omitempty"`
}

// VINLength is the only accepted length of a vehicle identification number
const VINLength = 17
