package supplier

import (
	"context"
	"strings"
	"time"

	"parts-aggregator/internal/models"

	"github.com/shopspring/decimal"
)

// StaticName is the source name of the in-memory catalog
const StaticName = "static"

// StaticAdapter serves a fixed in-memory catalog. It backs the "mock" supplier
// mode so the service can run without vendor credentials.
type StaticAdapter struct {
	name    string
	items   []models.CanonicalItem
	vehicle map[string][]string
	latency time.Duration
}

// NewStaticAdapter creates a static adapter over items. vehicle maps a VIN to
// the articles fitting that vehicle.
func NewStaticAdapter(name string, items []models.CanonicalItem, vehicle map[string][]string, latency time.Duration) *StaticAdapter {
	if name == "" {
		name = StaticName
	}
	owned := make([]models.CanonicalItem, len(items))
	copy(owned, items)
	for i := range owned {
		if owned[i].SourceLabel == "" {
			owned[i].SourceLabel = name
		}
	}

	index := make(map[string][]string, len(vehicle))
	for vin, articles := range vehicle {
		index[strings.ToUpper(vin)] = articles
	}

	return &StaticAdapter{
		name:    name,
		items:   owned,
		vehicle: index,
		latency: latency,
	}
}

// Name returns the source name
func (a *StaticAdapter) Name() string {
	return a.name
}

// Search matches items by article and optional brand, or by VIN fitment
func (a *StaticAdapter) Search(ctx context.Context, q Query) ([]models.CanonicalItem, error) {
	if a.latency > 0 {
		select {
		case <-time.After(a.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if q.IsVIN() {
		var result []models.CanonicalItem
		for _, article := range a.vehicle[strings.ToUpper(q.VIN)] {
			result = append(result, a.match(article, "", false)...)
		}
		if result == nil {
			result = []models.CanonicalItem{}
		}
		return result, nil
	}

	return a.match(q.Article, q.Brand, q.IncludeAnalogs), nil
}

// Lookup finds an item by the vendor part of its resource id
func (a *StaticAdapter) Lookup(ctx context.Context, vendorID string) (*models.CanonicalItem, error) {
	rid := ResourceID(a.name, vendorID)
	for _, item := range a.items {
		if item.ResourceID == rid {
			found := item
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (a *StaticAdapter) match(article, brand string, analogs bool) []models.CanonicalItem {
	result := []models.CanonicalItem{}
	names := make(map[string]struct{})
	for _, item := range a.items {
		if item.SamePart(article, brand) {
			item.IsAnalog = false
			result = append(result, item)
			names[models.NormalizeKey(item.Name)] = struct{}{}
		}
	}
	if !analogs {
		return result
	}

	// analogs are parts of the same kind under another article
	for _, item := range a.items {
		if _, ok := names[models.NormalizeKey(item.Name)]; ok && !item.SamePart(article, "") {
			item.IsAnalog = true
			result = append(result, item)
		}
	}
	return result
}

// DemoCatalog returns the catalog served in mock mode
func DemoCatalog() ([]models.CanonicalItem, map[string][]string) {
	items := []models.CanonicalItem{
		{ResourceID: "static:1", Article: "0986424797", Brand: "Bosch", Name: "Brake pad set", UnitCost: decimal.NewFromInt(2350), StockQuantity: 12},
		{ResourceID: "static:2", Article: "0986424797", Brand: "Bosch", Name: "Brake pad set", UnitCost: decimal.NewFromInt(2290), StockQuantity: 4, SourceLabel: "static/remote"},
		{ResourceID: "static:3", Article: "GDB1330", Brand: "TRW", Name: "Brake pad set", UnitCost: decimal.NewFromInt(1980), StockQuantity: 7},
		{ResourceID: "static:4", Article: "OC90", Brand: "Mahle", Name: "Oil filter", UnitCost: decimal.NewFromInt(410), StockQuantity: 40},
		{ResourceID: "static:5", Article: "W712/75", Brand: "Mann", Name: "Oil filter", UnitCost: decimal.NewFromInt(380), StockQuantity: 25},
	}
	vehicle := map[string][]string{
		"WVWZZZ1JZXW000001": {"0986424797", "OC90"},
	}
	return items, vehicle
}
