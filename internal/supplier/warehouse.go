package supplier

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"parts-aggregator/internal/models"
	"parts-aggregator/internal/util"
)

// WarehouseName is the source name of the own-warehouse adapter
const WarehouseName = "warehouse"

// StockReader is the read side of the own-warehouse stock table.
// GetWarehouseStock returns models.ErrNotFound for unknown ids.
type StockReader interface {
	SearchWarehouseStock(ctx context.Context, article, brand string, withAnalogs bool) ([]models.WarehouseStock, error)
	GetWarehouseStock(ctx context.Context, id int64) (*models.WarehouseStock, error)
}

// WarehouseAdapter exposes the shop's own stock as one more upstream source
type WarehouseAdapter struct {
	reader StockReader
	label  string
	filter AcceptanceFilter
}

// NewWarehouseAdapter creates an own-warehouse adapter
func NewWarehouseAdapter(reader StockReader, label string, filter AcceptanceFilter) *WarehouseAdapter {
	if label == "" {
		label = WarehouseName
	}
	return &WarehouseAdapter{
		reader: reader,
		label:  label,
		filter: filter,
	}
}

// Name returns the source name
func (a *WarehouseAdapter) Name() string {
	return WarehouseName
}

// Search reads matching stock rows. VIN queries are not supported.
func (a *WarehouseAdapter) Search(ctx context.Context, q Query) ([]models.CanonicalItem, error) {
	if a.reader == nil || q.IsVIN() || q.Article == "" {
		return []models.CanonicalItem{}, nil
	}

	ctx, span := util.StartSpan(ctx, "WarehouseAdapter.Search")
	defer span.End()

	rows, err := a.reader.SearchWarehouseStock(ctx, q.Article, q.Brand, q.IncludeAnalogs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	items := make([]models.CanonicalItem, 0, len(rows))
	for _, row := range rows {
		if !a.filter.Accept(row.Quantity, a.filter.MinReliability) || row.UnitCost.IsNegative() {
			util.SupplierOffersDropped.WithLabelValues(WarehouseName).Inc()
			continue
		}
		item := a.toCanonical(row)
		item.IsAnalog = !item.SamePart(q.Article, "")
		items = append(items, item)
	}

	return items, nil
}

// Lookup reads a single stock row by id
func (a *WarehouseAdapter) Lookup(ctx context.Context, vendorID string) (*models.CanonicalItem, error) {
	if a.reader == nil {
		return nil, ErrNotConfigured
	}
	id, err := strconv.ParseInt(vendorID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid warehouse id %q", ErrNotFound, vendorID)
	}

	row, err := a.reader.GetWarehouseStock(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: warehouse row %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	item := a.toCanonical(*row)
	return &item, nil
}

func (a *WarehouseAdapter) toCanonical(row models.WarehouseStock) models.CanonicalItem {
	label := a.label
	if row.Location != "" {
		label = a.label + "/" + row.Location
	}
	return models.CanonicalItem{
		ResourceID:    ResourceID(WarehouseName, strconv.FormatInt(row.ID, 10)),
		Article:       row.Article,
		Brand:         row.Brand,
		Name:          row.Name,
		UnitCost:      row.UnitCost,
		StockQuantity: row.Quantity,
		SourceLabel:   label,
	}
}
