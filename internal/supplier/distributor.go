package supplier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parts-aggregator/internal/models"
	"parts-aggregator/internal/util"

	"golang.org/x/time/rate"
)

// DistributorName is the source name of the B2B distributor adapter
const DistributorName = "distributor"

// DistributorConfig holds the B2B distributor credentials
type DistributorConfig struct {
	BaseURL   string
	Login     string
	Password  string
	Filter    AcceptanceFilter
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 for unlimited
}

// IsConfigured reports whether login and password are present
func (c DistributorConfig) IsConfigured() bool {
	return c.BaseURL != "" && c.Login != "" && c.Password != ""
}

type distributorSearchRequest struct {
	Article     string `json:"article"`
	Brand       string `json:"brand,omitempty"`
	WithCrosses bool   `json:"with_crosses"`
}

type distributorError struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type distributorSearchResponse struct {
	Success bool              `json:"success"`
	Error   *distributorError `json:"error,omitempty"`
	Data    []json.RawMessage `json:"data"`
}

type distributorItemResponse struct {
	Success bool              `json:"success"`
	Error   *distributorError `json:"error,omitempty"`
	Data    json.RawMessage   `json:"data"`
}

type distributorRow struct {
	ID           int64   `json:"id"`
	Article      string  `json:"article"`
	Manufacturer string  `json:"manufacturer"`
	Title        string  `json:"title"`
	Cost         float64 `json:"cost"`
	Qty          int     `json:"qty"`
	Store        string  `json:"store"`
	Term         int     `json:"term"`
	Cross        bool    `json:"cross"`
}

// DistributorAdapter searches the B2B distributor price list.
// The distributor has no VIN catalog, so VIN queries yield nothing.
type DistributorAdapter struct {
	config     DistributorConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewDistributorAdapter creates a distributor adapter
func NewDistributorAdapter(config DistributorConfig) *DistributorAdapter {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &DistributorAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    newLimiter(config.RateLimit),
	}
}

// Name returns the source name
func (a *DistributorAdapter) Name() string {
	return DistributorName
}

// Search queries the distributor price list by article
func (a *DistributorAdapter) Search(ctx context.Context, q Query) ([]models.CanonicalItem, error) {
	if !a.config.IsConfigured() || q.IsVIN() || strings.TrimSpace(q.Article) == "" {
		return []models.CanonicalItem{}, nil
	}

	ctx, span := util.StartSpan(ctx, "DistributorAdapter.Search")
	defer span.End()

	payload, err := json.Marshal(distributorSearchRequest{
		Article:     q.Article,
		Brand:       q.Brand,
		WithCrosses: q.IncludeAnalogs,
	})
	if err != nil {
		return nil, fmt.Errorf("distributor: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("distributor: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(a.config.Login, a.config.Password)

	body, err := doRequest(a.httpClient, a.limiter, req)
	if errors.Is(err, ErrNotFound) {
		return []models.CanonicalItem{}, nil
	}
	if err != nil {
		return nil, err
	}

	var resp distributorSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !resp.Success {
		err := distributorFailure(resp.Error)
		if errors.Is(err, ErrNotFound) {
			return []models.CanonicalItem{}, nil
		}
		return nil, err
	}

	items := make([]models.CanonicalItem, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var row distributorRow
		if err := json.Unmarshal(raw, &row); err != nil {
			util.SupplierOffersDropped.WithLabelValues(DistributorName).Inc()
			continue
		}

		// the distributor quotes no reliability score
		if !a.config.Filter.Accept(row.Qty, a.config.Filter.MinReliability) {
			util.SupplierOffersDropped.WithLabelValues(DistributorName).Inc()
			continue
		}

		item, ok := toDistributorItem(row, raw)
		if !ok {
			util.SupplierOffersDropped.WithLabelValues(DistributorName).Inc()
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// Lookup fetches one price-list row by id
func (a *DistributorAdapter) Lookup(ctx context.Context, vendorID string) (*models.CanonicalItem, error) {
	if !a.config.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if _, err := strconv.ParseInt(vendorID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: invalid distributor id %q", ErrNotFound, vendorID)
	}

	ctx, span := util.StartSpan(ctx, "DistributorAdapter.Lookup")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/items/"+url.PathEscape(vendorID), nil)
	if err != nil {
		return nil, fmt.Errorf("distributor: failed to create request: %w", err)
	}
	req.SetBasicAuth(a.config.Login, a.config.Password)

	body, err := doRequest(a.httpClient, a.limiter, req)
	if err != nil {
		return nil, err
	}

	var resp distributorItemResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !resp.Success {
		return nil, distributorFailure(resp.Error)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, ErrNotFound
	}

	var row distributorRow
	if err := json.Unmarshal(resp.Data, &row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	item, ok := toDistributorItem(row, resp.Data)
	if !ok {
		return nil, fmt.Errorf("%w: row %s has no usable price", ErrInvalidResponse, vendorID)
	}
	return &item, nil
}

func toDistributorItem(row distributorRow, raw json.RawMessage) (models.CanonicalItem, bool) {
	cost, ok := DecimalFromFloat(row.Cost)
	if !ok || row.Article == "" {
		return models.CanonicalItem{}, false
	}

	label := DistributorName
	if row.Store != "" {
		label = DistributorName + "/" + row.Store
	}

	qty := row.Qty
	if qty < 0 {
		qty = 0
	}

	return models.CanonicalItem{
		ResourceID:    ResourceID(DistributorName, strconv.FormatInt(row.ID, 10)),
		Article:       strings.TrimSpace(row.Article),
		Brand:         strings.TrimSpace(row.Manufacturer),
		Name:          strings.TrimSpace(row.Title),
		UnitCost:      cost,
		StockQuantity: qty,
		SourceLabel:   label,
		DeliveryDays:  row.Term,
		IsAnalog:      row.Cross,
		Raw:           raw,
	}, true
}

func distributorFailure(e *distributorError) error {
	if e == nil {
		return fmt.Errorf("%w: unsuccessful response without error", ErrInvalidResponse)
	}
	if e.Code == "AUTH" {
		return fmt.Errorf("%w: %s", ErrUnauthorized, e.Text)
	}
	if e.Code == "NOT_FOUND" {
		return fmt.Errorf("%w: %s", ErrNotFound, e.Text)
	}
	return fmt.Errorf("%w: %s %s", ErrRequestFailed, e.Code, e.Text)
}
