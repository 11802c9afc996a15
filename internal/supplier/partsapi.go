package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parts-aggregator/internal/models"
	"parts-aggregator/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PartsAPIName is the source name of the PartsAPI adapter
const PartsAPIName = "partsapi"

// PartsAPIConfig holds the credentials and business thresholds of the PartsAPI vendor
type PartsAPIConfig struct {
	BaseURL   string
	APIKey    string
	Filter    AcceptanceFilter
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 for unlimited
}

// IsConfigured reports whether the adapter has everything it needs to call out
func (c PartsAPIConfig) IsConfigured() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

type partsAPISearchResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Offers  []json.RawMessage `json:"offers"`
}

type partsAPIOfferResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Offer   json.RawMessage `json:"offer"`
}

type partsAPIOffer struct {
	OfferID      string `json:"offer_id"`
	Number       string `json:"number"`
	Maker        string `json:"maker"`
	Description  string `json:"description"`
	Price        string `json:"price"`
	Stock        string `json:"stock"`
	Reliability  int    `json:"reliability"`
	Warehouse    string `json:"warehouse"`
	DeliveryDays int    `json:"delivery_days"`
	IsCross      bool   `json:"is_cross"`
}

// PartsAPIAdapter searches the PartsAPI catalog. It supports analogs and VIN search
// and drops offers below the configured stock and reliability thresholds.
type PartsAPIAdapter struct {
	config     PartsAPIConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewPartsAPIAdapter creates a PartsAPI adapter
func NewPartsAPIAdapter(config PartsAPIConfig) *PartsAPIAdapter {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &PartsAPIAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    newLimiter(config.RateLimit),
		logger:     util.GetLogger(),
	}
}

// Name returns the source name
func (a *PartsAPIAdapter) Name() string {
	return PartsAPIName
}

// Search queries the vendor by article or VIN
func (a *PartsAPIAdapter) Search(ctx context.Context, q Query) ([]models.CanonicalItem, error) {
	if !a.config.IsConfigured() {
		return []models.CanonicalItem{}, nil
	}

	ctx, span := util.StartSpan(ctx, "PartsAPIAdapter.Search")
	defer span.End()

	var endpoint string
	if q.IsVIN() {
		endpoint = fmt.Sprintf("%s/vin/%s/parts", a.config.BaseURL, url.PathEscape(q.VIN))
	} else {
		params := url.Values{}
		params.Set("number", q.Article)
		if q.Brand != "" {
			params.Set("brand", q.Brand)
		}
		if q.IncludeAnalogs {
			params.Set("analogs", "1")
		}
		endpoint = a.config.BaseURL + "/search?" + params.Encode()
	}

	body, err := a.get(ctx, endpoint)
	if errors.Is(err, ErrNotFound) {
		return []models.CanonicalItem{}, nil
	}
	if err != nil {
		return nil, err
	}

	var resp partsAPISearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Message)
	}

	items := make([]models.CanonicalItem, 0, len(resp.Offers))
	for _, raw := range resp.Offers {
		var offer partsAPIOffer
		if err := json.Unmarshal(raw, &offer); err != nil {
			a.logger.Debug("Skipping malformed offer", zap.String("source", PartsAPIName), zap.Error(err))
			util.SupplierOffersDropped.WithLabelValues(PartsAPIName).Inc()
			continue
		}

		stock := ParseStock(offer.Stock)
		if !a.config.Filter.Accept(stock, offer.Reliability) {
			util.SupplierOffersDropped.WithLabelValues(PartsAPIName).Inc()
			continue
		}

		item, ok := a.toCanonical(offer, raw)
		if !ok {
			util.SupplierOffersDropped.WithLabelValues(PartsAPIName).Inc()
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// Lookup fetches one offer by its vendor id. No acceptance filter is applied.
func (a *PartsAPIAdapter) Lookup(ctx context.Context, vendorID string) (*models.CanonicalItem, error) {
	if !a.config.IsConfigured() {
		return nil, ErrNotConfigured
	}

	ctx, span := util.StartSpan(ctx, "PartsAPIAdapter.Lookup")
	defer span.End()

	body, err := a.get(ctx, fmt.Sprintf("%s/offers/%s", a.config.BaseURL, url.PathEscape(vendorID)))
	if err != nil {
		return nil, err
	}

	var resp partsAPIOfferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Message)
	}
	if len(resp.Offer) == 0 || string(resp.Offer) == "null" {
		return nil, ErrNotFound
	}

	var offer partsAPIOffer
	if err := json.Unmarshal(resp.Offer, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	item, ok := a.toCanonical(offer, resp.Offer)
	if !ok {
		return nil, fmt.Errorf("%w: offer %s has no usable price", ErrInvalidResponse, vendorID)
	}
	return &item, nil
}

func (a *PartsAPIAdapter) toCanonical(offer partsAPIOffer, raw json.RawMessage) (models.CanonicalItem, bool) {
	cost, ok := ParseDecimal(offer.Price)
	if !ok || offer.Number == "" {
		return models.CanonicalItem{}, false
	}

	var resourceID string
	if offer.OfferID != "" {
		resourceID = ResourceID(PartsAPIName, offer.OfferID)
	}

	label := PartsAPIName
	if offer.Warehouse != "" {
		label = PartsAPIName + "/" + offer.Warehouse
	}

	return models.CanonicalItem{
		ResourceID:    resourceID,
		Article:       strings.TrimSpace(offer.Number),
		Brand:         strings.TrimSpace(offer.Maker),
		Name:          strings.TrimSpace(offer.Description),
		UnitCost:      cost,
		StockQuantity: ParseStock(offer.Stock),
		SourceLabel:   label,
		DeliveryDays:  offer.DeliveryDays,
		IsAnalog:      offer.IsCross,
		Raw:           raw,
	}, true
}

func (a *PartsAPIAdapter) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("partsapi: failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", a.config.APIKey)
	req.Header.Set("Accept", "application/json")

	return doRequest(a.httpClient, a.limiter, req)
}
