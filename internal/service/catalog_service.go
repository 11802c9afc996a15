package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"parts-aggregator/internal/aggregator"
	"parts-aggregator/internal/broker"
	"parts-aggregator/internal/models"
	"parts-aggregator/internal/pricing"
	"parts-aggregator/internal/redisclient"
	"parts-aggregator/internal/supplier"
	"parts-aggregator/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchConcurrency = 4
	maxBatchItems           = 50
	publishTimeout          = 5 * time.Second
)

// SearchCache stores unpriced fan-out results
type SearchCache interface {
	GetCachedSearch(ctx context.Context, q models.AggregatedQuery) (*redisclient.CachedSearch, bool, error)
	SetCachedSearch(ctx context.Context, q models.AggregatedQuery, result redisclient.CachedSearch, ttl time.Duration) error
}

// SearchPublisher announces completed searches
type SearchPublisher interface {
	PublishSearchPerformed(ctx context.Context, event *models.SearchPerformedEvent) error
}

// CatalogConfig tunes the catalog service
type CatalogConfig struct {
	BatchConcurrency int
	SearchCacheTTL   time.Duration
}

// CatalogService is the client-facing facade over fan-out, reconciliation and pricing
type CatalogService struct {
	coordinator *aggregator.Coordinator
	engine      *pricing.Engine
	cache       SearchCache
	publisher   SearchPublisher
	cfg         CatalogConfig
	reconcile   func([]models.CanonicalItem) []models.CanonicalItem
	logger      *zap.Logger
}

// NewCatalogService creates a new catalog service. cache and publisher may be nil.
func NewCatalogService(
	coordinator *aggregator.Coordinator,
	engine *pricing.Engine,
	cache SearchCache,
	publisher SearchPublisher,
	cfg CatalogConfig,
) *CatalogService {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	return &CatalogService{
		coordinator: coordinator,
		engine:      engine,
		cache:       cache,
		publisher:   publisher,
		cfg:         cfg,
		reconcile:   aggregator.Reconcile,
		logger:      util.GetLogger(),
	}
}

// PricedItem is a reconciled offer with its resale price
type PricedItem struct {
	models.CanonicalItem
	Price  decimal.Decimal `json:"price"`
	RuleID int64           `json:"rule_id,omitempty"`
}

// SearchResponse is the result of any search operation
type SearchResponse struct {
	Items    []PricedItem `json:"items"`
	Warnings []string     `json:"warnings"`
}

// SearchItem is one entry of a batch search. ArticleOrID holds either a part
// number or a "<source>:<id>" resource id.
type SearchItem struct {
	ArticleOrID string `json:"article_or_id"`
	Brand       string `json:"brand,omitempty"`
}

// SearchRequest represents a batch search request
type SearchRequest struct {
	Items          []SearchItem `json:"items" binding:"required"`
	IncludeAnalogs bool         `json:"include_analogs"`
	Category       string       `json:"category,omitempty"`
}

// PriceInfo is the resale price range of one resource across all sources
type PriceInfo struct {
	ID       string          `json:"id"`
	Article  string          `json:"article"`
	Brand    string          `json:"brand,omitempty"`
	MinPrice decimal.Decimal `json:"min_price"`
	MaxPrice decimal.Decimal `json:"max_price"`
	Offers   int             `json:"offers"`
}

// PriceList is the result of a price lookup
type PriceList struct {
	Prices   []PriceInfo `json:"prices"`
	Warnings []string    `json:"warnings"`
}

// StockList is the result of a stock lookup
type StockList struct {
	Stocks   []StockInfo `json:"stocks"`
	Warnings []string    `json:"warnings"`
}

// StockInfo is the stock of one resource across all sources
type StockInfo struct {
	ID                 string         `json:"id"`
	TotalQuantity      int            `json:"total_quantity"`
	PerSourceBreakdown map[string]int `json:"per_source_breakdown"`
}

// SearchByArticle searches every source for an article
func (s *CatalogService) SearchByArticle(ctx context.Context, article, brand string, includeAnalogs bool, category string) (*SearchResponse, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.SearchByArticle")
	defer span.End()

	const op = "search_article"
	article = strings.TrimSpace(article)
	if article == "" {
		return nil, s.fail(op, ValidationError("article is required", ""))
	}

	return s.run(ctx, op, models.AggregatedQuery{
		Article:        article,
		Brand:          strings.TrimSpace(brand),
		IncludeAnalogs: includeAnalogs,
		Category:       strings.TrimSpace(category),
	})
}

// SearchByArticles searches several articles or resource ids at once.
// Every item is validated before any source is queried.
func (s *CatalogService) SearchByArticles(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.SearchByArticles")
	defer span.End()

	const op = "search_batch"
	if req == nil || len(req.Items) == 0 {
		return nil, s.fail(op, ValidationError("at least one item is required", ""))
	}
	if len(req.Items) > maxBatchItems {
		return nil, s.fail(op, ValidationError("too many items", fmt.Sprintf("at most %d items per request", maxBatchItems)))
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ArticleOrID) == "" {
			return nil, s.fail(op, ValidationError("article_or_id is required", fmt.Sprintf("items[%d]", i)))
		}
	}

	start := time.Now()
	category := strings.TrimSpace(req.Category)
	queries := make([]models.AggregatedQuery, len(req.Items))
	results := make([]aggregator.Result, len(req.Items))
	resolved := make([]bool, len(req.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, item := range req.Items {
		i, item := i, item
		g.Go(func() error {
			aq, err := s.resolve(gctx, item, req.IncludeAnalogs, category)
			if err != nil {
				if warning, ok := lookupWarning(item.ArticleOrID, err); ok {
					results[i] = aggregator.Result{Warnings: []string{warning}}
					return nil
				}
				return err
			}
			queries[i] = aq
			resolved[i] = true
			results[i] = s.fanout(gctx, aq)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(op, AsError(err))
	}

	var union []models.CanonicalItem
	warnings := []string{}
	seen := make(map[string]struct{})
	for _, res := range results {
		union = append(union, res.Items...)
		warnings = appendUnique(warnings, seen, res.Warnings...)
	}

	items, svcErr := s.safeReconcile(union)
	if svcErr != nil {
		return nil, s.fail(op, svcErr)
	}
	priced := s.price(ctx, items, category)

	elapsed := time.Since(start)
	for i, aq := range queries {
		if !resolved[i] {
			continue
		}
		returned := 0
		for _, p := range priced {
			if p.SamePart(aq.Article, aq.Brand) {
				returned++
			}
		}
		s.publish(ctx, aq, len(results[i].Items), returned, results[i].Warnings, elapsed)
	}

	return &SearchResponse{Items: priced, Warnings: warnings}, nil
}

// SearchByResourceID resolves a resource id to its article and searches every source for it
func (s *CatalogService) SearchByResourceID(ctx context.Context, id string, includeAnalogs bool, category string) (*SearchResponse, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.SearchByResourceID")
	defer span.End()

	const op = "search_resource"
	id = strings.TrimSpace(id)
	detail, err := s.lookup(ctx, id)
	if err != nil {
		return nil, s.fail(op, AsError(err))
	}

	return s.run(ctx, op, models.AggregatedQuery{
		Article:        detail.Article,
		Brand:          detail.Brand,
		ResourceID:     id,
		IncludeAnalogs: includeAnalogs,
		Category:       strings.TrimSpace(category),
	})
}

// SearchByVIN searches every source for parts fitting a vehicle
func (s *CatalogService) SearchByVIN(ctx context.Context, vin, category string) (*SearchResponse, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.SearchByVIN")
	defer span.End()

	const op = "search_vin"
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if n := utf8.RuneCountInString(vin); n != models.VINLength {
		return nil, s.fail(op, ValidationError(
			fmt.Sprintf("vin must be exactly %d characters", models.VINLength),
			fmt.Sprintf("got %d", n),
		))
	}

	return s.run(ctx, op, models.AggregatedQuery{
		VIN:      vin,
		Category: strings.TrimSpace(category),
	})
}

// GetPrices returns the resale price range of each resource across all sources.
// Resources whose source failed to answer the lookup are left out with a warning.
func (s *CatalogService) GetPrices(ctx context.Context, ids []string, category string) (*PriceList, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetPrices")
	defer span.End()

	const op = "prices"
	if err := validateIDs(ids); err != nil {
		return nil, s.fail(op, err)
	}

	collected, warnings, err := s.collectOffers(ctx, ids)
	if err != nil {
		return nil, s.fail(op, AsError(err))
	}

	rules := s.engine.Rules(ctx)
	category = strings.TrimSpace(category)
	prices := make([]PriceInfo, 0, len(collected))
	for _, c := range collected {
		info := PriceInfo{ID: c.id, Article: c.detail.Article, Brand: c.detail.Brand}
		for _, offer := range c.offers {
			quote, err := s.engine.PriceWith(rules, offer.UnitCost, pricing.Context{Brand: offer.Brand, Category: category})
			if err != nil {
				s.logger.Warn("Skipping unpriceable offer", zap.String("resource_id", offer.ResourceID), zap.Error(err))
				continue
			}
			if info.Offers == 0 || quote.Price.LessThan(info.MinPrice) {
				info.MinPrice = quote.Price
			}
			if info.Offers == 0 || quote.Price.GreaterThan(info.MaxPrice) {
				info.MaxPrice = quote.Price
			}
			info.Offers++
		}
		prices = append(prices, info)
	}

	return &PriceList{Prices: prices, Warnings: warnings}, nil
}

// GetStock returns the stock of each resource across all sources. Offers are
// counted before deduplication so every source appears in the breakdown.
func (s *CatalogService) GetStock(ctx context.Context, ids []string) (*StockList, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetStock")
	defer span.End()

	const op = "stocks"
	if err := validateIDs(ids); err != nil {
		return nil, s.fail(op, err)
	}

	collected, warnings, err := s.collectOffers(ctx, ids)
	if err != nil {
		return nil, s.fail(op, AsError(err))
	}

	stocks := make([]StockInfo, 0, len(collected))
	for _, c := range collected {
		info := StockInfo{ID: c.id, PerSourceBreakdown: make(map[string]int)}
		for _, offer := range c.offers {
			info.TotalQuantity += offer.StockQuantity
			info.PerSourceBreakdown[offer.SourceLabel] += offer.StockQuantity
		}
		stocks = append(stocks, info)
	}

	return &StockList{Stocks: stocks, Warnings: warnings}, nil
}

// GetItemDetail looks one resource up directly at its source, without fan-out
func (s *CatalogService) GetItemDetail(ctx context.Context, id string) (*PricedItem, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetItemDetail")
	defer span.End()

	const op = "item_detail"
	detail, err := s.lookup(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, s.fail(op, AsError(err))
	}

	quote, err := s.engine.Price(ctx, detail.UnitCost, pricing.Context{Brand: detail.Brand})
	if err != nil {
		return nil, s.fail(op, UpstreamError("source returned an invalid price", err.Error()))
	}

	return &PricedItem{CanonicalItem: *detail, Price: quote.Price, RuleID: quote.RuleID}, nil
}

// run is the shared search pipeline: fan-out, reconcile, price, announce
func (s *CatalogService) run(ctx context.Context, op string, aq models.AggregatedQuery) (*SearchResponse, error) {
	start := time.Now()

	res := s.fanout(ctx, aq)
	items, svcErr := s.safeReconcile(res.Items)
	if svcErr != nil {
		return nil, s.fail(op, svcErr)
	}
	priced := s.price(ctx, items, aq.Category)

	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	s.publish(ctx, aq, len(res.Items), len(priced), warnings, time.Since(start))
	return &SearchResponse{Items: priced, Warnings: warnings}, nil
}

// fanout serves a query from the search cache or the coordinator. Only
// results every source answered are cached.
func (s *CatalogService) fanout(ctx context.Context, aq models.AggregatedQuery) aggregator.Result {
	useCache := s.cache != nil && s.cfg.SearchCacheTTL > 0

	if useCache {
		cached, found, err := s.cache.GetCachedSearch(ctx, aq)
		switch {
		case err != nil:
			util.SearchCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Search cache read failed", zap.Error(err))
		case found:
			util.SearchCacheTotal.WithLabelValues("hit").Inc()
			items := cached.Items
			if items == nil {
				items = []models.CanonicalItem{}
			}
			return aggregator.Result{Items: items, Warnings: []string{}}
		default:
			util.SearchCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	res := s.coordinator.Fanout(ctx, supplier.Query{
		Article:        aq.Article,
		Brand:          aq.Brand,
		VIN:            aq.VIN,
		IncludeAnalogs: aq.IncludeAnalogs,
	})

	if useCache && len(res.Warnings) == 0 {
		if err := s.cache.SetCachedSearch(ctx, aq, redisclient.CachedSearch{Items: res.Items}, s.cfg.SearchCacheTTL); err != nil {
			s.logger.Warn("Search cache write failed", zap.Error(err))
		}
	}
	return res
}

// safeReconcile turns a reconciliation panic into an internal error
func (s *CatalogService) safeReconcile(items []models.CanonicalItem) (out []models.CanonicalItem, svcErr *Error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Offer reconciliation panicked", zap.Any("panic", r))
			out, svcErr = nil, InternalError("failed to reconcile offers", fmt.Sprint(r))
		}
	}()
	return s.reconcile(items), nil
}

// price prices every item against one rule snapshot
func (s *CatalogService) price(ctx context.Context, items []models.CanonicalItem, category string) []PricedItem {
	rules := s.engine.Rules(ctx)

	priced := make([]PricedItem, 0, len(items))
	for _, item := range items {
		quote, err := s.engine.PriceWith(rules, item.UnitCost, pricing.Context{Brand: item.Brand, Category: category})
		if err != nil {
			s.logger.Warn("Dropping unpriceable offer",
				zap.String("source", item.SourceLabel),
				zap.String("resource_id", item.ResourceID),
				zap.Error(err),
			)
			continue
		}
		priced = append(priced, PricedItem{CanonicalItem: item, Price: quote.Price, RuleID: quote.RuleID})
	}

	util.OffersReturnedTotal.Add(float64(len(priced)))
	return priced
}

// resolve turns a batch entry into a query. Values of the form
// "<known source>:<id>" are looked up first; anything else is an article.
func (s *CatalogService) resolve(ctx context.Context, item SearchItem, includeAnalogs bool, category string) (models.AggregatedQuery, error) {
	value := strings.TrimSpace(item.ArticleOrID)

	if source, _, ok := supplier.SplitResourceID(value); ok {
		if _, known := s.coordinator.Adapter(source); known {
			detail, err := s.lookup(ctx, value)
			if err != nil {
				return models.AggregatedQuery{}, err
			}
			return models.AggregatedQuery{
				Article:        detail.Article,
				Brand:          detail.Brand,
				ResourceID:     value,
				IncludeAnalogs: includeAnalogs,
				Category:       category,
			}, nil
		}
	}

	return models.AggregatedQuery{
		Article:        value,
		Brand:          strings.TrimSpace(item.Brand),
		IncludeAnalogs: includeAnalogs,
		Category:       category,
	}, nil
}

// lookup resolves a resource id at the source that issued it
func (s *CatalogService) lookup(ctx context.Context, id string) (*models.CanonicalItem, error) {
	source, vendorID, ok := supplier.SplitResourceID(id)
	if !ok {
		return nil, ValidationError("invalid resource id", fmt.Sprintf("expected <source>:<id>, got %q", id))
	}

	adapter, found := s.coordinator.Adapter(source)
	if !found {
		return nil, NotFoundError("unknown source", source)
	}
	fetcher, ok := adapter.(supplier.DetailFetcher)
	if !ok {
		return nil, NotFoundError("source does not support item lookups", source)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.coordinator.Timeout())
	defer cancel()

	item, err := fetcher.Lookup(lookupCtx, vendorID)
	switch {
	case errors.Is(err, supplier.ErrNotFound):
		return nil, NotFoundError("item not found", id)
	case err != nil:
		s.logger.Warn("Item lookup failed", zap.String("source", source), zap.String("resource_id", id), zap.Error(err))
		return nil, UpstreamError("item lookup failed", err.Error())
	case item == nil:
		return nil, NotFoundError("item not found", id)
	}
	return item, nil
}

type resourceOffers struct {
	id     string
	detail *models.CanonicalItem
	offers []models.CanonicalItem
}

// collectOffers gathers, for each id, every offer of the same article and brand.
// An id whose source fails the lookup is skipped and reported as a warning.
func (s *CatalogService) collectOffers(ctx context.Context, ids []string) ([]resourceOffers, []string, error) {
	out := make([]resourceOffers, len(ids))
	skipped := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, id := range ids {
		i, id := i, strings.TrimSpace(id)
		g.Go(func() error {
			detail, err := s.lookup(gctx, id)
			if err != nil {
				if warning, ok := lookupWarning(id, err); ok {
					skipped[i] = warning
					return nil
				}
				return err
			}

			res := s.fanout(gctx, models.AggregatedQuery{Article: detail.Article, Brand: detail.Brand})
			offers := make([]models.CanonicalItem, 0, len(res.Items))
			for _, item := range res.Items {
				if item.SamePart(detail.Article, detail.Brand) {
					offers = append(offers, item)
				}
			}
			if len(offers) == 0 {
				offers = append(offers, *detail)
			}

			out[i] = resourceOffers{id: id, detail: detail, offers: offers}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	collected := make([]resourceOffers, 0, len(ids))
	warnings := []string{}
	seen := make(map[string]struct{})
	for i := range out {
		if skipped[i] != "" {
			warnings = appendUnique(warnings, seen, skipped[i])
			continue
		}
		collected = append(collected, out[i])
	}
	return collected, warnings, nil
}

// lookupWarning turns a failed lookup at a reachable source into a warning.
// Invalid and unknown ids are not absorbed.
func lookupWarning(id string, err error) (string, bool) {
	if AsError(err).Status != http.StatusBadGateway {
		return "", false
	}
	source, _, _ := supplier.SplitResourceID(id)
	return fmt.Sprintf("%s: lookup failed", source), true
}

func appendUnique(dst []string, seen map[string]struct{}, values ...string) []string {
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// publish announces a completed search without holding up the caller
func (s *CatalogService) publish(ctx context.Context, aq models.AggregatedQuery, received, returned int, warnings []string, elapsed time.Duration) {
	if s.publisher == nil {
		return
	}

	event := &models.SearchPerformedEvent{
		BaseEvent:      broker.NewBaseEvent(models.EventTypeSearchPerformed),
		Query:          aq,
		OffersReceived: received,
		OffersReturned: returned,
		Warnings:       warnings,
		DurationMs:     elapsed.Milliseconds(),
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishSearchPerformed(pubCtx, event); err != nil {
			s.logger.Warn("Failed to publish search event", zap.Error(err))
		}
	}()
}

func (s *CatalogService) fail(op string, err *Error) error {
	util.FacadeErrorsTotal.WithLabelValues(op, fmt.Sprint(err.Status)).Inc()
	if err.Status >= 500 {
		s.logger.Error("Catalog operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func validateIDs(ids []string) *Error {
	if len(ids) == 0 {
		return ValidationError("at least one id is required", "")
	}
	if len(ids) > maxBatchItems {
		return ValidationError("too many ids", fmt.Sprintf("at most %d ids per request", maxBatchItems))
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return ValidationError("id is required", fmt.Sprintf("ids[%d]", i))
		}
	}
	return nil
}
