package pricing

import (
	"context"
	"fmt"
	"time"

	"parts-aggregator/internal/models"
	"parts-aggregator/internal/util"

	"go.uber.org/zap"
)

// RuleStore is the relational source of truth for markup rules
type RuleStore interface {
	GetActivePriceRules(ctx context.Context) ([]models.PriceRule, error)
}

// RuleCache keeps a serialized rule snapshot. Get reports found=false on a miss.
type RuleCache interface {
	GetPriceRules(ctx context.Context) (rules []models.PriceRule, found bool, err error)
	SetPriceRules(ctx context.Context, rules []models.PriceRule, ttl time.Duration) error
	InvalidatePriceRules(ctx context.Context) error
}

// CachedRuleSource reads rules through a cache. Cache failures fall through to
// the store; store failures are returned so the engine can fall back.
type CachedRuleSource struct {
	store  RuleStore
	cache  RuleCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRuleSource creates a rule source. cache may be nil.
func NewCachedRuleSource(store RuleStore, cache RuleCache, ttl time.Duration) *CachedRuleSource {
	return &CachedRuleSource{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// ActiveRules returns the current active rules
func (s *CachedRuleSource) ActiveRules(ctx context.Context) ([]models.PriceRule, error) {
	ctx, span := util.StartSpan(ctx, "CachedRuleSource.ActiveRules")
	defer span.End()

	if s.cache != nil {
		rules, found, err := s.cache.GetPriceRules(ctx)
		switch {
		case err != nil:
			util.RuleCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Price rule cache read failed", zap.Error(err))
		case found:
			util.RuleCacheTotal.WithLabelValues("hit").Inc()
			return rules, nil
		default:
			util.RuleCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	rules, err := s.store.GetActivePriceRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load price rules: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetPriceRules(ctx, rules, s.ttl); err != nil {
			s.logger.Warn("Price rule cache write failed", zap.Error(err))
		}
	}

	return rules, nil
}

// Invalidate drops the cached snapshot so the next read hits the store
func (s *CachedRuleSource) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidatePriceRules(ctx)
}

// StaticRuleSource serves a fixed rule set
type StaticRuleSource []models.PriceRule

// ActiveRules returns the fixed rules
func (s StaticRuleSource) ActiveRules(ctx context.Context) ([]models.PriceRule, error) {
	return s, nil
}
