package worker

import (
	"context"
	"time"

	"parts-aggregator/internal/broker"
	"parts-aggregator/internal/models"
	"parts-aggregator/internal/util"

	"go.uber.org/zap"
)

const reloadLockKey = "pricing-rules-reload"

// MessageSource is a topic consumer
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// RuleCache is the cached markup rule source
type RuleCache interface {
	Invalidate(ctx context.Context) error
	ActiveRules(ctx context.Context) ([]models.PriceRule, error)
}

// SearchCache drops cached search results
type SearchCache interface {
	InvalidateSearches(ctx context.Context, articles []string) error
}

// Locker is a distributed lock
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// CacheWorker keeps the rule and search caches in step with upstream changes
type CacheWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	rules        RuleCache
	searches     SearchCache
	locker       Locker
	logger       *zap.Logger
}

// NewCacheWorker creates a new cache worker. searches and locker may be nil.
func NewCacheWorker(consumer MessageSource, rules RuleCache, searches SearchCache, locker Locker) *CacheWorker {
	w := &CacheWorker{
		consumer: consumer,
		rules:    rules,
		searches: searches,
		locker:   locker,
		logger:   util.GetLogger(),
	}

	w.eventHandler = broker.NewEventHandler()
	w.eventHandler.OnPriceRulesChanged(w.HandlePriceRulesChanged)
	w.eventHandler.OnWarehouseRestocked(w.HandleWarehouseRestocked)

	return w
}

// Start starts the worker
func (w *CacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cache worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CacheWorker) Stop() error {
	w.logger.Info("Stopping cache worker")
	return w.consumer.Close()
}

// HandlePriceRulesChanged drops the rule snapshot and, if this replica wins
// the reload lock, warms it again from the store
func (w *CacheWorker) HandlePriceRulesChanged(ctx context.Context, event *models.PriceRulesChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "CacheWorker.HandlePriceRulesChanged")
	defer span.End()

	if err := w.rules.Invalidate(ctx); err != nil {
		return err
	}
	w.logger.Info("Price rule cache invalidated",
		zap.String("event_id", event.EventID),
		zap.Int64s("rule_ids", event.RuleIDs),
	)

	if w.locker == nil {
		return nil
	}
	acquired, err := w.locker.AcquireLock(ctx, reloadLockKey, 10*time.Second)
	if err != nil || !acquired {
		return nil
	}
	defer w.locker.ReleaseLock(ctx, reloadLockKey)

	if _, err := w.rules.ActiveRules(ctx); err != nil {
		w.logger.Warn("Price rule cache warm-up failed", zap.Error(err))
	}
	return nil
}

// HandleWarehouseRestocked drops cached searches for restocked articles
func (w *CacheWorker) HandleWarehouseRestocked(ctx context.Context, event *models.WarehouseRestockedEvent) error {
	if w.searches == nil || len(event.Articles) == 0 {
		return nil
	}
	if err := w.searches.InvalidateSearches(ctx, event.Articles); err != nil {
		return err
	}
	w.logger.Info("Search cache invalidated",
		zap.String("event_id", event.EventID),
		zap.Strings("articles", event.Articles),
	)
	return nil
}
