package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parts-aggregator/config"
	"parts-aggregator/internal/aggregator"
	"parts-aggregator/internal/api"
	"parts-aggregator/internal/broker"
	"parts-aggregator/internal/pricing"
	"parts-aggregator/internal/redisclient"
	"parts-aggregator/internal/service"
	"parts-aggregator/internal/store"
	"parts-aggregator/internal/supplier"
	"parts-aggregator/internal/util"
	"parts-aggregator/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting parts aggregator", zap.String("supplier_mode", cfg.Suppliers.Mode))

	tp, err := util.InitTracer("parts-aggregator", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	mock := cfg.Suppliers.Mode == config.SupplierModeMock
	dependencies := map[string]api.Pinger{}

	// mock mode runs without infrastructure when it is not reachable
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		if !mock {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		logger.Warn("Database unavailable, pricing with the default policy", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		dependencies["postgres"] = db
		logger.Info("Database connected")

		if cfg.Database.AutoMigrate {
			if err := store.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
				logger.Fatal("Failed to apply migrations", zap.Error(err))
			}
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if !mock {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		logger.Warn("Redis unavailable, caches disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		dependencies["redis"] = redisClient
		logger.Info("Redis connected")
	}

	var (
		ruleCache   pricing.RuleCache
		searchCache service.SearchCache
		invalidator worker.SearchCache
		locker      worker.Locker
	)
	if redisClient != nil {
		ruleCache = redisClient
		searchCache = redisClient
		invalidator = redisClient
		locker = redisClient
	}

	var ruleSource *pricing.CachedRuleSource
	var engine *pricing.Engine
	policy := pricing.PolicyFromStrings(cfg.Pricing.DefaultMarkupPercent, cfg.Pricing.DefaultMinMargin)
	if db != nil {
		ruleSource = pricing.NewCachedRuleSource(db, ruleCache, cfg.Pricing.RuleCacheTTL)
		engine = pricing.NewEngine(ruleSource, policy)
	} else {
		engine = pricing.NewEngine(nil, policy)
	}

	adapters := buildAdapters(cfg, db)
	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	logger.Info("Supplier adapters configured", zap.Strings("sources", names))

	coordinator := aggregator.NewCoordinator(adapters, cfg.Aggregation.FanoutTimeout)

	var publisher service.SearchPublisher
	if cfg.Kafka.PublishSearches && !mock {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSearch)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicSearch))
	}

	catalog := service.NewCatalogService(coordinator, engine, searchCache, publisher, service.CatalogConfig{
		BatchConcurrency: cfg.Aggregation.BatchConcurrency,
		SearchCacheTTL:   cfg.Aggregation.SearchCacheTTL,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var cacheWorker *worker.CacheWorker
	if cfg.Kafka.ConsumeRuleEvent && ruleSource != nil && !mock {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPriceRules, cfg.Kafka.ConsumerGroup)
		cacheWorker = worker.NewCacheWorker(consumer, ruleSource, invalidator, locker)
		go func() {
			if err := cacheWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Cache worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(catalog, dependencies, cfg.Server.RequestTimeout)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if cacheWorker != nil {
		if err := cacheWorker.Stop(); err != nil {
			logger.Error("Error stopping cache worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// buildAdapters selects the supplier set for the configured mode
func buildAdapters(cfg *config.Config, db *store.Store) []supplier.Adapter {
	if cfg.Suppliers.Mode == config.SupplierModeMock {
		items, vehicle := supplier.DemoCatalog()
		return []supplier.Adapter{
			supplier.NewStaticAdapter(supplier.StaticName, items, vehicle, 50*time.Millisecond),
		}
	}

	sc := cfg.Suppliers
	adapters := []supplier.Adapter{
		supplier.NewPartsAPIAdapter(supplier.PartsAPIConfig{
			BaseURL: sc.PartsAPI.BaseURL,
			APIKey:  sc.PartsAPI.APIKey,
			Filter: supplier.AcceptanceFilter{
				MinStock:       sc.PartsAPI.MinStock,
				MinReliability: sc.PartsAPI.MinReliability,
			},
			Timeout:   sc.PartsAPI.Timeout,
			RateLimit: sc.PartsAPI.RateLimit,
		}),
		supplier.NewDistributorAdapter(supplier.DistributorConfig{
			BaseURL:   sc.Distributor.BaseURL,
			Login:     sc.Distributor.Login,
			Password:  sc.Distributor.Password,
			Filter:    supplier.AcceptanceFilter{MinStock: sc.Distributor.MinStock},
			Timeout:   sc.Distributor.Timeout,
			RateLimit: sc.Distributor.RateLimit,
		}),
	}

	if sc.Warehouse.Enabled && db != nil {
		adapters = append(adapters, supplier.NewWarehouseAdapter(db, sc.Warehouse.Label,
			supplier.AcceptanceFilter{MinStock: sc.Warehouse.MinStock}))
	}

	return adapters
}
