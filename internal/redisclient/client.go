package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"parts-aggregator/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	priceRulesKey   = "pricing:rules:active"
	searchKeyPrefix = "search:"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks that Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetPriceRules reads the cached active rule snapshot
func (c *Client) GetPriceRules(ctx context.Context) ([]models.PriceRule, bool, error) {
	data, err := c.rdb.Get(ctx, priceRulesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read price rules: %w", err)
	}

	var rules []models.PriceRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false, fmt.Errorf("failed to decode price rules: %w", err)
	}
	return rules, true, nil
}

// SetPriceRules stores the active rule snapshot with TTL
func (c *Client) SetPriceRules(ctx context.Context, rules []models.PriceRule, ttl time.Duration) error {
	if rules == nil {
		rules = []models.PriceRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode price rules: %w", err)
	}
	return c.rdb.Set(ctx, priceRulesKey, data, ttl).Err()
}

// InvalidatePriceRules drops the cached rule snapshot
func (c *Client) InvalidatePriceRules(ctx context.Context) error {
	return c.rdb.Del(ctx, priceRulesKey).Err()
}

// CachedSearch is an unpriced fan-out result
type CachedSearch struct {
	Items    []models.CanonicalItem `json:"items"`
	Warnings []string               `json:"warnings,omitempty"`
}

// GetCachedSearch reads a cached fan-out result for a query
func (c *Client) GetCachedSearch(ctx context.Context, q models.AggregatedQuery) (*CachedSearch, bool, error) {
	data, err := c.rdb.Get(ctx, SearchKey(q)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached search: %w", err)
	}

	var cached CachedSearch
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached search: %w", err)
	}
	return &cached, true, nil
}

// SetCachedSearch stores a fan-out result with TTL
func (c *Client) SetCachedSearch(ctx context.Context, q models.AggregatedQuery, result CachedSearch, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode cached search: %w", err)
	}
	return c.rdb.Set(ctx, SearchKey(q), data, ttl).Err()
}

// InvalidateSearches drops every cached article search for the given articles
func (c *Client) InvalidateSearches(ctx context.Context, articles []string) error {
	for _, article := range articles {
		pattern := searchKeyPrefix + "article:" + keyPart(article) + ":*"
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()

		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan cached searches: %w", err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to drop cached searches: %w", err)
		}
	}
	return nil
}

// SearchKey builds the cache key for a query. Category is not part of it
// since it only affects pricing.
func SearchKey(q models.AggregatedQuery) string {
	analogs := "0"
	if q.IncludeAnalogs {
		analogs = "1"
	}
	if q.VIN != "" {
		return searchKeyPrefix + "vin:" + url.QueryEscape(strings.ToUpper(strings.TrimSpace(q.VIN)))
	}
	return searchKeyPrefix + "article:" + strings.Join([]string{
		keyPart(q.Article),
		keyPart(q.Brand),
		analogs,
	}, ":")
}

// keyPart normalizes one key segment and escapes it, so the segment never
// contains the ":" separator or a SCAN glob character.
func keyPart(s string) string {
	return url.QueryEscape(models.NormalizeKey(s))
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
