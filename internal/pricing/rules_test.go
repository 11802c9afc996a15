package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"parts-aggregator/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRuleStore struct {
	mock.Mock
}

func (m *mockRuleStore) GetActivePriceRules(ctx context.Context) ([]models.PriceRule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]models.PriceRule)
	return rules, args.Error(1)
}

type mockRuleCache struct {
	mock.Mock
}

func (m *mockRuleCache) GetPriceRules(ctx context.Context) ([]models.PriceRule, bool, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]models.PriceRule)
	return rules, args.Bool(1), args.Error(2)
}

func (m *mockRuleCache) SetPriceRules(ctx context.Context, rules []models.PriceRule, ttl time.Duration) error {
	return m.Called(ctx, rules, ttl).Error(0)
}

func (m *mockRuleCache) InvalidatePriceRules(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var sampleRules = []models.PriceRule{
	{ID: 1, BrandFilter: strPtr("Bosch"), PercentMarkup: decimal.NewFromInt(10), Active: true},
}

func TestCachedRuleSource_Hit(t *testing.T) {
	store := new(mockRuleStore)
	cache := new(mockRuleCache)
	cache.On("GetPriceRules", mock.Anything).Return(sampleRules, true, nil)

	src := NewCachedRuleSource(store, cache, time.Minute)
	rules, err := src.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRules, rules)
	store.AssertNotCalled(t, "GetActivePriceRules", mock.Anything)
}

func TestCachedRuleSource_MissLoadsAndStores(t *testing.T) {
	store := new(mockRuleStore)
	cache := new(mockRuleCache)
	cache.On("GetPriceRules", mock.Anything).Return(nil, false, nil)
	store.On("GetActivePriceRules", mock.Anything).Return(sampleRules, nil)
	cache.On("SetPriceRules", mock.Anything, sampleRules, time.Minute).Return(nil)

	src := NewCachedRuleSource(store, cache, time.Minute)
	rules, err := src.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRules, rules)
	cache.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCachedRuleSource_CacheErrorFallsThrough(t *testing.T) {
	store := new(mockRuleStore)
	cache := new(mockRuleCache)
	cache.On("GetPriceRules", mock.Anything).Return(nil, false, errors.New("redis: connection refused"))
	cache.On("SetPriceRules", mock.Anything, sampleRules, time.Minute).Return(errors.New("redis: connection refused"))
	store.On("GetActivePriceRules", mock.Anything).Return(sampleRules, nil)

	src := NewCachedRuleSource(store, cache, time.Minute)
	rules, err := src.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRules, rules)
}

func TestCachedRuleSource_StoreFailureReachesEngineAsDefault(t *testing.T) {
	store := new(mockRuleStore)
	store.On("GetActivePriceRules", mock.Anything).Return(nil, errors.New("dial tcp: i/o timeout"))

	src := NewCachedRuleSource(store, nil, time.Minute)
	_, err := src.ActiveRules(context.Background())
	assert.Error(t, err)

	engine := NewEngine(src, DefaultPolicy())
	quote, err := engine.Price(context.Background(), decimal.NewFromInt(1000), Context{Brand: "Bosch"})
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(1200)))
}

func TestCachedRuleSource_Invalidate(t *testing.T) {
	cache := new(mockRuleCache)
	cache.On("InvalidatePriceRules", mock.Anything).Return(nil)

	src := NewCachedRuleSource(new(mockRuleStore), cache, time.Minute)
	require.NoError(t, src.Invalidate(context.Background()))
	cache.AssertExpectations(t)

	assert.NoError(t, NewCachedRuleSource(new(mockRuleStore), nil, time.Minute).Invalidate(context.Background()))
}
