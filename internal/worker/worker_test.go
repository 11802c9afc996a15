package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"parts-aggregator/internal/broker"
	"parts-aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRuleCache struct {
	mock.Mock
}

func (m *mockRuleCache) Invalidate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRuleCache) ActiveRules(ctx context.Context) ([]models.PriceRule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]models.PriceRule)
	return rules, args.Error(1)
}

type mockSearchCache struct {
	mock.Mock
}

func (m *mockSearchCache) InvalidateSearches(ctx context.Context, articles []string) error {
	return m.Called(ctx, articles).Error(0)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocker) ReleaseLock(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type stubSource struct {
	closed bool
}

func (s *stubSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

func rulesChanged() *models.PriceRulesChangedEvent {
	return &models.PriceRulesChangedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePriceRulesChanged),
		RuleIDs:   []int64{1},
	}
}

func TestHandlePriceRulesChanged_InvalidatesAndWarms(t *testing.T) {
	rules := new(mockRuleCache)
	locker := new(mockLocker)
	rules.On("Invalidate", mock.Anything).Return(nil)
	rules.On("ActiveRules", mock.Anything).Return([]models.PriceRule{}, nil)
	locker.On("AcquireLock", mock.Anything, reloadLockKey, 10*time.Second).Return(true, nil)
	locker.On("ReleaseLock", mock.Anything, reloadLockKey).Return(nil)

	w := NewCacheWorker(&stubSource{}, rules, nil, locker)
	require.NoError(t, w.HandlePriceRulesChanged(context.Background(), rulesChanged()))

	rules.AssertExpectations(t)
	locker.AssertExpectations(t)
}

func TestHandlePriceRulesChanged_LockHeldElsewhere(t *testing.T) {
	rules := new(mockRuleCache)
	locker := new(mockLocker)
	rules.On("Invalidate", mock.Anything).Return(nil)
	locker.On("AcquireLock", mock.Anything, reloadLockKey, mock.Anything).Return(false, nil)

	w := NewCacheWorker(&stubSource{}, rules, nil, locker)
	require.NoError(t, w.HandlePriceRulesChanged(context.Background(), rulesChanged()))

	rules.AssertNotCalled(t, "ActiveRules", mock.Anything)
	locker.AssertNotCalled(t, "ReleaseLock", mock.Anything, mock.Anything)
}

func TestHandlePriceRulesChanged_InvalidateFails(t *testing.T) {
	rules := new(mockRuleCache)
	rules.On("Invalidate", mock.Anything).Return(errors.New("redis down"))

	w := NewCacheWorker(&stubSource{}, rules, nil, nil)
	assert.Error(t, w.HandlePriceRulesChanged(context.Background(), rulesChanged()))
}

func TestHandleWarehouseRestocked(t *testing.T) {
	searches := new(mockSearchCache)
	searches.On("InvalidateSearches", mock.Anything, []string{"OC90", "W712/75"}).Return(nil)

	w := NewCacheWorker(&stubSource{}, new(mockRuleCache), searches, nil)
	err := w.HandleWarehouseRestocked(context.Background(), &models.WarehouseRestockedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeWarehouseRestocked),
		Articles:  []string{"OC90", "W712/75"},
	})
	require.NoError(t, err)
	searches.AssertExpectations(t)

	noCache := NewCacheWorker(&stubSource{}, new(mockRuleCache), nil, nil)
	assert.NoError(t, noCache.HandleWarehouseRestocked(context.Background(), &models.WarehouseRestockedEvent{Articles: []string{"OC90"}}))
}

func TestStartStop(t *testing.T) {
	src := &stubSource{}
	w := NewCacheWorker(src, new(mockRuleCache), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, w.Stop())
	assert.True(t, src.closed)
}
