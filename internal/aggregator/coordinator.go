// Package aggregator fans a query out to every supplier adapter and
// reconciles the union of their offers.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parts-aggregator/internal/models"
	"parts-aggregator/internal/supplier"
	"parts-aggregator/internal/util"

	"go.uber.org/zap"
)

// DefaultTimeout is the per-adapter deadline when none is configured
const DefaultTimeout = 8 * time.Second

// Result is the union of what every adapter returned in time
type Result struct {
	Items    []models.CanonicalItem
	Warnings []string
}

// Coordinator issues one query to all adapters concurrently. A slow or broken
// adapter contributes nothing; it never fails the aggregate query.
type Coordinator struct {
	adapters []supplier.Adapter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator over a fixed adapter set
func NewCoordinator(adapters []supplier.Adapter, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		adapters: adapters,
		timeout:  timeout,
		logger:   util.GetLogger(),
	}
}

// Timeout returns the per-adapter deadline
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Adapter returns the adapter registered under name
func (c *Coordinator) Adapter(name string) (supplier.Adapter, bool) {
	for _, a := range c.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

type outcome struct {
	items []models.CanonicalItem
	err   error
}

// Fanout runs q against every adapter and waits for all of them to settle,
// each bounded by the per-adapter deadline and by ctx.
func (c *Coordinator) Fanout(ctx context.Context, q supplier.Query) Result {
	ctx, span := util.StartSpan(ctx, "Coordinator.Fanout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.FanoutLatency.Observe(time.Since(start).Seconds())
	}()

	perAdapter := make([][]models.CanonicalItem, len(c.adapters))
	warnings := make([]string, len(c.adapters))
	done := make(chan struct{}, len(c.adapters))

	for i, adapter := range c.adapters {
		go func(i int, adapter supplier.Adapter) {
			defer func() { done <- struct{}{} }()
			perAdapter[i], warnings[i] = c.call(ctx, adapter, q)
		}(i, adapter)
	}
	for range c.adapters {
		<-done
	}

	result := Result{Items: []models.CanonicalItem{}, Warnings: []string{}}
	for i := range c.adapters {
		result.Items = append(result.Items, perAdapter[i]...)
		if warnings[i] != "" {
			result.Warnings = append(result.Warnings, warnings[i])
		}
	}

	util.OffersReceivedTotal.Add(float64(len(result.Items)))
	return result
}

// call races one adapter against the deadline. The adapter goroutine writes
// into a buffered channel so an abandoned straggler never blocks.
func (c *Coordinator) call(ctx context.Context, adapter supplier.Adapter, q supplier.Query) ([]models.CanonicalItem, string) {
	name := adapter.Name()
	ctx, span := util.StartSourceSpan(ctx, "Coordinator.call", name)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("%w: %v", errAdapterPanic, r)}
			}
		}()
		items, err := adapter.Search(callCtx, q)
		ch <- outcome{items: items, err: err}
	}()

	var res outcome
	select {
	case res = <-ch:
	case <-callCtx.Done():
		res = outcome{err: callCtx.Err()}
	}
	util.SupplierLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if res.err != nil {
		label := outcomeLabel(res.err)
		util.RecordError(span, res.err, label)
		util.SupplierRequestsTotal.WithLabelValues(name, label).Inc()
		c.logger.Warn("Supplier dropped from fan-out",
			zap.String("source", name),
			zap.String("outcome", label),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(res.err))
		return nil, fmt.Sprintf("%s: %s", name, label)
	}

	util.SupplierRequestsTotal.WithLabelValues(name, util.OutcomeOK).Inc()
	return res.items, ""
}

var errAdapterPanic = errors.New("adapter panicked")

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, supplier.ErrRateLimited):
		return util.OutcomeRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return util.OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return util.OutcomeCanceled
	case errors.Is(err, errAdapterPanic):
		return util.OutcomePanic
	case errors.Is(err, supplier.ErrNotConfigured):
		return util.OutcomeSkipped
	default:
		return util.OutcomeError
	}
}
