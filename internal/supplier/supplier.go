// Package supplier holds the upstream catalog adapters. Each adapter turns one
// vendor API into models.CanonicalItem; vendor field names never leave the
// adapter that owns them.
package supplier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parts-aggregator/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// maxResponseSize caps vendor response bodies (10MB)
const maxResponseSize = 10 * 1024 * 1024

var (
	ErrNotConfigured   = errors.New("supplier: credentials not configured")
	ErrUnauthorized    = errors.New("supplier: unauthorized")
	ErrUnavailable     = errors.New("supplier: unavailable")
	ErrRequestFailed   = errors.New("supplier: request failed")
	ErrInvalidResponse = errors.New("supplier: invalid response")
	ErrNotFound        = errors.New("supplier: item not found")
	ErrRateLimited     = errors.New("supplier: rate limited")
)

// Query is the search input every adapter understands
type Query struct {
	Article        string
	Brand          string
	VIN            string
	IncludeAnalogs bool
}

// IsVIN reports whether the query targets a vehicle rather than an article
func (q Query) IsVIN() bool {
	return q.VIN != ""
}

// Adapter is the capability contract of one upstream source.
// Search returns an empty slice for "no results" and an error only for
// transport, auth or decoding failures.
type Adapter interface {
	Name() string
	Search(ctx context.Context, q Query) ([]models.CanonicalItem, error)
}

// DetailFetcher is implemented by adapters that can resolve one of their own
// resource ids directly.
type DetailFetcher interface {
	Lookup(ctx context.Context, vendorID string) (*models.CanonicalItem, error)
}

// AcceptanceFilter drops offers the shop is not willing to resell.
// A zero MinReliability disables the reliability check.
type AcceptanceFilter struct {
	MinStock       int
	MinReliability int
}

// Accept reports whether an offer passes the filter
func (f AcceptanceFilter) Accept(stock, reliability int) bool {
	if stock <= 0 || stock < f.MinStock {
		return false
	}
	return reliability >= f.MinReliability
}

// ResourceID builds the public identifier of a vendor record
func ResourceID(source, vendorID string) string {
	return source + ":" + vendorID
}

// SplitResourceID splits "<source>:<vendor id>" into its parts
func SplitResourceID(id string) (source, vendorID string, ok bool) {
	source, vendorID, ok = strings.Cut(strings.TrimSpace(id), ":")
	if !ok || source == "" || vendorID == "" {
		return "", "", false
	}
	return source, vendorID, true
}

// ParseStock converts vendor stock notations ("12", ">50", "10+", "") into a quantity
func ParseStock(s string) int {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "<>=~ ")
	s = strings.TrimRight(s, "+ ")
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ParseDecimal parses a vendor price string, accepting a decimal comma.
// The second return value is false for empty, malformed or negative input.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

// DecimalFromFloat converts a vendor float price, rejecting NaN, Inf and negatives
func DecimalFromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// newLimiter builds a per-vendor request limiter. A non-positive rate means unlimited.
// The limiter is the vendor's quota, so every concurrent call of an adapter draws
// from it.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// waitForToken reserves one request from the limiter. A reservation that
// would not be ready before the context deadline is returned unused and the
// call fails at once with ErrRateLimited.
func waitForToken(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}

	r := limiter.Reserve()
	if !r.OK() {
		return ErrRateLimited
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		r.Cancel()
		return fmt.Errorf("%w: next slot in %s", ErrRateLimited, delay.Round(time.Millisecond))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return fmt.Errorf("%w: %w", ErrRateLimited, ctx.Err())
	}
}

// doRequest waits for the vendor rate limit, executes req and returns the
// capped body, mapping HTTP failures to the package sentinel errors.
func doRequest(client *http.Client, limiter *rate.Limiter, req *http.Request) ([]byte, error) {
	if err := waitForToken(req.Context(), limiter); err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: HTTP %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode)
	}

	return body, nil
}
