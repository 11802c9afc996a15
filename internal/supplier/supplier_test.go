package supplier

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStock(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"12", 12},
		{">50", 50},
		{"10+", 10},
		{" < 5 ", 5},
		{"", 0},
		{"many", 0},
		{"-3", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStock(tt.in))
		})
	}
}

func TestParseDecimal(t *testing.T) {
	d, ok := ParseDecimal("1234.50")
	assert.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("1234.5")))

	d, ok = ParseDecimal("99,90")
	assert.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("99.9")))

	_, ok = ParseDecimal("")
	assert.False(t, ok)
	_, ok = ParseDecimal("abc")
	assert.False(t, ok)
	_, ok = ParseDecimal("-1")
	assert.False(t, ok)
}

func TestDecimalFromFloat(t *testing.T) {
	d, ok := DecimalFromFloat(10.25)
	assert.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("10.25")))

	_, ok = DecimalFromFloat(math.NaN())
	assert.False(t, ok)
	_, ok = DecimalFromFloat(math.Inf(1))
	assert.False(t, ok)
	_, ok = DecimalFromFloat(-0.5)
	assert.False(t, ok)
}

func TestAcceptanceFilter(t *testing.T) {
	f := AcceptanceFilter{MinStock: 1, MinReliability: 80}

	assert.True(t, f.Accept(1, 80))
	assert.True(t, f.Accept(10, 99))
	assert.False(t, f.Accept(0, 100))
	assert.False(t, f.Accept(5, 79))

	zero := AcceptanceFilter{}
	assert.True(t, zero.Accept(1, 0))
	assert.False(t, zero.Accept(0, 0))
}

func TestSplitResourceID(t *testing.T) {
	source, id, ok := SplitResourceID("partsapi:abc:1")
	assert.True(t, ok)
	assert.Equal(t, "partsapi", source)
	assert.Equal(t, "abc:1", id)

	_, _, ok = SplitResourceID("no-separator")
	assert.False(t, ok)
	_, _, ok = SplitResourceID(":1")
	assert.False(t, ok)
	_, _, ok = SplitResourceID("warehouse:")
	assert.False(t, ok)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0))
	assert.Nil(t, newLimiter(-1))

	l := newLimiter(0.5)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
	assert.Equal(t, 5, newLimiter(5).Burst())
}

func TestDoRequest_RateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	limiter := newLimiter(0.01)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = doRequest(server.Client(), limiter, req)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForToken_FailsFastPastDeadline(t *testing.T) {
	limiter := newLimiter(0.01)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := waitForToken(ctx, limiter)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitForToken_WaitsWithinDeadline(t *testing.T) {
	limiter := newLimiter(20)
	for limiter.Allow() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, waitForToken(ctx, limiter))
	assert.NoError(t, waitForToken(context.Background(), nil))
}

func TestDoRequest_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrRequestFailed},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = doRequest(server.Client(), nil, req)
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		server.Close()
	}
}
