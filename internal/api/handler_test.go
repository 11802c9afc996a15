package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parts-aggregator/internal/aggregator"
	"parts-aggregator/internal/pricing"
	"parts-aggregator/internal/service"
	"parts-aggregator/internal/supplier"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRouter(deps map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)

	items, vehicle := supplier.DemoCatalog()
	coordinator := aggregator.NewCoordinator([]supplier.Adapter{
		supplier.NewStaticAdapter(supplier.StaticName, items, vehicle, 0),
	}, time.Second)
	catalog := service.NewCatalogService(coordinator, pricing.NewEngine(nil, pricing.DefaultPolicy()), nil, nil, service.CatalogConfig{})

	router := gin.New()
	NewHandler(catalog, deps, 5*time.Second).SetupRoutes(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	w := do(t, newRouter(nil), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestReadinessCheck(t *testing.T) {
	ok := newRouter(map[string]Pinger{"redis": pingFunc(func(ctx context.Context) error { return nil })})
	assert.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/ready", nil).Code)

	down := newRouter(map[string]Pinger{"postgres": pingFunc(func(ctx context.Context) error { return errors.New("connection refused") })})
	w := do(t, down, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestSearchByArticle_SlashInArticle(t *testing.T) {
	w := do(t, newRouter(nil), http.MethodGet, "/api/v1/search/article/W712/75?brand=mann", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	items := body["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, "W712/75", item["article"])
	assert.Equal(t, "580", item["price"])
	assert.Equal(t, []interface{}{}, body["warnings"])
}

func TestSearchByArticle_BadAnalogsFlag(t *testing.T) {
	w := do(t, newRouter(nil), http.MethodGet, "/api/v1/search/article/OC90?analogs=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchByVIN_InvalidLength(t *testing.T) {
	w := do(t, newRouter(nil), http.MethodGet, "/api/v1/search/vin/ABC", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode(t, w)
	assert.EqualValues(t, http.StatusBadRequest, body["status"])
	assert.Equal(t, "vin must be exactly 17 characters", body["error"])
	assert.Equal(t, "got 3", body["details"])
}

func TestBatchSearch(t *testing.T) {
	w := do(t, newRouter(nil), http.MethodPost, "/api/v1/search", gin.H{
		"items":           []gin.H{{"article_or_id": "OC90"}, {"article_or_id": "static:3"}},
		"include_analogs": false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["items"], 2)
}

func TestBatchSearch_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPricesAndStocks(t *testing.T) {
	router := newRouter(nil)

	w := do(t, router, http.MethodPost, "/api/v1/prices", gin.H{"ids": []string{"static:1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	prices := body["prices"].([]interface{})
	require.Len(t, prices, 1)
	assert.EqualValues(t, 2, prices[0].(map[string]interface{})["offers"])
	assert.Equal(t, []interface{}{}, body["warnings"])

	w = do(t, router, http.MethodPost, "/api/v1/stocks", gin.H{"ids": []string{"static:1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stocks := decode(t, w)["stocks"].([]interface{})
	require.Len(t, stocks, 1)
	assert.EqualValues(t, 16, stocks[0].(map[string]interface{})["total_quantity"])
}

func TestGetItem(t *testing.T) {
	router := newRouter(nil)

	w := do(t, router, http.MethodGet, "/api/v1/items/static:4", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OC90", decode(t, w)["article"])

	w = do(t, router, http.MethodGet, "/api/v1/items/static:404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/items/unknown:1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
