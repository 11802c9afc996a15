package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parts-aggregator/internal/service"
	"parts-aggregator/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	catalog        *service.CatalogService
	dependencies   map[string]Pinger
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler. dependencies are pinged by /ready.
func NewHandler(catalog *service.CatalogService, dependencies map[string]Pinger, requestTimeout time.Duration) *Handler {
	return &Handler{
		catalog:        catalog,
		dependencies:   dependencies,
		requestTimeout: requestTimeout,
		logger:         util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(h.loggingMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(otelgin.Middleware("parts-aggregator"))
	v1.Use(h.timeoutMiddleware())
	{
		v1.POST("/search", h.search)
		v1.GET("/search/article/*article", h.searchByArticle)
		v1.GET("/search/resource/:id", h.searchByResource)
		v1.GET("/search/vin/:vin", h.searchByVIN)
		v1.POST("/prices", h.getPrices)
		v1.POST("/stocks", h.getStocks)
		v1.GET("/items/:id", h.getItem)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// IDsRequest is the body of price and stock lookups
type IDsRequest struct {
	IDs      []string `json:"ids" binding:"required"`
	Category string   `json:"category,omitempty"`
}

// search handles batch search
func (h *Handler) search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	resp, err := h.catalog.SearchByArticles(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// searchByArticle handles single article search. The article is a catch-all
// parameter since part numbers may contain slashes.
func (h *Handler) searchByArticle(c *gin.Context) {
	analogs, ok := analogsParam(c)
	if !ok {
		return
	}

	article := strings.TrimPrefix(c.Param("article"), "/")
	resp, err := h.catalog.SearchByArticle(c.Request.Context(), article, c.Query("brand"), analogs, c.Query("category"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// searchByResource handles search by resource id
func (h *Handler) searchByResource(c *gin.Context) {
	analogs, ok := analogsParam(c)
	if !ok {
		return
	}

	resp, err := h.catalog.SearchByResourceID(c.Request.Context(), c.Param("id"), analogs, c.Query("category"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// searchByVIN handles search by vehicle identification number
func (h *Handler) searchByVIN(c *gin.Context) {
	resp, err := h.catalog.SearchByVIN(c.Request.Context(), c.Param("vin"), c.Query("category"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getPrices handles price range lookups
func (h *Handler) getPrices(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	prices, err := h.catalog.GetPrices(c.Request.Context(), req.IDs, req.Category)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, prices)
}

// getStocks handles stock lookups
func (h *Handler) getStocks(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	stocks, err := h.catalog.GetStock(c.Request.Context(), req.IDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stocks)
}

// getItem handles direct item lookup
func (h *Handler) getItem(c *gin.Context) {
	item, err := h.catalog.GetItemDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func analogsParam(c *gin.Context) (bool, bool) {
	raw := c.Query("analogs")
	if raw == "" {
		return false, true
	}
	analogs, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, "Invalid analogs flag", err)
		return false, false
	}
	return analogs, true
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  http.StatusBadRequest,
		"error":   message,
		"details": err.Error(),
	})
}

func writeError(c *gin.Context, err error) {
	svcErr := service.AsError(err)
	c.JSON(svcErr.Status, gin.H{
		"status":  svcErr.Status,
		"error":   svcErr.Message,
		"details": svcErr.Details,
	})
}

// timeoutMiddleware bounds every API request, and with it the fan-out
func (h *Handler) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.requestTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requestIDMiddleware propagates or assigns a request id
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// loggingMiddleware writes one structured line per request
func (h *Handler) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		h.logger.Info("HTTP request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
