package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency can serve requests
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	ledger     *service.StockLedger
	manager    *service.ReservationManager
	reconciler *service.Reconciler
	checks     map[string]ReadinessCheck
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	ledger *service.StockLedger,
	manager *service.ReservationManager,
	reconciler *service.Reconciler,
) *Handler {
	return &Handler{
		ledger:     ledger,
		manager:    manager,
		reconciler: reconciler,
		checks:     make(map[string]ReadinessCheck),
		logger:     util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/items/:itemId/stock", h.getStock)

		cart := v1.Group("/users/:userId/cart")
		cart.GET("", h.listCart)
		cart.DELETE("", h.clearCart)
		cart.POST("/:itemId", h.addToCart)
		cart.DELETE("/:itemId", h.removeFromCart)
		cart.POST("/:itemId/increment", h.incrementQuantity)
		cart.POST("/:itemId/decrement", h.decrementQuantity)
		cart.GET("/:itemId/headroom", h.headroom)

		v1.POST("/users/:userId/checkout", h.checkout)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
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

// getStock handles remaining stock lookups
func (h *Handler) getStock(c *gin.Context) {
	itemID := c.Param("itemId")

	remaining, err := h.ledger.Get(c.Request.Context(), itemID)
	if err != nil {
		h.writeError(c, "Failed to get stock", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item_id":         itemID,
		"remaining_stock": remaining,
	})
}

// listCart returns the user's cart lines and their count
func (h *Handler) listCart(c *gin.Context) {
	userID := c.Param("userId")

	lines, err := h.manager.ListReservations(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, "Failed to list cart", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"items":   lines,
		"count":   len(lines),
	})
}

func (h *Handler) addToCart(c *gin.Context) {
	r, err := h.manager.AddReservation(c.Request.Context(), c.Param("userId"), c.Param("itemId"))
	if err != nil {
		h.writeError(c, "Failed to add item to cart", err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) incrementQuantity(c *gin.Context) {
	h.adjust(c, 1)
}

func (h *Handler) decrementQuantity(c *gin.Context) {
	h.adjust(c, -1)
}

func (h *Handler) adjust(c *gin.Context, delta int) {
	r, err := h.manager.AdjustQuantity(c.Request.Context(), c.Param("userId"), c.Param("itemId"), delta)
	if err != nil {
		h.writeError(c, "Failed to adjust quantity", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) headroom(c *gin.Context) {
	itemID := c.Param("itemId")

	ok, err := h.manager.AvailableHeadroom(c.Request.Context(), c.Param("userId"), itemID)
	if err != nil {
		h.writeError(c, "Failed to check headroom", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item_id":  itemID,
		"headroom": ok,
	})
}

func (h *Handler) removeFromCart(c *gin.Context) {
	if err := h.manager.RemoveReservation(c.Request.Context(), c.Param("userId"), c.Param("itemId")); err != nil {
		h.writeError(c, "Failed to remove item from cart", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.manager.ClearReservations(c.Request.Context(), c.Param("userId")); err != nil {
		h.writeError(c, "Failed to clear cart", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// checkout purchases the user's cart. An Idempotency-Key header makes
// retries return the first result.
func (h *Handler) checkout(c *gin.Context) {
	batch, err := h.reconciler.CheckoutWithKey(
		c.Request.Context(),
		c.Param("userId"),
		c.GetHeader("Idempotency-Key"),
	)
	if err != nil {
		h.writeError(c, "Failed to checkout", err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *Handler) writeError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrQuantityOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrAlreadyReserved),
		errors.Is(err, models.ErrOutOfStock),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
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
