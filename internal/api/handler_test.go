package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"reservation-service/internal/kvstore"
	"reservation-service/internal/models"
	"reservation-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router  *gin.Engine
	handler *Handler
	ledger  *service.StockLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ledger := service.NewStockLedger(st)
	manager := service.NewReservationManager(st)
	cfg := service.DefaultReconcilerConfig()
	cfg.Locker = service.NewLocalLocker()
	reconciler := service.NewReconciler(st, ledger, nil, cfg)

	h := NewHandler(ledger, manager, reconciler)
	router := gin.New()
	h.SetupRoutes(router)

	return &testServer{router: router, handler: h, ledger: ledger}
}

func (s *testServer) do(t *testing.T, method, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	s.handler.AddReadinessCheck("database", func(context.Context) error {
		return errors.New("down")
	})
	w = s.do(t, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCartFlow(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.ledger.Register(context.Background(), "book-1", 2))

	w := s.do(t, http.MethodPost, "/api/v1/users/alice/cart/book-1")
	require.Equal(t, http.StatusCreated, w.Code)
	var r models.Reservation
	decode(t, w, &r)
	assert.Equal(t, 1, r.Quantity)

	w = s.do(t, http.MethodPost, "/api/v1/users/alice/cart/book-1")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/users/alice/cart/book-1/headroom")
	require.Equal(t, http.StatusOK, w.Code)
	var headroom struct {
		Headroom bool `json:"headroom"`
	}
	decode(t, w, &headroom)
	assert.True(t, headroom.Headroom)

	w = s.do(t, http.MethodPost, "/api/v1/users/alice/cart/book-1/increment")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &r)
	assert.Equal(t, 2, r.Quantity)

	w = s.do(t, http.MethodPost, "/api/v1/users/alice/cart/book-1/increment")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/users/alice/cart/book-1/decrement")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/users/alice/cart")
	require.Equal(t, http.StatusOK, w.Code)
	var cart struct {
		Items []models.Reservation `json:"items"`
		Count int                  `json:"count"`
	}
	decode(t, w, &cart)
	assert.Equal(t, 1, cart.Count)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)

	w = s.do(t, http.MethodDelete, "/api/v1/users/alice/cart/book-1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, "/api/v1/users/alice/cart/book-1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/users/alice/cart")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCheckout(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.ledger.Register(ctx, "book-1", 5))

	for _, path := range []string{
		"/api/v1/users/x/cart/book-1",
		"/api/v1/users/x/cart/book-1/increment",
		"/api/v1/users/y/cart/book-1",
	} {
		w := s.do(t, http.MethodPost, path)
		require.Less(t, w.Code, 300, path)
	}

	w := s.do(t, http.MethodPost, "/api/v1/users/x/checkout", "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, w.Code)
	var batch models.CheckoutBatch
	decode(t, w, &batch)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, models.ItemStatusPurchased, batch.Items[0].Status)
	assert.NotEmpty(t, batch.PurchaseID)

	w = s.do(t, http.MethodGet, "/api/v1/items/book-1/stock")
	require.Equal(t, http.StatusOK, w.Code)
	var stock struct {
		RemainingStock int `json:"remaining_stock"`
	}
	decode(t, w, &stock)
	assert.Equal(t, 3, stock.RemainingStock)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.ledger.Register(context.Background(), "empty", 0))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/items/missing/stock", http.StatusNotFound},
		{http.MethodPost, "/api/v1/users/alice/cart/missing", http.StatusNotFound},
		{http.MethodPost, "/api/v1/users/alice/cart/empty", http.StatusConflict},
		{http.MethodPost, "/api/v1/users/alice/cart/missing/increment", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			w := s.do(t, tt.method, tt.path)
			assert.Equal(t, tt.want, w.Code)

			var body map[string]string
			decode(t, w, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", models.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrQuantityOutOfRange), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", models.ErrAlreadyReserved), http.StatusConflict},
		{fmt.Errorf("x: %w", models.ErrOutOfStock), http.StatusConflict},
		{fmt.Errorf("x: %w", models.ErrInsufficientStock), http.StatusConflict},
		{fmt.Errorf("x: %w", models.ErrConflict), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
