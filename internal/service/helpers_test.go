package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reservation-service/internal/kvstore"
	"reservation-service/internal/models"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      *kvstore.Store
	ledger     *StockLedger
	manager    *ReservationManager
	reconciler *Reconciler
}

func newFixture(t *testing.T, cfg ReconcilerConfig, publisher EventPublisher) *fixture {
	t.Helper()

	st, err := kvstore.Open(kvstore.Config{InMemory: true, MaxRetries: 100})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ledger := NewStockLedger(st)
	return &fixture{
		store:      st,
		ledger:     ledger,
		manager:    NewReservationManager(st),
		reconciler: NewReconciler(st, ledger, publisher, cfg),
	}
}

func newDefaultFixture(t *testing.T) *fixture {
	return newFixture(t, DefaultReconcilerConfig(), nil)
}

// reserve adds a cart line and increments it up to quantity
func (f *fixture) reserve(t *testing.T, userID, itemID string, quantity int) {
	t.Helper()
	ctx := context.Background()

	_, err := f.manager.AddReservation(ctx, userID, itemID)
	require.NoError(t, err)
	for i := 1; i < quantity; i++ {
		_, err := f.manager.Increment(ctx, userID, itemID)
		require.NoError(t, err)
	}
}

func (f *fixture) reservation(t *testing.T, userID, itemID string) models.Reservation {
	t.Helper()

	lines, err := f.manager.ListReservations(context.Background(), userID)
	require.NoError(t, err)
	for _, r := range lines {
		if r.ItemID == itemID {
			return r
		}
	}
	t.Fatalf("no reservation for %s/%s", userID, itemID)
	return models.Reservation{}
}

func (f *fixture) stock(t *testing.T, itemID string) int {
	t.Helper()

	n, err := f.ledger.Get(context.Background(), itemID)
	require.NoError(t, err)
	return n
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu        sync.Mutex
	purchased []*models.ItemPurchasedEvent
	completed []*models.CheckoutCompletedEvent
	err       error
}

func (p *recordingPublisher) PublishItemPurchased(_ context.Context, event *models.ItemPurchasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purchased = append(p.purchased, event)
	return p.err
}

func (p *recordingPublisher) PublishCheckoutCompleted(_ context.Context, event *models.CheckoutCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, event)
	return p.err
}

// memoryIdempotency is a map-backed IdempotencyStore
type memoryIdempotency struct {
	mu      sync.Mutex
	entries map[string][]byte
	loadErr error
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{entries: make(map[string][]byte)}
}

func (m *memoryIdempotency) LoadResult(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, false, m.loadErr
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryIdempotency) SaveResult(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

var errBrokerDown = errors.New("broker down")
