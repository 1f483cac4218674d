package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Defaults for ReconcilerConfig
const (
	DefaultPropagationConcurrency = 8
	DefaultCheckoutLockTTL        = 30 * time.Second
	DefaultIdempotencyTTL         = 24 * time.Hour
)

// ReconcilerConfig holds the optional collaborators of a Reconciler
type ReconcilerConfig struct {
	// PropagationConcurrency bounds parallel reservation updates per item
	PropagationConcurrency int

	// Locker serializes checkouts of the same user. Nil disables it.
	Locker  Locker
	LockTTL time.Duration

	// Idempotency caches checkout results by request key. Nil disables it.
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
}

// DefaultReconcilerConfig returns a config without lock or cache
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PropagationConcurrency: DefaultPropagationConcurrency,
		LockTTL:                DefaultCheckoutLockTTL,
		IdempotencyTTL:         DefaultIdempotencyTTL,
	}
}

// Reconciler turns a user's cart into a purchase and pushes the resulting
// shortfall into everybody else's cart.
type Reconciler struct {
	store       store.Store
	ledger      *StockLedger
	publisher   EventPublisher
	locker      Locker
	idempotency IdempotencyStore
	concurrency int
	lockTTL     time.Duration
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewReconciler creates a new checkout reconciler
func NewReconciler(st store.Store, ledger *StockLedger, publisher EventPublisher, cfg ReconcilerConfig) *Reconciler {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if cfg.PropagationConcurrency < 1 {
		cfg.PropagationConcurrency = DefaultPropagationConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultCheckoutLockTTL
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}

	return &Reconciler{
		store:       st,
		ledger:      ledger,
		publisher:   publisher,
		locker:      cfg.Locker,
		idempotency: cfg.Idempotency,
		concurrency: cfg.PropagationConcurrency,
		lockTTL:     cfg.LockTTL,
		cacheTTL:    cfg.IdempotencyTTL,
		logger:      util.GetLogger(),
	}
}

// Checkout purchases every reserved cart line of a user
func (r *Reconciler) Checkout(ctx context.Context, userID string) (*models.CheckoutBatch, error) {
	return r.CheckoutWithKey(ctx, userID, "")
}

// CheckoutWithKey is Checkout with an idempotency key. A repeated key returns
// the first result without touching stock again.
func (r *Reconciler) CheckoutWithKey(ctx context.Context, userID, idempotencyKey string) (*models.CheckoutBatch, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Checkout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	span.SetAttributes(attribute.String("user.id", userID))

	if err := validateID("user", userID); err != nil {
		return nil, err
	}

	if r.locker != nil {
		unlock, ok, err := r.locker.TryLock(ctx, "checkout:"+userID, r.lockTTL)
		if err != nil {
			util.RecordSpanError(span, err)
			util.CheckoutsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to acquire checkout lock: %w", err)
		}
		if !ok {
			err := fmt.Errorf("checkout for user %s already in progress: %w", userID, models.ErrConflict)
			util.RecordSpanError(span, err)
			util.CheckoutsTotal.WithLabelValues("conflict").Inc()
			return nil, err
		}
		defer unlock()
	}

	cacheKey := ""
	if idempotencyKey != "" && r.idempotency != nil {
		cacheKey = fmt.Sprintf("checkout:%s:%s", userID, idempotencyKey)
		if batch, ok := r.loadBatch(ctx, cacheKey); ok {
			util.CheckoutsTotal.WithLabelValues("replayed").Inc()
			r.logger.Info("Duplicate checkout request detected",
				zap.String("user_id", userID),
				zap.String("idempotency_key", idempotencyKey))
			return batch, nil
		}
	}

	batch, err := r.commit(ctx, userID)
	if err != nil {
		util.RecordSpanError(span, err)
		result := "error"
		if errors.Is(err, models.ErrConflict) {
			result = "conflict"
		}
		util.CheckoutsTotal.WithLabelValues(result).Inc()
		return nil, err
	}

	events := r.propagateAll(ctx, batch)
	r.publish(ctx, batch, events)

	if cacheKey != "" {
		r.saveBatch(ctx, cacheKey, batch)
	}

	for _, item := range batch.Items {
		util.CheckoutItemsTotal.WithLabelValues(string(item.Status)).Inc()
	}
	switch {
	case len(batch.Items) == 0:
		util.CheckoutsTotal.WithLabelValues("empty").Inc()
	case batch.PurchaseID == "":
		util.CheckoutsTotal.WithLabelValues("nothing_purchased").Inc()
	default:
		util.CheckoutsTotal.WithLabelValues("purchased").Inc()
	}

	span.SetAttributes(
		attribute.String("purchase.id", batch.PurchaseID),
		attribute.Int("checkout.items", len(batch.Items)),
	)
	r.logger.Info("Checkout completed",
		zap.String("user_id", userID),
		zap.String("purchase_id", batch.PurchaseID),
		zap.Int("items", len(batch.Items)),
		zap.Int("purchased", len(batch.Purchased())))
	return batch, nil
}

// commit decrements stock for every reserved line and folds the purchased
// lines into one purchase record, all in a single transaction.
func (r *Reconciler) commit(ctx context.Context, userID string) (*models.CheckoutBatch, error) {
	var batch *models.CheckoutBatch
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()
		batch = &models.CheckoutBatch{
			UserID:    userID,
			Items:     []models.ItemResult{},
			CreatedAt: now,
		}

		lines, err := tx.ListUserReservations(ctx, userID)
		if err != nil {
			return err
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })

		purchase := &models.Purchase{
			ID:        uuid.New().String(),
			UserID:    userID,
			CreatedAt: now,
		}

		for _, line := range lines {
			if !line.Reserved() {
				continue
			}

			current, err := tx.GetReservation(ctx, userID, line.ItemID)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("reservation %s/%s vanished during checkout: %w",
					userID, line.ItemID, models.ErrConflict)
			}
			if err != nil {
				return err
			}
			if !current.Reserved() {
				continue
			}

			result := models.ItemResult{ItemID: current.ItemID, Quantity: current.Quantity}
			preStock, remaining, err := r.ledger.decrement(ctx, tx, current.ItemID, current.Quantity)
			result.PreStock = preStock
			result.RemainingStock = remaining
			if errors.Is(err, models.ErrInsufficientStock) {
				result.Status = models.ItemStatusInsufficientStock
				batch.Items = append(batch.Items, result)
				continue
			}
			if err != nil {
				return err
			}

			if _, err := tx.DeleteReservation(ctx, userID, current.ItemID); err != nil {
				return err
			}

			result.Status = models.ItemStatusPurchased
			batch.Items = append(batch.Items, result)
			purchase.Lines = append(purchase.Lines, models.PurchaseLine{
				PurchaseID: purchase.ID,
				ItemID:     current.ItemID,
				Quantity:   current.Quantity,
			})
		}

		if len(purchase.Lines) == 0 {
			return nil
		}
		if err := tx.InsertPurchase(ctx, purchase); err != nil {
			return err
		}
		batch.PurchaseID = purchase.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkout for user %s failed: %w", userID, err)
	}
	return batch, nil
}

// propagateAll runs the propagation pass for each purchased item and records
// the outcome on the batch. It returns the events it propagated.
func (r *Reconciler) propagateAll(ctx context.Context, batch *models.CheckoutBatch) []*models.ItemPurchasedEvent {
	var events []*models.ItemPurchasedEvent
	for i := range batch.Items {
		item := &batch.Items[i]
		if item.Status != models.ItemStatusPurchased {
			continue
		}

		event := newItemPurchasedEvent(batch, item)
		events = append(events, event)

		n, err := r.Propagate(ctx, event)
		item.Reconciled = n
		if err != nil {
			item.PropagationError = err.Error()
			util.PropagationFailuresTotal.Inc()
			r.logger.Error("Propagation failed",
				zap.String("purchase_id", batch.PurchaseID),
				zap.String("item_id", item.ItemID),
				zap.Error(err))
		}
	}
	return events
}

// publish emits the purchase events. Failures are logged only; the checkout
// is already committed.
func (r *Reconciler) publish(ctx context.Context, batch *models.CheckoutBatch, events []*models.ItemPurchasedEvent) {
	if len(events) == 0 {
		return
	}

	for _, event := range events {
		if err := r.publisher.PublishItemPurchased(ctx, event); err != nil {
			util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeItemPurchased).Inc()
			r.logger.Error("Failed to publish ItemPurchased event",
				zap.String("item_id", event.ItemID),
				zap.Error(err))
		}
	}

	completed := &models.CheckoutCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCheckoutCompleted,
			Timestamp: time.Now(),
		},
		PurchaseID: batch.PurchaseID,
		UserID:     batch.UserID,
		Items:      make([]models.PurchasedItemData, 0, len(events)),
	}
	for _, event := range events {
		completed.Items = append(completed.Items, models.PurchasedItemData{
			ItemID:   event.ItemID,
			Quantity: event.Quantity,
		})
	}
	if err := r.publisher.PublishCheckoutCompleted(ctx, completed); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeCheckoutCompleted).Inc()
		r.logger.Error("Failed to publish CheckoutCompleted event", zap.Error(err))
	}
}

// HandleItemPurchased re-applies a purchase event delivered by the broker
func (r *Reconciler) HandleItemPurchased(ctx context.Context, event *models.ItemPurchasedEvent) error {
	if _, err := r.Propagate(ctx, event); err != nil {
		util.PropagationFailuresTotal.Inc()
		return err
	}
	return nil
}

func (r *Reconciler) loadBatch(ctx context.Context, key string) (*models.CheckoutBatch, bool) {
	data, ok, err := r.idempotency.LoadResult(ctx, key)
	if err != nil {
		r.logger.Warn("Failed to read idempotency cache", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var batch models.CheckoutBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		r.logger.Warn("Discarding unreadable idempotency entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &batch, true
}

func (r *Reconciler) saveBatch(ctx context.Context, key string, batch *models.CheckoutBatch) {
	data, err := json.Marshal(batch)
	if err != nil {
		r.logger.Warn("Failed to encode checkout result", zap.Error(err))
		return
	}
	if err := r.idempotency.SaveResult(ctx, key, data, r.cacheTTL); err != nil {
		r.logger.Warn("Failed to write idempotency cache", zap.String("key", key), zap.Error(err))
	}
}

func newItemPurchasedEvent(batch *models.CheckoutBatch, item *models.ItemResult) *models.ItemPurchasedEvent {
	return &models.ItemPurchasedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeItemPurchased,
			Timestamp: time.Now(),
		},
		PurchaseID: batch.PurchaseID,
		UserID:     batch.UserID,
		ItemID:     item.ItemID,
		PreStock:   item.PreStock,
		Quantity:   item.Quantity,
		Remaining:  item.RemainingStock,
	}
}
