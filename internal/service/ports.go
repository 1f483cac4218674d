package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reservation-service/internal/models"
)

// EventPublisher publishes reconciliation events. broker.EventPublisher
// implements it over kafka.
type EventPublisher interface {
	PublishItemPurchased(ctx context.Context, event *models.ItemPurchasedEvent) error
	PublishCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error
}

// Locker hands out non-blocking, expiring locks keyed by string.
type Locker interface {
	// TryLock returns ok=false without waiting if key is held elsewhere.
	// The returned unlock func must be called once ok is true.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// IdempotencyStore caches checkout results for replayed requests
type IdempotencyStore interface {
	LoadResult(ctx context.Context, key string) ([]byte, bool, error)
	SaveResult(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NopPublisher drops every event. Used when kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishItemPurchased(context.Context, *models.ItemPurchasedEvent) error {
	return nil
}

func (NopPublisher) PublishCheckoutCompleted(context.Context, *models.CheckoutCompletedEvent) error {
	return nil
}

func validateID(kind, id string) error {
	if id == "" || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%s id %q: %w", kind, id, models.ErrInvalidArgument)
	}
	return nil
}

func validateKey(userID, itemID string) error {
	if err := validateID("user", userID); err != nil {
		return err
	}
	return validateID("item", itemID)
}
