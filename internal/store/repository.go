package store

import (
	"context"

	"reservation-service/internal/models"
)

// Store is a durable backend for items, reservations and purchases.
// Implementations: *PostgresStore and kvstore.Store (badger).
type Store interface {
	// WithTx runs fn in a transaction and commits it if fn returns nil.
	// fn may be invoked more than once when the backend detects a
	// serialization conflict, so it must not have side effects outside tx.
	// Exhausted retries surface as models.ErrConflict.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the backend
	Close() error
}

// Tx is the per-key read-modify-write surface available inside WithTx.
// Reads that the caller later writes on are serialized against concurrent
// writers of the same key until the transaction ends.
type Tx interface {
	// GetStock reads the item's remaining stock. The row is share-locked so
	// concurrent decrements wait for this transaction.
	GetStock(ctx context.Context, itemID string) (int, error)

	// LockStock reads the item's remaining stock and holds it exclusively
	// until the transaction ends
	LockStock(ctx context.Context, itemID string) (int, error)

	// DecrementStock subtracts amount and returns the new remaining stock.
	// Fails with models.ErrInsufficientStock when amount exceeds it.
	DecrementStock(ctx context.Context, itemID string, amount int) (int, error)

	// PutItem creates the item or replaces its stock
	PutItem(ctx context.Context, item *models.Item) error

	// GetReservation reads and locks one reservation
	GetReservation(ctx context.Context, userID, itemID string) (*models.Reservation, error)

	// ListUserReservations returns every reservation of a user
	ListUserReservations(ctx context.Context, userID string) ([]models.Reservation, error)

	// ListItemReservations returns every reservation on an item
	ListItemReservations(ctx context.Context, itemID string) ([]models.Reservation, error)

	// InsertReservation fails with models.ErrAlreadyReserved on a duplicate (user, item)
	InsertReservation(ctx context.Context, r *models.Reservation) error

	// UpdateReservation fails with models.ErrNotFound if the reservation is gone
	UpdateReservation(ctx context.Context, r *models.Reservation) error

	// DeleteReservation reports whether a reservation was removed
	DeleteReservation(ctx context.Context, userID, itemID string) (bool, error)

	// DeleteUserReservations removes all reservations of a user and returns how many
	DeleteUserReservations(ctx context.Context, userID string) (int, error)

	// InsertPurchase writes a purchase record with its lines
	InsertPurchase(ctx context.Context, p *models.Purchase) error
}
