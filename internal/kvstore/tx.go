package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/models"

	"github.com/dgraph-io/badger/v4"
)

// kvTx implements store.Tx on a badger update transaction.
// Every Get registers the key in the transaction's read set, so the
// share/exclusive distinction of the interface collapses into conflict
// detection at commit.
type kvTx struct {
	txn *badger.Txn
}

func (t *kvTx) getJSON(key []byte, v interface{}) error {
	item, err := t.txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (t *kvTx) setJSON(key []byte, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, val)
}

func (t *kvTx) getItem(itemID string) (*models.Item, error) {
	var item models.Item
	err := t.getJSON(itemKey(itemID), &item)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item %s: %w", itemID, err)
	}
	return &item, nil
}

// GetStock reads remaining stock
func (t *kvTx) GetStock(_ context.Context, itemID string) (int, error) {
	item, err := t.getItem(itemID)
	if err != nil {
		return 0, err
	}
	return item.RemainingStock, nil
}

// LockStock reads remaining stock; the read is validated at commit
func (t *kvTx) LockStock(ctx context.Context, itemID string) (int, error) {
	return t.GetStock(ctx, itemID)
}

// DecrementStock subtracts amount from the item's stock
func (t *kvTx) DecrementStock(_ context.Context, itemID string, amount int) (int, error) {
	item, err := t.getItem(itemID)
	if err != nil {
		return 0, err
	}
	if amount > item.RemainingStock {
		return 0, fmt.Errorf("item %s: available=%d, requested=%d: %w",
			itemID, item.RemainingStock, amount, models.ErrInsufficientStock)
	}

	item.RemainingStock -= amount
	item.UpdatedAt = time.Now().UTC()
	if err := t.setJSON(itemKey(itemID), item); err != nil {
		return 0, fmt.Errorf("failed to write item %s: %w", itemID, err)
	}
	return item.RemainingStock, nil
}

// PutItem creates or replaces an item
func (t *kvTx) PutItem(_ context.Context, item *models.Item) error {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	if err := t.setJSON(itemKey(item.ID), item); err != nil {
		return fmt.Errorf("failed to put item %s: %w", item.ID, err)
	}
	return nil
}

// GetReservation reads one reservation
func (t *kvTx) GetReservation(_ context.Context, userID, itemID string) (*models.Reservation, error) {
	var r models.Reservation
	err := t.getJSON(reservationKey(userID, itemID), &r)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("reservation %s/%s: %w", userID, itemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reservation %s/%s: %w", userID, itemID, err)
	}
	return &r, nil
}

// ListUserReservations scans the user's reservation prefix
func (t *kvTx) ListUserReservations(_ context.Context, userID string) ([]models.Reservation, error) {
	prefix := userPrefix(userID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	reservations := []models.Reservation{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var r models.Reservation
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to decode reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, nil
}

// ListItemReservations walks the item index and loads each reservation
func (t *kvTx) ListItemReservations(ctx context.Context, itemID string) ([]models.Reservation, error) {
	users := t.indexedUsers(itemID)

	reservations := make([]models.Reservation, 0, len(users))
	for _, userID := range users {
		r, err := t.GetReservation(ctx, userID, itemID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, *r)
	}
	return reservations, nil
}

func (t *kvTx) indexedUsers(itemID string) []string {
	prefix := itemIndexPrefix(itemID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var users []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		users = append(users, lastSegment(it.Item().Key()))
	}
	return users
}

// InsertReservation creates a reservation and its index entry
func (t *kvTx) InsertReservation(_ context.Context, r *models.Reservation) error {
	key := reservationKey(r.UserID, r.ItemID)
	_, err := t.txn.Get(key)
	if err == nil {
		return fmt.Errorf("reservation %s/%s: %w", r.UserID, r.ItemID, models.ErrAlreadyReserved)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to read reservation: %w", err)
	}

	if err := t.setJSON(key, r); err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return t.txn.Set(itemIndexKey(r.ItemID, r.UserID), []byte{})
}

// UpdateReservation overwrites an existing reservation
func (t *kvTx) UpdateReservation(_ context.Context, r *models.Reservation) error {
	key := reservationKey(r.UserID, r.ItemID)
	if _, err := t.txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("reservation %s/%s: %w", r.UserID, r.ItemID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to read reservation: %w", err)
	}

	if err := t.setJSON(key, r); err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return nil
}

// DeleteReservation removes a reservation and its index entry
func (t *kvTx) DeleteReservation(_ context.Context, userID, itemID string) (bool, error) {
	key := reservationKey(userID, itemID)
	if _, err := t.txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read reservation: %w", err)
	}

	if err := t.txn.Delete(key); err != nil {
		return false, fmt.Errorf("failed to delete reservation: %w", err)
	}
	if err := t.txn.Delete(itemIndexKey(itemID, userID)); err != nil {
		return false, fmt.Errorf("failed to delete reservation index: %w", err)
	}
	return true, nil
}

// DeleteUserReservations removes every reservation of a user
func (t *kvTx) DeleteUserReservations(ctx context.Context, userID string) (int, error) {
	reservations, err := t.ListUserReservations(ctx, userID)
	if err != nil {
		return 0, err
	}

	for _, r := range reservations {
		if _, err := t.DeleteReservation(ctx, r.UserID, r.ItemID); err != nil {
			return 0, err
		}
	}
	return len(reservations), nil
}

// InsertPurchase stores the purchase record with its lines embedded
func (t *kvTx) InsertPurchase(_ context.Context, p *models.Purchase) error {
	if err := t.setJSON(purchaseKey(p.ID), p); err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

// GetPurchase reads a purchase record outside of any caller transaction
func (s *Store) GetPurchase(purchaseID string) (*models.Purchase, error) {
	var p models.Purchase
	err := s.db.View(func(txn *badger.Txn) error {
		return (&kvTx{txn: txn}).getJSON(purchaseKey(purchaseID), &p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("purchase %s: %w", purchaseID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
