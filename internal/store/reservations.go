package store

import (
	"context"
	"database/sql"
	"fmt"

	"reservation-service/internal/models"
)

// GetReservation retrieves a reservation and locks its row
func (t *pgTx) GetReservation(ctx context.Context, userID, itemID string) (*models.Reservation, error) {
	var r models.Reservation
	err := t.tx.GetContext(ctx, &r,
		"SELECT * FROM reservations WHERE user_id = $1 AND item_id = $2 FOR UPDATE",
		userID, itemID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %s/%s: %w", userID, itemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &r, nil
}

// ListUserReservations retrieves all reservations for a user
func (t *pgTx) ListUserReservations(ctx context.Context, userID string) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	err := t.tx.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE user_id = $1 ORDER BY item_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations for user %s: %w", userID, err)
	}
	return reservations, nil
}

// ListItemReservations retrieves all reservations on an item
func (t *pgTx) ListItemReservations(ctx context.Context, itemID string) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	err := t.tx.SelectContext(ctx, &reservations,
		"SELECT * FROM reservations WHERE item_id = $1 ORDER BY user_id", itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations for item %s: %w", itemID, err)
	}
	return reservations, nil
}

// InsertReservation creates a new reservation
func (t *pgTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (user_id, item_id, quantity, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, item_id) DO NOTHING`,
		r.UserID, r.ItemID, r.Quantity, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reservation %s/%s: %w", r.UserID, r.ItemID, models.ErrAlreadyReserved)
	}
	return nil
}

// UpdateReservation writes quantity and status of an existing reservation
func (t *pgTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE reservations SET quantity = $1, status = $2, updated_at = $3 WHERE user_id = $4 AND item_id = $5",
		r.Quantity, r.Status, r.UpdatedAt, r.UserID, r.ItemID)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reservation %s/%s: %w", r.UserID, r.ItemID, models.ErrNotFound)
	}
	return nil
}

// DeleteReservation removes one reservation
func (t *pgTx) DeleteReservation(ctx context.Context, userID, itemID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM reservations WHERE user_id = $1 AND item_id = $2", userID, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to delete reservation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteUserReservations removes every reservation of a user
func (t *pgTx) DeleteUserReservations(ctx context.Context, userID string) (int, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM reservations WHERE user_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear reservations: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
