package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReservationManager handles a user's own cart lines. Each operation is one
// store transaction, so the stock it validates against is the stock at the
// instant of the write.
type ReservationManager struct {
	store  store.Store
	logger *zap.Logger
}

// NewReservationManager creates a new reservation manager
func NewReservationManager(st store.Store) *ReservationManager {
	return &ReservationManager{
		store:  st,
		logger: util.GetLogger(),
	}
}

// AddReservation creates a cart line with quantity 1
func (m *ReservationManager) AddReservation(ctx context.Context, userID, itemID string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.AddReservation")
	defer span.End()

	span.SetAttributes(attribute.String("user.id", userID), attribute.String("item.id", itemID))

	if err := validateKey(userID, itemID); err != nil {
		return nil, err
	}

	var created *models.Reservation
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetReservation(ctx, userID, itemID)
		if err == nil {
			return fmt.Errorf("reservation %s/%s: %w", userID, itemID, models.ErrAlreadyReserved)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		stock, err := tx.GetStock(ctx, itemID)
		if err != nil {
			return err
		}
		if stock <= 0 {
			return fmt.Errorf("item %s: %w", itemID, models.ErrOutOfStock)
		}

		now := time.Now().UTC()
		r := &models.Reservation{
			UserID:    userID,
			ItemID:    itemID,
			Quantity:  1,
			Status:    models.ReservationStatusReserved,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		m.reject(span, "add", err)
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	m.logger.Info("Reservation created",
		zap.String("user_id", userID),
		zap.String("item_id", itemID))
	return created, nil
}

// AdjustQuantity applies delta (+1 or -1) to a cart line. The result must
// stay within [1, remainingStock].
func (m *ReservationManager) AdjustQuantity(ctx context.Context, userID, itemID string, delta int) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.AdjustQuantity")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("item.id", itemID),
		attribute.Int("reservation.delta", delta),
	)

	if err := validateKey(userID, itemID); err != nil {
		return nil, err
	}
	if delta != 1 && delta != -1 {
		return nil, fmt.Errorf("delta %d: %w", delta, models.ErrInvalidArgument)
	}

	var updated *models.Reservation
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetReservation(ctx, userID, itemID)
		if err != nil {
			return err
		}
		if !r.Reserved() {
			return fmt.Errorf("reservation %s/%s is sold out: %w", userID, itemID, models.ErrOutOfStock)
		}

		stock, err := tx.GetStock(ctx, itemID)
		if err != nil {
			return err
		}

		next := r.Quantity + delta
		if next < 1 || next > stock {
			return fmt.Errorf("reservation %s/%s: quantity %d outside [1, %d]: %w",
				userID, itemID, next, stock, models.ErrQuantityOutOfRange)
		}

		r.Quantity = next
		r.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		m.reject(span, "adjust", err)
		return nil, err
	}

	direction := "increment"
	if delta < 0 {
		direction = "decrement"
	}
	util.ReservationAdjustmentsTotal.WithLabelValues(direction).Inc()
	return updated, nil
}

// Increment raises a cart line's quantity by one
func (m *ReservationManager) Increment(ctx context.Context, userID, itemID string) (*models.Reservation, error) {
	return m.AdjustQuantity(ctx, userID, itemID, 1)
}

// Decrement lowers a cart line's quantity by one
func (m *ReservationManager) Decrement(ctx context.Context, userID, itemID string) (*models.Reservation, error) {
	return m.AdjustQuantity(ctx, userID, itemID, -1)
}

// AvailableHeadroom reports whether the user's quantity can grow by one.
// A missing cart line counts as quantity 0.
func (m *ReservationManager) AvailableHeadroom(ctx context.Context, userID, itemID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.AvailableHeadroom")
	defer span.End()

	if err := validateKey(userID, itemID); err != nil {
		return false, err
	}

	var headroom bool
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		quantity := 0
		r, err := tx.GetReservation(ctx, userID, itemID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return err
		case !r.Reserved():
			headroom = false
			return nil
		default:
			quantity = r.Quantity
		}

		stock, err := tx.GetStock(ctx, itemID)
		if err != nil {
			return err
		}
		headroom = quantity < stock
		return nil
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return false, err
	}
	return headroom, nil
}

// RemoveReservation deletes one cart line. Missing lines are not an error.
func (m *ReservationManager) RemoveReservation(ctx context.Context, userID, itemID string) error {
	ctx, span := util.StartSpan(ctx, "ReservationManager.RemoveReservation")
	defer span.End()

	if err := validateKey(userID, itemID); err != nil {
		return err
	}

	var removed bool
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		removed, err = tx.DeleteReservation(ctx, userID, itemID)
		return err
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to remove reservation: %w", err)
	}

	if removed {
		util.ReservationsRemovedTotal.Inc()
	}
	return nil
}

// ClearReservations deletes every cart line of a user
func (m *ReservationManager) ClearReservations(ctx context.Context, userID string) error {
	ctx, span := util.StartSpan(ctx, "ReservationManager.ClearReservations")
	defer span.End()

	if err := validateID("user", userID); err != nil {
		return err
	}

	var n int
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.DeleteUserReservations(ctx, userID)
		return err
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to clear reservations: %w", err)
	}

	util.ReservationsRemovedTotal.Add(float64(n))
	m.logger.Info("Cart cleared", zap.String("user_id", userID), zap.Int("count", n))
	return nil
}

// ListReservations returns all cart lines of a user
func (m *ReservationManager) ListReservations(ctx context.Context, userID string) ([]models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.ListReservations")
	defer span.End()

	if err := validateID("user", userID); err != nil {
		return nil, err
	}

	var reservations []models.Reservation
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		reservations, err = tx.ListUserReservations(ctx, userID)
		return err
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return reservations, nil
}

func (m *ReservationManager) reject(span trace.Span, operation string, err error) {
	util.RecordSpanError(span, err)
	util.ReservationsRejectedTotal.WithLabelValues(operation, reasonOf(err)).Inc()
	m.logger.Debug("Reservation operation rejected",
		zap.String("operation", operation),
		zap.Error(err))
}
