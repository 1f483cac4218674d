package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// applyShortfall caps a reservation at the stock left after a purchase.
// It only ever lowers a quantity, so applying the same remaining value
// twice, or two values in either order, ends in the same state.
func applyShortfall(r models.Reservation, remaining int) (models.Reservation, bool) {
	if !r.Reserved() {
		return r, false
	}

	switch {
	case remaining <= 0:
		r.Status = models.ReservationStatusSoldOut
		return r, true
	case remaining < r.Quantity:
		r.Quantity = remaining
		return r, true
	default:
		return r, false
	}
}

// Propagate clamps every other user's reservation on the event's item to the
// stock left after the purchase. It returns how many reservations changed.
//
// An event whose remaining stock is lower than the current stock was
// overtaken by a restock and is skipped.
func (r *Reconciler) Propagate(ctx context.Context, event *models.ItemPurchasedEvent) (int, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Propagate")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PropagationLatency.Observe(time.Since(start).Seconds())
	}()

	if event == nil {
		return 0, fmt.Errorf("nil purchase event: %w", models.ErrInvalidArgument)
	}
	if err := validateKey(event.UserID, event.ItemID); err != nil {
		return 0, err
	}
	if event.Quantity <= 0 || event.Quantity > event.PreStock {
		return 0, fmt.Errorf("purchase of %d from stock %d: %w",
			event.Quantity, event.PreStock, models.ErrInvalidArgument)
	}

	remaining := event.PreStock - event.Quantity
	span.SetAttributes(
		attribute.String("item.id", event.ItemID),
		attribute.String("purchase.id", event.PurchaseID),
		attribute.Int("item.remaining", remaining),
	)

	var (
		current int
		others  []models.Reservation
	)
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		current, err = tx.GetStock(ctx, event.ItemID)
		if err != nil {
			return err
		}
		if current > remaining {
			return nil
		}

		lines, err := tx.ListItemReservations(ctx, event.ItemID)
		if err != nil {
			return err
		}
		others = others[:0]
		for _, line := range lines {
			if line.UserID != event.UserID && line.Reserved() {
				others = append(others, line)
			}
		}
		return nil
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return 0, fmt.Errorf("failed to load reservations for item %s: %w", event.ItemID, err)
	}
	if current > remaining {
		r.logger.Info("Skipping purchase event overtaken by restock",
			zap.String("purchase_id", event.PurchaseID),
			zap.String("item_id", event.ItemID),
			zap.Int("remaining", remaining),
			zap.Int("current_stock", current))
		return 0, nil
	}

	var changed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, line := range others {
		userID := line.UserID
		g.Go(func() error {
			action, err := r.clampOne(gctx, userID, event.ItemID, remaining)
			if err != nil {
				return err
			}
			if action != "" {
				changed.Add(1)
				util.PropagationUpdatesTotal.WithLabelValues(action).Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		util.RecordSpanError(span, err)
		return int(changed.Load()), fmt.Errorf("propagation for item %s incomplete: %w", event.ItemID, err)
	}

	n := int(changed.Load())
	span.SetAttributes(attribute.Int("propagation.changed", n))
	if n > 0 {
		r.logger.Info("Propagated purchase",
			zap.String("purchase_id", event.PurchaseID),
			zap.String("item_id", event.ItemID),
			zap.Int("remaining", remaining),
			zap.Int("changed", n))
	}
	return n, nil
}

// clampOne applies the shortfall to a single reservation in its own
// transaction. It returns the metric action, or "" if nothing changed.
func (r *Reconciler) clampOne(ctx context.Context, userID, itemID string, remaining int) (string, error) {
	var action string
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		action = ""

		line, err := tx.GetReservation(ctx, userID, itemID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		next, changed := applyShortfall(*line, remaining)
		if !changed {
			return nil
		}
		next.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateReservation(ctx, &next); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return err
		}

		action = "clamped"
		if next.Status == models.ReservationStatusSoldOut {
			action = "sold_out"
		}
		return nil
	})
	return action, err
}
