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
	"go.uber.org/zap"
)

// StockLedger is the source of truth for how much of an item really exists.
// decrement is the only consumption path; the reconciler calls it inside its
// own transaction.
type StockLedger struct {
	store  store.Store
	logger *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger(st store.Store) *StockLedger {
	return &StockLedger{
		store:  st,
		logger: util.GetLogger(),
	}
}

// Get returns the remaining stock of an item
func (l *StockLedger) Get(ctx context.Context, itemID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Get")
	defer span.End()

	if err := validateID("item", itemID); err != nil {
		return 0, err
	}

	var remaining int
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		remaining, err = tx.GetStock(ctx, itemID)
		return err
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return 0, err
	}
	return remaining, nil
}

// Decrement subtracts amount from the item's stock and returns what is left
func (l *StockLedger) Decrement(ctx context.Context, itemID string, amount int) (int, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Decrement")
	defer span.End()

	if err := validateID("item", itemID); err != nil {
		return 0, err
	}

	var remaining int
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		_, remaining, err = l.decrement(ctx, tx, itemID, amount)
		return err
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return 0, err
	}
	return remaining, nil
}

// decrement snapshots the stock under an exclusive hold and subtracts amount.
// It returns the stock before and after the decrement.
func (l *StockLedger) decrement(ctx context.Context, tx store.Tx, itemID string, amount int) (int, int, error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("decrement amount %d: %w", amount, models.ErrInvalidArgument)
	}

	preStock, err := tx.LockStock(ctx, itemID)
	if err != nil {
		return 0, 0, err
	}
	if amount > preStock {
		util.StockDecrementsTotal.WithLabelValues("insufficient_stock").Inc()
		return preStock, preStock, fmt.Errorf("item %s: available=%d, requested=%d: %w",
			itemID, preStock, amount, models.ErrInsufficientStock)
	}

	remaining, err := tx.DecrementStock(ctx, itemID, amount)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientStock) {
			util.StockDecrementsTotal.WithLabelValues("insufficient_stock").Inc()
		}
		return preStock, preStock, err
	}

	util.StockDecrementsTotal.WithLabelValues("ok").Inc()
	return preStock, remaining, nil
}

// Register creates an item or sets its stock. It is the hook for the catalog
// and restock collaborators; SOLD_OUT reservations are left as they are.
func (l *StockLedger) Register(ctx context.Context, itemID string, stock int) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.Register")
	defer span.End()

	span.SetAttributes(attribute.String("item.id", itemID), attribute.Int("item.stock", stock))

	if err := validateID("item", itemID); err != nil {
		return err
	}
	if stock < 0 {
		return fmt.Errorf("stock %d for item %s: %w", stock, itemID, models.ErrInvalidArgument)
	}

	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutItem(ctx, &models.Item{
			ID:             itemID,
			RemainingStock: stock,
			UpdatedAt:      time.Now().UTC(),
		})
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to register item %s: %w", itemID, err)
	}

	l.logger.Info("Item registered", zap.String("item_id", itemID), zap.Int("stock", stock))
	return nil
}
