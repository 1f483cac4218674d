package worker

import (
	"context"

	"reservation-service/internal/broker"
	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// PropagationWorker replays ItemPurchased events through the propagation
// pass. Checkout already propagates synchronously; the worker repairs carts
// whose pass failed or was interrupted.
type PropagationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPropagationWorker creates a new propagation worker
func NewPropagationWorker(consumer *broker.Consumer, reconciler *service.Reconciler) *PropagationWorker {
	w := &PropagationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnItemPurchased(reconciler.HandleItemPurchased)
	w.eventHandler.OnCheckoutCompleted(w.handleCheckoutCompleted)
	return w
}

// Start starts the worker
func (w *PropagationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting propagation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PropagationWorker) Stop() error {
	w.logger.Info("Stopping propagation worker")
	return w.consumer.Close()
}

// handleCheckoutCompleted is the notification hook. Delivery itself belongs
// to the notification service.
func (w *PropagationWorker) handleCheckoutCompleted(_ context.Context, event *models.CheckoutCompletedEvent) error {
	w.logger.Info("Checkout completed",
		zap.String("purchase_id", event.PurchaseID),
		zap.String("user_id", event.UserID),
		zap.Int("items", len(event.Items)))
	return nil
}
