package models

import "time"

// Event types
const (
	EventTypeItemPurchased     = "ITEM_PURCHASED"
	EventTypeCheckoutCompleted = "CHECKOUT_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemPurchasedEvent published once per purchased item. It carries the
// (preStock, quantity) pair the propagation pass is computed from, so
// consumers can re-apply it any number of times.
type ItemPurchasedEvent struct {
	BaseEvent
	PurchaseID string `json:"purchase_id"`
	UserID     string `json:"user_id"`
	ItemID     string `json:"item_id"`
	PreStock   int    `json:"pre_stock"`
	Quantity   int    `json:"quantity"`
	Remaining  int    `json:"remaining"`
}

// CheckoutCompletedEvent published after a checkout bought at least one item
type CheckoutCompletedEvent struct {
	BaseEvent
	PurchaseID string              `json:"purchase_id"`
	UserID     string              `json:"user_id"`
	Items      []PurchasedItemData `json:"items"`
}

// PurchasedItemData represents item data in events
type PurchasedItemData struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}
