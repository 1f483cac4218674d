package models

import "time"

// Item is a catalog entity with a finite countable stock
type Item struct {
	ID             string    `db:"id" json:"id"`
	RemainingStock int       `db:"remaining_stock" json:"remaining_stock"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ReservationStatus is the state of a cart line
type ReservationStatus string

// Reservation statuses
const (
	ReservationStatusReserved ReservationStatus = "RESERVED"
	ReservationStatusSoldOut  ReservationStatus = "SOLD_OUT"
)

// Reservation is a user's soft claim on some quantity of an item (a cart line).
// A user holds at most one reservation per item.
type Reservation struct {
	UserID    string            `db:"user_id" json:"user_id"`
	ItemID    string            `db:"item_id" json:"item_id"`
	Quantity  int               `db:"quantity" json:"quantity"`
	Status    ReservationStatus `db:"status" json:"status"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// Reserved reports whether the reservation can still be honored at checkout
func (r *Reservation) Reserved() bool {
	return r.Status == ReservationStatusReserved
}

// Purchase is the record a checkout folds its purchased reservations into
type Purchase struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	Lines     []PurchaseLine `db:"-" json:"lines"`
}

// PurchaseLine is one purchased item within a purchase
type PurchaseLine struct {
	PurchaseID string `db:"purchase_id" json:"purchase_id"`
	ItemID     string `db:"item_id" json:"item_id"`
	Quantity   int    `db:"quantity" json:"quantity"`
}

// ItemStatus is the per-item outcome of a checkout
type ItemStatus string

// Checkout item statuses
const (
	ItemStatusPurchased         ItemStatus = "PURCHASED"
	ItemStatusInsufficientStock ItemStatus = "INSUFFICIENT_STOCK"
)

// ItemResult reports what happened to one item of a checkout batch
type ItemResult struct {
	ItemID           string     `json:"item_id"`
	Quantity         int        `json:"quantity"`
	Status           ItemStatus `json:"status"`
	PreStock         int        `json:"pre_stock"`
	RemainingStock   int        `json:"remaining_stock"`
	Reconciled       int        `json:"reconciled"`
	PropagationError string     `json:"propagation_error,omitempty"`
}

// CheckoutBatch is the result of a checkout: one entry per reserved cart line
type CheckoutBatch struct {
	PurchaseID string       `json:"purchase_id,omitempty"`
	UserID     string       `json:"user_id"`
	Items      []ItemResult `json:"items"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Purchased returns the items that were actually bought
func (b *CheckoutBatch) Purchased() []ItemResult {
	out := make([]ItemResult, 0, len(b.Items))
	for _, item := range b.Items {
		if item.Status == ItemStatusPurchased {
			out = append(out, item)
		}
	}
	return out
}
