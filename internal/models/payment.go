package models

import (
	"time"

	"ms-commerce-sync/internal/money"
)

// PaymentStatus values reported by the point-of-sale source. Only completed
// payments contribute to monetary aggregates; pending and failed records are
// tracked but excluded.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment kinds.
const (
	PaymentKindCharge = "charge"
	PaymentKindRefund = "refund"
)

// PaymentRecord is an asynchronously-arriving payment/fee/refund fact keyed
// to an order by its external id. Fees may settle 24-48 hours after the
// order, so the same window is re-reconciled later.
type PaymentRecord struct {
	PaymentID string        `json:"payment_id"`
	OrderRef  string        `json:"order_ref"` // order external id
	Source    string        `json:"source"`
	Status    PaymentStatus `json:"status"`
	Kind      string        `json:"kind"`
	Amount    money.Amount  `json:"amount"`
	Fee       money.Amount  `json:"fee"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at,omitempty"`
}
