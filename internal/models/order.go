package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-commerce-sync/internal/money"
)

// Channel identifiers used in external ids and channel_id columns.
const (
	ChannelStorefront = "storefront"
	ChannelPOS        = "pos"
	ChannelBooking    = "booking"
)

// ExternalID derives the deterministic idempotency key for a native record.
// Same (channel, nativeType, nativeID) always yields the same value.
func ExternalID(channel, nativeType, nativeID string) string {
	return fmt.Sprintf("%s_%s_%s", channel, nativeType, nativeID)
}

// Tender is one payment attempt attached to an order.
type Tender struct {
	Kind   string       `json:"kind"` // card, cash, gift_card, ...
	Status string       `json:"status"`
	Amount money.Amount `json:"amount"`
	Ref    string       `json:"ref,omitempty"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ExternalID    string         `bun:"external_id,pk" json:"external_id"`
	ChannelID     string         `bun:"channel_id,notnull" json:"channel_id"`
	LocationID    string         `bun:"location_id,nullzero" json:"location_id,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull" json:"updated_at"`
	CustomerHash  string         `bun:"customer_hash,nullzero" json:"customer_hash,omitempty"`
	GrossTotal    money.Amount   `bun:"gross_total" json:"gross_total"`
	NetTotal      money.Amount   `bun:"net_total" json:"net_total"`
	TaxTotal      money.Amount   `bun:"tax_total" json:"tax_total"`
	DiscountTotal money.Amount   `bun:"discount_total" json:"discount_total"`
	RefundsTotal  money.Amount   `bun:"refunds_total" json:"refunds_total"`
	Tenders       []Tender       `bun:"tenders,type:jsonb" json:"tenders,omitempty"`
	Raw           map[string]any `bun:"raw,type:jsonb" json:"raw,omitempty"`
}

// Normalize re-derives the net total. net == gross - refunds must hold after
// every update, so the persistence layer calls this before any write.
func (o *Order) Normalize() {
	o.NetTotal = o.GrossTotal - o.RefundsTotal
}

type OrderLine struct {
	bun.BaseModel `bun:"table:order_lines"`

	ExternalID   string       `bun:"external_id,pk" json:"external_id"`
	OrderID      string       `bun:"order_id,notnull" json:"order_id"`
	SKU          string       `bun:"sku,nullzero" json:"sku,omitempty"`
	ProductTitle string       `bun:"product_title,notnull" json:"product_title"`
	Category     string       `bun:"category,nullzero" json:"category,omitempty"`
	Qty          int          `bun:"qty,notnull" json:"qty"`
	LineTotal    money.Amount `bun:"line_total" json:"line_total"`
}

// OrderWithLines is the read-back shape used by handlers and tests.
type OrderWithLines struct {
	Order Order       `json:"order"`
	Lines []OrderLine `json:"lines"`
}
