package models

import (
	"time"

	"github.com/uptrace/bun"

	"ms-commerce-sync/internal/money"
)

// Event is one booking/experience occurrence. It is upserted like an order
// but carries no child line collection; cancellation and completion arrive as
// attribute updates (zeroed revenue, flags inside raw), never row deletion.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ExternalID   string         `bun:"external_id,pk" json:"external_id"`
	EventType    string         `bun:"event_type,notnull" json:"event_type"`
	StartsAt     time.Time      `bun:"starts_at,notnull" json:"starts_at"`
	EndsAt       *time.Time     `bun:"ends_at,nullzero" json:"ends_at,omitempty"`
	Attendees    int            `bun:"attendees" json:"attendees"`
	Revenue      money.Amount   `bun:"revenue" json:"revenue"`
	AddOnSales   money.Amount   `bun:"add_on_sales" json:"add_on_sales"`
	CustomerHash string         `bun:"customer_hash,nullzero" json:"customer_hash,omitempty"`
	UpdatedAt    time.Time      `bun:"updated_at,notnull" json:"updated_at"`
	Raw          map[string]any `bun:"raw,type:jsonb" json:"raw,omitempty"`
}
