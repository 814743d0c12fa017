package models

import (
	"time"

	"github.com/uptrace/bun"

	"ms-commerce-sync/internal/money"
)

// DailyRollup is the precomputed per-day, per-channel aggregate consumed by
// the dashboard read path. Refreshing recomputes rows in place; readers are
// never blocked by a full-table rebuild.
type DailyRollup struct {
	bun.BaseModel `bun:"table:daily_rollups"`

	Day           string       `bun:"day,pk" json:"day"` // 2006-01-02
	ChannelID     string       `bun:"channel_id,pk" json:"channel_id"`
	OrdersCount   int          `bun:"orders_count" json:"orders_count"`
	UnitsSold     int          `bun:"units_sold" json:"units_sold"`
	GrossTotal    money.Amount `bun:"gross_total" json:"gross_total"`
	NetTotal      money.Amount `bun:"net_total" json:"net_total"`
	TaxTotal      money.Amount `bun:"tax_total" json:"tax_total"`
	DiscountTotal money.Amount `bun:"discount_total" json:"discount_total"`
	RefundsTotal  money.Amount `bun:"refunds_total" json:"refunds_total"`
	EventRevenue  money.Amount `bun:"event_revenue" json:"event_revenue"`
	UpdatedAt     time.Time    `bun:"updated_at,notnull" json:"updated_at"`
}
