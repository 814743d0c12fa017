package analytics

import (
	"context"
	"time"

	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
	"ms-commerce-sync/internal/utils"
)

// RangeTotals aggregates rollups across a date range.
type RangeTotals struct {
	OrdersCount  int          `json:"orders_count" bun:"orders_count"`
	UnitsSold    int          `json:"units_sold" bun:"units_sold"`
	GrossTotal   money.Amount `json:"gross_total" bun:"gross_total"`
	NetTotal     money.Amount `json:"net_total" bun:"net_total"`
	RefundsTotal money.Amount `json:"refunds_total" bun:"refunds_total"`
	EventRevenue money.Amount `json:"event_revenue" bun:"event_revenue"`
}

// ChannelTotals is one channel's share of a range.
type ChannelTotals struct {
	ChannelID string `json:"channel_id" bun:"channel_id"`
	RangeTotals
}

// TopProduct is one ranked line-item aggregate.
type TopProduct struct {
	SKU          string       `json:"sku" bun:"sku"`
	ProductTitle string       `json:"product_title" bun:"product_title"`
	Category     string       `json:"category" bun:"category"`
	UnitsSold    int          `json:"units_sold" bun:"units_sold"`
	Revenue      money.Amount `json:"revenue" bun:"revenue"`
}

const rollupSums = `
	COALESCE(sum(orders_count), 0) AS orders_count,
	COALESCE(sum(units_sold), 0) AS units_sold,
	COALESCE(sum(gross_total), 0) AS gross_total,
	COALESCE(sum(net_total), 0) AS net_total,
	COALESCE(sum(refunds_total), 0) AS refunds_total,
	COALESCE(sum(event_revenue), 0) AS event_revenue`

// GetRangeTotals sums the rollups between two inclusive dates.
func (s *Service) GetRangeTotals(ctx context.Context, start, end time.Time) (*RangeTotals, error) {
	var totals RangeTotals
	err := s.db.NewSelect().
		Model((*models.DailyRollup)(nil)).
		ColumnExpr(rollupSums).
		Where("day >= ? AND day <= ?", start.Format(utils.DateLayout), end.Format(utils.DateLayout)).
		Scan(ctx, &totals)
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// GetChannelBreakdown splits a range's totals per channel.
func (s *Service) GetChannelBreakdown(ctx context.Context, start, end time.Time) ([]ChannelTotals, error) {
	var breakdown []ChannelTotals
	err := s.db.NewSelect().
		Model((*models.DailyRollup)(nil)).
		ColumnExpr("channel_id, "+rollupSums).
		Where("day >= ? AND day <= ?", start.Format(utils.DateLayout), end.Format(utils.DateLayout)).
		GroupExpr("channel_id").
		OrderExpr("channel_id").
		Scan(ctx, &breakdown)
	if err != nil {
		return nil, err
	}
	return breakdown, nil
}

// GetDailyTrend returns the per-day rollup series for a range, ascending.
func (s *Service) GetDailyTrend(ctx context.Context, start, end time.Time) ([]models.DailyRollup, error) {
	var rows []models.DailyRollup
	err := s.db.NewSelect().
		Model(&rows).
		Where("day >= ? AND day <= ?", start.Format(utils.DateLayout), end.Format(utils.DateLayout)).
		Order("day", "channel_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetTopProducts ranks line items by revenue over a range. This reads the
// fact tables directly: product granularity is not kept in the rollups.
func (s *Service) GetTopProducts(ctx context.Context, start, end time.Time, limit int) ([]TopProduct, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var products []TopProduct
	err := s.db.NewRaw(`
		SELECT l.sku AS sku, l.product_title AS product_title, l.category AS category,
		       COALESCE(SUM(l.qty), 0) AS units_sold,
		       COALESCE(SUM(l.line_total), 0) AS revenue
		FROM order_lines l
		JOIN orders o ON o.external_id = l.order_id
		WHERE o.created_at >= ? AND o.created_at < ?
		GROUP BY l.sku, l.product_title, l.category
		ORDER BY revenue DESC
		LIMIT ?
	`, start, end.Add(24*time.Hour), limit).Scan(ctx, &products)
	if err != nil {
		return nil, err
	}
	return products, nil
}
