package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
	"ms-commerce-sync/internal/utils"
)

// Service recomputes and serves the per-day, per-channel rollups the
// dashboard reads. Refreshing upserts row by row, so readers see at worst a
// slightly stale row, never a locked table.
type Service struct {
	db  *bun.DB
	log *logger.Logger
}

func NewService(db *bun.DB, log *logger.Logger) *Service {
	return &Service{db: db, log: log}
}

type orderAgg struct {
	ChannelID     string `bun:"channel_id"`
	OrdersCount   int    `bun:"orders_count"`
	GrossTotal    int64  `bun:"gross_total"`
	NetTotal      int64  `bun:"net_total"`
	TaxTotal      int64  `bun:"tax_total"`
	DiscountTotal int64  `bun:"discount_total"`
	RefundsTotal  int64  `bun:"refunds_total"`
}

type unitsAgg struct {
	ChannelID string `bun:"channel_id"`
	UnitsSold int    `bun:"units_sold"`
}

// RefreshRange recomputes rollups for every day in [start, end] (inclusive
// dates). Idempotent: re-running over the same range rewrites the same rows.
func (s *Service) RefreshRange(ctx context.Context, start, end time.Time) (int, error) {
	refreshed := 0
	for _, window := range utils.DayWindows(start, end) {
		n, err := s.refreshDay(ctx, window)
		if err != nil {
			return refreshed, fmt.Errorf("refresh %s: %w", window.Start.Format(utils.DateLayout), err)
		}
		refreshed += n
	}

	s.log.LogDatabase("REFRESH", "daily_rollups", fmt.Sprintf("recomputed %d rollup rows", refreshed))
	return refreshed, nil
}

func (s *Service) refreshDay(ctx context.Context, window utils.Window) (int, error) {
	day := window.Start.Format(utils.DateLayout)

	var orderAggs []orderAgg
	err := s.db.NewSelect().
		Model((*models.Order)(nil)).
		ColumnExpr("channel_id").
		ColumnExpr("count(*) AS orders_count").
		ColumnExpr("COALESCE(sum(gross_total), 0) AS gross_total").
		ColumnExpr("COALESCE(sum(net_total), 0) AS net_total").
		ColumnExpr("COALESCE(sum(tax_total), 0) AS tax_total").
		ColumnExpr("COALESCE(sum(discount_total), 0) AS discount_total").
		ColumnExpr("COALESCE(sum(refunds_total), 0) AS refunds_total").
		Where("created_at >= ? AND created_at < ?", window.Start, window.End).
		GroupExpr("channel_id").
		Scan(ctx, &orderAggs)
	if err != nil {
		return 0, fmt.Errorf("aggregate orders: %w", err)
	}

	var unitAggs []unitsAgg
	err = s.db.NewRaw(`
		SELECT o.channel_id AS channel_id, COALESCE(SUM(l.qty), 0) AS units_sold
		FROM order_lines l
		JOIN orders o ON o.external_id = l.order_id
		WHERE o.created_at >= ? AND o.created_at < ?
		GROUP BY o.channel_id
	`, window.Start, window.End).Scan(ctx, &unitAggs)
	if err != nil {
		return 0, fmt.Errorf("aggregate units: %w", err)
	}
	unitsByChannel := make(map[string]int, len(unitAggs))
	for _, u := range unitAggs {
		unitsByChannel[u.ChannelID] = u.UnitsSold
	}

	rows := make([]models.DailyRollup, 0, len(orderAggs)+1)
	now := time.Now().UTC()
	for _, agg := range orderAggs {
		rows = append(rows, models.DailyRollup{
			Day:           day,
			ChannelID:     agg.ChannelID,
			OrdersCount:   agg.OrdersCount,
			UnitsSold:     unitsByChannel[agg.ChannelID],
			GrossTotal:    money.Amount(agg.GrossTotal),
			NetTotal:      money.Amount(agg.NetTotal),
			TaxTotal:      money.Amount(agg.TaxTotal),
			DiscountTotal: money.Amount(agg.DiscountTotal),
			RefundsTotal:  money.Amount(agg.RefundsTotal),
			UpdatedAt:     now,
		})
	}

	// Booking events roll up into their own channel row.
	var eventCount int
	var eventRevenue int64
	err = s.db.NewSelect().
		Model((*models.Event)(nil)).
		ColumnExpr("count(*) AS count").
		ColumnExpr("COALESCE(sum(revenue + add_on_sales), 0) AS revenue").
		Where("starts_at >= ? AND starts_at < ?", window.Start, window.End).
		Scan(ctx, &eventCount, &eventRevenue)
	if err != nil {
		return 0, fmt.Errorf("aggregate events: %w", err)
	}
	if eventCount > 0 {
		rows = append(rows, models.DailyRollup{
			Day:          day,
			ChannelID:    models.ChannelBooking,
			OrdersCount:  eventCount,
			EventRevenue: money.Amount(eventRevenue),
			NetTotal:     money.Amount(eventRevenue),
			GrossTotal:   money.Amount(eventRevenue),
			UpdatedAt:    now,
		})
	}

	for i := range rows {
		_, err := s.db.NewInsert().
			Model(&rows[i]).
			On("CONFLICT (day, channel_id) DO UPDATE").
			Set("orders_count = EXCLUDED.orders_count").
			Set("units_sold = EXCLUDED.units_sold").
			Set("gross_total = EXCLUDED.gross_total").
			Set("net_total = EXCLUDED.net_total").
			Set("tax_total = EXCLUDED.tax_total").
			Set("discount_total = EXCLUDED.discount_total").
			Set("refunds_total = EXCLUDED.refunds_total").
			Set("event_revenue = EXCLUDED.event_revenue").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("upsert rollup %s/%s: %w", rows[i].Day, rows[i].ChannelID, err)
		}
	}

	return len(rows), nil
}
