package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
)

// ErrNotFound is returned by read-back queries when no row matches.
var ErrNotFound = errors.New("warehouse: not found")

// DB wraps the bun handle for the fact tables (orders, order_lines, events,
// customer_identities). All writes are idempotent upserts keyed by the
// deterministic external id.
type DB struct {
	Bun *bun.DB
}

func NewDB(b *bun.DB) *DB {
	return &DB{Bun: b}
}

// UpsertOrder writes an order and fully replaces its line set in one
// transaction. Re-ingesting the same payload leaves exactly one order row and
// one copy of each line; a shrunk line set deletes the stale lines.
func (d *DB) UpsertOrder(ctx context.Context, order *models.Order, lines []models.OrderLine) error {
	order.Normalize()

	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(order).
			On("CONFLICT (external_id) DO UPDATE").
			Set("channel_id = EXCLUDED.channel_id").
			Set("location_id = EXCLUDED.location_id").
			Set("created_at = EXCLUDED.created_at").
			Set("updated_at = EXCLUDED.updated_at").
			Set("customer_hash = COALESCE(EXCLUDED.customer_hash, \"order\".customer_hash)").
			Set("gross_total = EXCLUDED.gross_total").
			Set("net_total = EXCLUDED.net_total").
			Set("tax_total = EXCLUDED.tax_total").
			Set("discount_total = EXCLUDED.discount_total").
			Set("refunds_total = EXCLUDED.refunds_total").
			Set("tenders = EXCLUDED.tenders").
			Set("raw = EXCLUDED.raw").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert order %s: %w", order.ExternalID, err)
		}

		_, err = tx.NewDelete().
			Model((*models.OrderLine)(nil)).
			Where("order_id = ?", order.ExternalID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("clear lines for %s: %w", order.ExternalID, err)
		}

		if len(lines) > 0 {
			_, err = tx.NewInsert().Model(&lines).Exec(ctx)
			if err != nil {
				return fmt.Errorf("insert lines for %s: %w", order.ExternalID, err)
			}
		}

		return nil
	})
}

// UpsertEvent writes a booking/experience fact. The stored raw JSON is merged
// with the incoming raw: keys are added or updated, never dropped, so a
// cancellation update keeps the original booking attributes.
func (d *DB) UpsertEvent(ctx context.Context, event *models.Event) error {
	var existing models.Event
	err := d.Bun.NewSelect().
		Model(&existing).
		Where("external_id = ?", event.ExternalID).
		Limit(1).
		Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first sighting
	case err != nil:
		return fmt.Errorf("read event %s: %w", event.ExternalID, err)
	default:
		merged := make(map[string]any, len(existing.Raw)+len(event.Raw))
		for k, v := range existing.Raw {
			merged[k] = v
		}
		for k, v := range event.Raw {
			merged[k] = v
		}
		event.Raw = merged
		if event.CustomerHash == "" {
			event.CustomerHash = existing.CustomerHash
		}
	}

	_, err = d.Bun.NewInsert().
		Model(event).
		On("CONFLICT (external_id) DO UPDATE").
		Set("event_type = EXCLUDED.event_type").
		Set("starts_at = EXCLUDED.starts_at").
		Set("ends_at = EXCLUDED.ends_at").
		Set("attendees = EXCLUDED.attendees").
		Set("revenue = EXCLUDED.revenue").
		Set("add_on_sales = EXCLUDED.add_on_sales").
		Set("customer_hash = COALESCE(EXCLUDED.customer_hash, event.customer_hash)").
		Set("updated_at = EXCLUDED.updated_at").
		Set("raw = EXCLUDED.raw").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", event.ExternalID, err)
	}
	return nil
}

// UpsertCustomerIdentity records a channel-native customer id under the keyed
// hash. Each channel writes only its own column and never overwrites a set
// value with null, so merges from different channels commute.
func (d *DB) UpsertCustomerIdentity(ctx context.Context, hash, channel, nativeID string) error {
	if hash == "" || nativeID == "" {
		return nil
	}
	column, ok := models.IdentityColumn(channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}

	row := &models.CustomerIdentity{
		CustomerHash: hash,
		UpdatedAt:    time.Now().UTC(),
	}
	switch column {
	case "storefront_id":
		row.StorefrontID = nativeID
	case "pos_id":
		row.PosID = nativeID
	case "booking_id":
		row.BookingID = nativeID
	}

	_, err := d.Bun.NewInsert().
		Model(row).
		On("CONFLICT (customer_hash) DO UPDATE").
		Set(fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, customer_identity.%s)", column, column, column)).
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", hash, err)
	}
	return nil
}

// GetOrderWithLines reads an order and its line set back.
func (d *DB) GetOrderWithLines(ctx context.Context, externalID string) (*models.OrderWithLines, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var lines []models.OrderLine
	err = d.Bun.NewSelect().
		Model(&lines).
		Where("order_id = ?", externalID).
		Order("external_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return &models.OrderWithLines{Order: order, Lines: lines}, nil
}

// GetEvent reads one event row back.
func (d *DB) GetEvent(ctx context.Context, externalID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetCustomerIdentity reads one bridge row back.
func (d *DB) GetCustomerIdentity(ctx context.Context, hash string) (*models.CustomerIdentity, error) {
	var identity models.CustomerIdentity
	err := d.Bun.NewSelect().
		Model(&identity).
		Where("customer_hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// WindowTotals is the warehouse side of a reconciliation comparison.
type WindowTotals struct {
	Count      int          `json:"count"`
	NetRevenue money.Amount `json:"net_revenue"`
}

// TotalsByWindow aggregates the warehouse facts for one channel over a time
// window. Orders report net revenue; booking events report revenue plus
// add-on sales.
func (d *DB) TotalsByWindow(ctx context.Context, channel string, start, end time.Time) (WindowTotals, error) {
	var totals WindowTotals

	if channel == models.ChannelBooking {
		err := d.Bun.NewSelect().
			Model((*models.Event)(nil)).
			ColumnExpr("count(*) AS count").
			ColumnExpr("COALESCE(sum(revenue + add_on_sales), 0) AS net_revenue").
			Where("starts_at >= ? AND starts_at < ?", start, end).
			Scan(ctx, &totals.Count, &totals.NetRevenue)
		return totals, err
	}

	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		ColumnExpr("count(*) AS count").
		ColumnExpr("COALESCE(sum(net_total), 0) AS net_revenue").
		Where("channel_id = ?", channel).
		Where("created_at >= ? AND created_at < ?", start, end).
		Scan(ctx, &totals.Count, &totals.NetRevenue)
	return totals, err
}

// ListOrderIDsByWindow returns the external ids the warehouse holds for a
// channel window, for mismatch diff reporting.
func (d *DB) ListOrderIDsByWindow(ctx context.Context, channel string, start, end time.Time) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("external_id").
		Where("channel_id = ?", channel).
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("external_id").
		Scan(ctx, &ids)
	return ids, err
}

// IntegrityReport is produced by the independent structural checks. Any
// non-zero field is critical, never a soft mismatch.
type IntegrityReport struct {
	OrphanLines   int `json:"orphan_lines"`
	NetMismatches int `json:"net_mismatches"`
	BadQuantities int `json:"bad_quantities"`
	DuplicateIDs  int `json:"duplicate_ids"`
}

func (r IntegrityReport) Clean() bool {
	return r.OrphanLines == 0 && r.NetMismatches == 0 && r.BadQuantities == 0 && r.DuplicateIDs == 0
}

// CheckIntegrity runs the structural invariant queries: lines pointing at no
// order, orders whose net drifted from gross minus refunds, non-positive
// line quantities, and external ids that are not unique across the fact
// tables. The per-table primary keys make intra-table duplicates vacuous, but
// the same id landing in both orders and events is a real normalization bug.
func (d *DB) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport

	orphans, err := d.Bun.NewSelect().
		Model((*models.OrderLine)(nil)).
		Where("order_id NOT IN (SELECT external_id FROM orders)").
		Count(ctx)
	if err != nil {
		return report, fmt.Errorf("orphan line check: %w", err)
	}
	report.OrphanLines = orphans

	netDrift, err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Where("net_total != gross_total - refunds_total").
		Count(ctx)
	if err != nil {
		return report, fmt.Errorf("net invariant check: %w", err)
	}
	report.NetMismatches = netDrift

	badQty, err := d.Bun.NewSelect().
		Model((*models.OrderLine)(nil)).
		Where("qty <= 0").
		Count(ctx)
	if err != nil {
		return report, fmt.Errorf("quantity check: %w", err)
	}
	report.BadQuantities = badQty

	var duplicates int
	err = d.Bun.NewRaw(`
		SELECT COALESCE(COUNT(*), 0) FROM (
			SELECT external_id FROM (
				SELECT external_id FROM orders
				UNION ALL
				SELECT external_id FROM events
			) ids
			GROUP BY external_id
			HAVING COUNT(*) > 1
		) dups
	`).Scan(ctx, &duplicates)
	if err != nil {
		return report, fmt.Errorf("duplicate id check: %w", err)
	}
	report.DuplicateIDs = duplicates

	return report, nil
}

// UpdateOrderPaymentState reapplies reconciled payment totals onto a stored
// order: refunds from settled refund payments, net re-derived, tender list
// merged with payment-derived tenders (matched by payment id ref).
func (d *DB) UpdateOrderPaymentState(ctx context.Context, externalID string, refunded money.Amount, paymentTenders []models.Tender) error {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	order.RefundsTotal = refunded
	order.Normalize()

	// Replace payment-derived tenders; tenders from the order payload itself
	// (no payment ref) stay untouched.
	kept := order.Tenders[:0]
	refs := make(map[string]bool, len(paymentTenders))
	for _, t := range paymentTenders {
		refs[t.Ref] = true
	}
	for _, t := range order.Tenders {
		if t.Ref == "" || !refs[t.Ref] {
			kept = append(kept, t)
		}
	}
	order.Tenders = append(kept, paymentTenders...)
	order.UpdatedAt = time.Now().UTC()

	_, err = d.Bun.NewUpdate().
		Model(&order).
		Column("refunds_total", "net_total", "tenders", "updated_at").
		Where("external_id = ?", externalID).
		Exec(ctx)
	return err
}
