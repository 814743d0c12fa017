package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-commerce-sync/internal/adapter"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/kafka"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
	"ms-commerce-sync/internal/warehouse"
)

type fixtureOrder struct {
	ID  string       `json:"id"`
	Net money.Amount `json:"net"`
	Day string       `json:"day"`
}

// fixtureAdapter serves a fixed order list filtered by the requested window.
type fixtureAdapter struct {
	source string
	orders []fixtureOrder
	err    error
}

func (f *fixtureAdapter) Source() string { return f.source }

func (f *fixtureAdapter) FetchByDateRange(_ context.Context, start, end time.Time, _ string) ([]json.RawMessage, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	var raws []json.RawMessage
	for _, o := range f.orders {
		day, _ := time.Parse("2006-01-02", o.Day)
		if !day.Before(start) && day.Before(end) {
			b, _ := json.Marshal(o)
			raws = append(raws, b)
		}
	}
	return raws, "", nil
}

func (f *fixtureAdapter) VerifyWebhookSignature(*http.Request, []byte) bool { return true }

func (f *fixtureAdapter) Normalize(raw json.RawMessage) (*models.Record, error) {
	var o fixtureOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	day, _ := time.Parse("2006-01-02", o.Day)
	return &models.Record{
		Kind: models.KindOrder,
		Order: &models.Order{
			ExternalID: models.ExternalID(f.source, "order", o.ID),
			ChannelID:  f.source,
			CreatedAt:  day.Add(12 * time.Hour),
			UpdatedAt:  day.Add(12 * time.Hour),
			GrossTotal: o.Net,
		},
	}, nil
}

type fixtures struct {
	engine    *Engine
	warehouse *warehouse.DB
	producer  *kafka.MockProducer
	adapter   *fixtureAdapter
}

func setup(t *testing.T) *fixtures {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Order)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.OrderLine)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Event)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.IngestAudit)(nil)))

	wh := warehouse.NewDB(bunDB)
	src := &fixtureAdapter{source: models.ChannelPOS}
	producer := kafka.NewMockProducer(nil)
	engine := NewEngine(
		map[string]adapter.Adapter{src.source: src},
		wh,
		producer,
		audit.NewStore(bunDB),
		logger.NewSilent(),
	)

	return &fixtures{engine: engine, warehouse: wh, producer: producer, adapter: src}
}

// seed puts n of the adapter's orders into the warehouse.
func (f *fixtures) seed(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	for _, o := range f.adapter.orders[:n] {
		rec, err := f.adapter.Normalize(mustJSON(t, o))
		require.NoError(t, err)
		require.NoError(t, f.warehouse.UpsertOrder(ctx, rec.Order, nil))
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func tenOrders(day string) []fixtureOrder {
	orders := make([]fixtureOrder, 10)
	for i := range orders {
		orders[i] = fixtureOrder{
			ID:  fmt.Sprintf("o%02d", i),
			Net: money.MustParse("10.00"),
			Day: day,
		}
	}
	return orders
}

func TestReconcileDetectsMissingOrder(t *testing.T) {
	f := setup(t)
	f.adapter.orders = tenOrders("2026-08-01")
	f.seed(t, 9) // the tenth order never arrived

	start, _ := time.Parse("2006-01-02", "2026-08-01")
	report, err := f.engine.Reconcile(context.Background(), models.ChannelPOS, start, start, false)
	require.NoError(t, err)

	require.Len(t, report.Windows, 1)
	w := report.Windows[0]
	assert.Equal(t, StatusMismatch, w.Status)
	assert.Equal(t, 10, w.SourceCount)
	assert.Equal(t, 9, w.WarehouseCount)
	assert.Equal(t, 1, w.CountDiff)
	assert.Equal(t, money.MustParse("10.00"), w.RevenueDiff)
	assert.Equal(t, 1, report.Mismatches)

	// Without auto-fix nothing is dispatched.
	assert.Empty(t, f.producer.Published())
}

func TestReconcileMatchesWithinEpsilon(t *testing.T) {
	f := setup(t)
	f.adapter.orders = tenOrders("2026-08-01")
	f.seed(t, 10)

	// Nudge one warehouse row by a cent: still a match.
	ctx := context.Background()
	got, err := f.warehouse.GetOrderWithLines(ctx, "pos_order_o00")
	require.NoError(t, err)
	got.Order.GrossTotal += 1
	require.NoError(t, f.warehouse.UpsertOrder(ctx, &got.Order, nil))

	start, _ := time.Parse("2006-01-02", "2026-08-01")
	report, err := f.engine.Reconcile(ctx, models.ChannelPOS, start, start, false)
	require.NoError(t, err)

	require.Len(t, report.Windows, 1)
	assert.Equal(t, StatusMatch, report.Windows[0].Status)
	assert.Equal(t, money.Amount(-1), report.Windows[0].RevenueDiff)
}

func TestReconcileAutoFixDispatchesOneJobPerWindow(t *testing.T) {
	f := setup(t)
	f.adapter.orders = append(tenOrders("2026-08-01"), fixtureOrder{ID: "x1", Net: 500, Day: "2026-08-02"})
	f.seed(t, 9)

	start, _ := time.Parse("2006-01-02", "2026-08-01")
	end, _ := time.Parse("2006-01-02", "2026-08-02")
	report, err := f.engine.Reconcile(context.Background(), models.ChannelPOS, start, end, true)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Mismatches)

	jobs := f.producer.Published()
	require.Len(t, jobs, 2)
	assert.Equal(t, "2026-08-01", jobs[0].Date)
	assert.Equal(t, "2026-08-02", jobs[1].Date)
	assert.Equal(t, models.ChannelPOS, jobs[0].Source)
	assert.Equal(t, report.Windows[0].ResyncJobID, jobs[0].ID)
}

func TestReconcileReportsAdapterFailureAsError(t *testing.T) {
	f := setup(t)
	f.adapter.err = adapter.ErrTransient

	start, _ := time.Parse("2006-01-02", "2026-08-01")
	report, err := f.engine.Reconcile(context.Background(), models.ChannelPOS, start, start, true)
	require.NoError(t, err)

	require.Len(t, report.Windows, 1)
	assert.Equal(t, StatusError, report.Windows[0].Status)
	assert.Equal(t, 1, report.Errors)
	assert.Zero(t, report.Mismatches)
	// Errors never trigger auto-fix.
	assert.Empty(t, f.producer.Published())
}

func TestCheckIntegrityCritical(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	report, err := f.engine.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())

	orphan := models.OrderLine{
		ExternalID:   "pos_line_orphan",
		OrderID:      "pos_order_gone",
		ProductTitle: "ghost",
		Qty:          1,
		LineTotal:    100,
	}
	_, err = f.warehouse.Bun.NewInsert().Model(&orphan).Exec(ctx)
	require.NoError(t, err)

	report, err = f.engine.CheckIntegrity(ctx)
	var critical *CriticalViolationError
	require.ErrorAs(t, err, &critical)
	assert.Equal(t, 1, report.OrphanLines)
	assert.Equal(t, report, critical.Report)
}
