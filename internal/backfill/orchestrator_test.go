package backfill

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
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
)

// fakeAdapter serves fixed pages and can fail a configured page to simulate
// a crash mid-window.
type fakeAdapter struct {
	source    string
	pages     [][]string // page -> record ids
	failPage  int        // fetch of this page index errors once, -1 to disable
	failed    bool
	fetches   int
	normalize func(id string) *models.Record
}

func (f *fakeAdapter) Source() string { return f.source }

func (f *fakeAdapter) FetchByDateRange(_ context.Context, _, _ time.Time, pageToken string) ([]json.RawMessage, string, error) {
	f.fetches++
	page := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "page-%d", &page)
	}
	if page == f.failPage && !f.failed {
		f.failed = true
		return nil, "", adapter.ErrTransient
	}

	raws := make([]json.RawMessage, 0, len(f.pages[page]))
	for _, id := range f.pages[page] {
		raws = append(raws, json.RawMessage(fmt.Sprintf("%q", id)))
	}
	next := ""
	if page+1 < len(f.pages) {
		next = fmt.Sprintf("page-%d", page+1)
	}
	return raws, next, nil
}

func (f *fakeAdapter) VerifyWebhookSignature(*http.Request, []byte) bool { return true }

func (f *fakeAdapter) Normalize(raw json.RawMessage) (*models.Record, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, err
	}
	if f.normalize != nil {
		return f.normalize(id), nil
	}
	return &models.Record{
		Kind: models.KindOrder,
		Order: &models.Order{
			ExternalID: models.ExternalID(f.source, "order", id),
			ChannelID:  f.source,
		},
	}, nil
}

// memorySink records persisted external ids, deduplicating like the real
// warehouse upserts do.
type memorySink struct {
	persisted map[string]int
}

func newMemorySink() *memorySink {
	return &memorySink{persisted: map[string]int{}}
}

func (m *memorySink) PersistRecord(_ context.Context, _ string, rec *models.Record) error {
	m.persisted[rec.Order.ExternalID]++
	return nil
}

func setupAuditStore(t *testing.T) *audit.Store {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.IngestAudit)(nil)))
	return audit.NewStore(bunDB)
}

func threePages() [][]string {
	return [][]string{
		{"o1", "o2"},
		{"o3", "o4"},
		{"o5"},
	}
}

func TestBackfillProcessesAllPages(t *testing.T) {
	src := &fakeAdapter{source: models.ChannelPOS, pages: threePages(), failPage: -1}
	sink := newMemorySink()
	audits := setupAuditStore(t)
	orch := NewOrchestrator(map[string]adapter.Adapter{src.source: src}, sink, audits, nil, logger.NewSilent())

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	result, err := orch.RunDay(context.Background(), models.ChannelPOS, day)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, sink.persisted, 5)

	// Window audited as success, checkpoint closed.
	rows, err := audits.Recent(context.Background(), models.ChannelPOS, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AuditSuccess, rows[0].Status)

	cp, err := audits.LatestCheckpoint(context.Background(), models.ChannelPOS, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestBackfillResumesFromCheckpoint(t *testing.T) {
	// First run dies fetching page 2 (pages 0 and 1 are durable).
	src := &fakeAdapter{source: models.ChannelPOS, pages: threePages(), failPage: 2}
	sink := newMemorySink()
	audits := setupAuditStore(t)
	orch := NewOrchestrator(map[string]adapter.Adapter{src.source: src}, sink, audits, nil, logger.NewSilent())

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := orch.Run(ctx, models.ChannelPOS, day, day)
	require.ErrorIs(t, err, adapter.ErrTransient)

	cp, err := audits.LatestCheckpoint(ctx, models.ChannelPOS, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "page-2", cp.NextPageToken)
	assert.Equal(t, 4, cp.Processed)

	// Second run resumes at page 2 without refetching pages 0-1.
	fetchesBefore := src.fetches
	result, err := orch.Run(ctx, models.ChannelPOS, day, day)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 1, src.fetches-fetchesBefore)

	// Outcome identical to an uninterrupted run: every record exactly once.
	assert.Len(t, sink.persisted, 5)
	for id, n := range sink.persisted {
		assert.Equal(t, 1, n, id)
	}
}

func TestRunSkipsCompletedWindows(t *testing.T) {
	src := &fakeAdapter{source: models.ChannelPOS, pages: threePages(), failPage: -1}
	sink := newMemorySink()
	audits := setupAuditStore(t)
	orch := NewOrchestrator(map[string]adapter.Adapter{src.source: src}, sink, audits, nil, logger.NewSilent())

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := orch.Run(ctx, models.ChannelPOS, day, day)
	require.NoError(t, err)
	fetchesAfterFirst := src.fetches

	// Re-invoking the same range does not touch the source again.
	result, err := orch.Run(ctx, models.ChannelPOS, day, day)
	require.NoError(t, err)
	require.Len(t, result.Windows, 1)
	assert.True(t, result.Windows[0].Skipped)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, fetchesAfterFirst, src.fetches)
}

func TestRunDayRerunsCompletedWindow(t *testing.T) {
	src := &fakeAdapter{source: models.ChannelPOS, pages: threePages(), failPage: -1}
	sink := newMemorySink()
	audits := setupAuditStore(t)
	orch := NewOrchestrator(map[string]adapter.Adapter{src.source: src}, sink, audits, nil, logger.NewSilent())

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := orch.Run(ctx, models.ChannelPOS, day, day)
	require.NoError(t, err)
	fetchesAfterFirst := src.fetches

	// A resync deliberately re-ingests the completed day from page one.
	result, err := orch.RunDay(ctx, models.ChannelPOS, day)
	require.NoError(t, err)
	require.Len(t, result.Windows, 1)
	assert.False(t, result.Windows[0].Skipped)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 3, src.fetches-fetchesAfterFirst)
}

func TestBackfillIsolatesRecordFailures(t *testing.T) {
	src := &fakeAdapter{source: models.ChannelPOS, pages: [][]string{{"good", "bad", "also-good"}}, failPage: -1}
	sink := newMemorySink()
	audits := setupAuditStore(t)

	src.normalize = func(id string) *models.Record {
		if id == "bad" {
			return &models.Record{Kind: models.KindOrder, Order: &models.Order{}} // sink rejects below
		}
		return &models.Record{
			Kind:  models.KindOrder,
			Order: &models.Order{ExternalID: models.ExternalID(src.source, "order", id), ChannelID: src.source},
		}
	}

	failingSink := &failOnEmptySink{inner: sink}
	orch := NewOrchestrator(map[string]adapter.Adapter{src.source: src}, failingSink, audits, nil, logger.NewSilent())

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	result, err := orch.RunDay(context.Background(), models.ChannelPOS, day)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, sink.persisted, 2)
}

type failOnEmptySink struct {
	inner *memorySink
}

func (f *failOnEmptySink) PersistRecord(ctx context.Context, source string, rec *models.Record) error {
	if rec.Order == nil || rec.Order.ExternalID == "" {
		return fmt.Errorf("missing external id")
	}
	return f.inner.PersistRecord(ctx, source, rec)
}

func TestBackfillRejectsUnknownSource(t *testing.T) {
	orch := NewOrchestrator(map[string]adapter.Adapter{}, newMemorySink(), setupAuditStore(t), nil, logger.NewSilent())
	_, err := orch.Run(context.Background(), "nope", time.Now(), time.Now())
	assert.Error(t, err)
}
