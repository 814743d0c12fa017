package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-commerce-sync/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.IngestAudit)(nil)))

	return NewStore(bunDB)
}

func TestAuditLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	row, err := store.Begin(ctx, models.ChannelStorefront, models.AuditTypeWebhook, map[string]any{"body_bytes": 120})
	require.NoError(t, err)
	assert.Equal(t, models.AuditProcessing, row.Status)

	require.NoError(t, store.MarkSuccess(ctx, row, map[string]any{"external_id": "storefront_order_555"}))

	rows, err := store.Recent(ctx, models.ChannelStorefront, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AuditSuccess, rows[0].Status)
	assert.Equal(t, "storefront_order_555", rows[0].Payload["external_id"])
}

func TestAuditFailureKeepsPayload(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	row, err := store.Begin(ctx, models.ChannelPOS, models.AuditTypeWebhook, map[string]any{"raw": "garbage"})
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, row, errors.New("malformed source payload")))

	rows, err := store.Recent(ctx, models.ChannelPOS, models.AuditFailed, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "malformed source payload", rows[0].Error)
	assert.Equal(t, "garbage", rows[0].Payload["raw"])
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// No checkpoint before the first save.
	cp, err := store.LatestCheckpoint(ctx, models.ChannelBooking, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Nil(t, cp)

	saved := models.Checkpoint{
		WindowStart:   "2026-08-01",
		WindowEnd:     "2026-08-02",
		NextPageToken: "page-3",
		Processed:     150,
	}
	require.NoError(t, store.SaveCheckpoint(ctx, models.ChannelBooking, saved))

	cp, err = store.LatestCheckpoint(ctx, models.ChannelBooking, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, saved, *cp)

	// Saving again for the same window overwrites, not duplicates.
	saved.NextPageToken = "page-4"
	saved.Processed = 200
	require.NoError(t, store.SaveCheckpoint(ctx, models.ChannelBooking, saved))

	cp, err = store.LatestCheckpoint(ctx, models.ChannelBooking, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "page-4", cp.NextPageToken)
	assert.Equal(t, 200, cp.Processed)

	// The final save closes the checkpoint in the same write; the window now
	// reads as completed, not resumable.
	saved.NextPageToken = ""
	require.NoError(t, store.FinishCheckpoint(ctx, models.ChannelBooking, saved))

	cp, err = store.LatestCheckpoint(ctx, models.ChannelBooking, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.Nil(t, cp)

	done, err := store.CheckpointCompleted(ctx, models.ChannelBooking, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.True(t, done)

	// Resetting clears completion so a forced rerun starts from page one.
	require.NoError(t, store.ResetCheckpoint(ctx, models.ChannelBooking, "2026-08-01", "2026-08-02"))
	done, err = store.CheckpointCompleted(ctx, models.ChannelBooking, "2026-08-01", "2026-08-02")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRecentListsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		row, err := store.Begin(ctx, models.ChannelStorefront, models.AuditTypeWebhook, map[string]any{"seq": i})
		require.NoError(t, err)
		require.NoError(t, store.MarkSuccess(ctx, row, nil))
	}

	rows, err := store.Recent(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].CreatedAt.Before(rows[1].CreatedAt))

	rows, err = store.Recent(ctx, models.ChannelBooking, "", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecentExcludesCheckpoints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, models.ChannelPOS, models.Checkpoint{
		WindowStart: "2026-08-01", WindowEnd: "2026-08-02",
	}))
	row, err := store.Begin(ctx, models.ChannelPOS, models.AuditTypeBackfill, nil)
	require.NoError(t, err)
	require.NoError(t, store.MarkSuccess(ctx, row, nil))

	rows, err := store.Recent(ctx, models.ChannelPOS, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AuditTypeBackfill, rows[0].Type)

	counts, err := store.CountByStatus(ctx, models.ChannelPOS)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{models.AuditSuccess: 1}, counts)
}
