package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-commerce-sync/internal/models"
)

// Store is the append-only ingest audit log. Every ingestion attempt opens a
// processing row and closes it exactly once with success or failed; backfill
// checkpoints ride on the same table as upserted rows keyed by their window.
type Store struct {
	Bun *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{Bun: db}
}

// Begin opens a processing audit row and returns it for the caller to close
// via MarkSuccess or MarkFailed.
func (s *Store) Begin(ctx context.Context, source, auditType string, payload map[string]any) (*models.IngestAudit, error) {
	now := time.Now().UTC()
	row := &models.IngestAudit{
		ID:        uuid.NewString(),
		Source:    source,
		Type:      auditType,
		Status:    models.AuditProcessing,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.Bun.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert audit row: %w", err)
	}
	return row, nil
}

// MarkSuccess closes a processing row. Extra payload fields (counts, derived
// ids) are merged into the stored payload.
func (s *Store) MarkSuccess(ctx context.Context, row *models.IngestAudit, extra map[string]any) error {
	row.Status = models.AuditSuccess
	row.UpdatedAt = time.Now().UTC()
	for k, v := range extra {
		if row.Payload == nil {
			row.Payload = map[string]any{}
		}
		row.Payload[k] = v
	}
	_, err := s.Bun.NewUpdate().
		Model(row).
		Column("status", "payload", "updated_at").
		Where("id = ?", row.ID).
		Exec(ctx)
	return err
}

// MarkFailed closes a processing row with the failure cause. The original
// payload stays in place so operators can replay it.
func (s *Store) MarkFailed(ctx context.Context, row *models.IngestAudit, cause error) error {
	row.Status = models.AuditFailed
	row.Error = cause.Error()
	row.UpdatedAt = time.Now().UTC()
	_, err := s.Bun.NewUpdate().
		Model(row).
		Column("status", "error", "updated_at").
		Where("id = ?", row.ID).
		Exec(ctx)
	return err
}

// checkpointID keys checkpoint rows deterministically so saving progress for
// the same source+window overwrites rather than accumulates.
func checkpointID(source, windowStart, windowEnd string) string {
	return fmt.Sprintf("cp_%s_%s_%s", source, windowStart, windowEnd)
}

// SaveCheckpoint upserts the resumable cursor for an in-flight backfill
// window.
func (s *Store) SaveCheckpoint(ctx context.Context, source string, cp models.Checkpoint) error {
	return s.saveCheckpoint(ctx, source, cp, models.AuditProcessing)
}

// FinishCheckpoint writes the window's final cursor state and closes it in a
// single statement, so a crash between the last page and completion cannot
// leave a finished window looking resumable from the beginning.
func (s *Store) FinishCheckpoint(ctx context.Context, source string, cp models.Checkpoint) error {
	return s.saveCheckpoint(ctx, source, cp, models.AuditSuccess)
}

func (s *Store) saveCheckpoint(ctx context.Context, source string, cp models.Checkpoint, status string) error {
	payload, err := toPayload(cp)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	row := &models.IngestAudit{
		ID:        checkpointID(source, cp.WindowStart, cp.WindowEnd),
		Source:    source,
		Type:      models.AuditTypeCheckpoint,
		Status:    status,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.Bun.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// LatestCheckpoint returns the open checkpoint for a source+window, or nil
// when the window has never started or already completed.
func (s *Store) LatestCheckpoint(ctx context.Context, source, windowStart, windowEnd string) (*models.Checkpoint, error) {
	var row models.IngestAudit
	err := s.Bun.NewSelect().
		Model(&row).
		Where("id = ?", checkpointID(source, windowStart, windowEnd)).
		Where("status = ?", models.AuditProcessing).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cp models.Checkpoint
	if err := fromPayload(row.Payload, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint payload: %w", err)
	}
	return &cp, nil
}

// CheckpointCompleted reports whether a previous run already finished the
// window, so re-invocations can skip it instead of re-fetching from page one.
func (s *Store) CheckpointCompleted(ctx context.Context, source, windowStart, windowEnd string) (bool, error) {
	count, err := s.Bun.NewSelect().
		Model((*models.IngestAudit)(nil)).
		Where("id = ?", checkpointID(source, windowStart, windowEnd)).
		Where("status = ?", models.AuditSuccess).
		Count(ctx)
	return count > 0, err
}

// ResetCheckpoint clears the window's checkpoint so the next run starts from
// the first page. Resync jobs use it to force deliberate re-ingestion of a
// window that already completed once.
func (s *Store) ResetCheckpoint(ctx context.Context, source, windowStart, windowEnd string) error {
	_, err := s.Bun.NewDelete().
		Model((*models.IngestAudit)(nil)).
		Where("id = ?", checkpointID(source, windowStart, windowEnd)).
		Exec(ctx)
	return err
}

// Recent lists the newest audit rows, optionally filtered by source and
// status. Checkpoint rows are excluded; they are progress state, not history.
func (s *Store) Recent(ctx context.Context, source, status string, limit int) ([]models.IngestAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows []models.IngestAudit
	q := s.Bun.NewSelect().
		Model(&rows).
		Where("type != ?", models.AuditTypeCheckpoint).
		Order("created_at DESC").
		Limit(limit)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// CountByStatus returns failure/success counts for monitoring endpoints.
func (s *Store) CountByStatus(ctx context.Context, source string) (map[string]int, error) {
	var results []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}

	q := s.Bun.NewSelect().
		Model((*models.IngestAudit)(nil)).
		ColumnExpr("status, count(*) AS count").
		Where("type != ?", models.AuditTypeCheckpoint).
		GroupExpr("status")
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if err := q.Scan(ctx, &results); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(results))
	for _, r := range results {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func toPayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromPayload(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
