package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Audit statuses. Rows are created as processing and updated exactly once to
// a terminal status.
const (
	AuditProcessing = "processing"
	AuditSuccess    = "success"
	AuditFailed     = "failed"
)

// Audit types. Checkpoints are ordinary audit rows whose payload carries
// resumable cursor state, so the audit log doubles as the checkpoint store.
const (
	AuditTypeWebhook    = "webhook"
	AuditTypeBackfill   = "backfill.window"
	AuditTypeCheckpoint = "backfill.checkpoint"
	AuditTypeReconcile  = "reconciliation.run"
	AuditTypeResync     = "resync.job"
)

// IngestAudit is the append-only record of every ingestion attempt. The
// field set (source, type, status, payload, error, timestamp) is a stable
// contract monitoring tooling depends on.
type IngestAudit struct {
	bun.BaseModel `bun:"table:ingest_audits"`

	ID        string         `bun:"id,pk" json:"id"`
	Source    string         `bun:"source,notnull" json:"source"`
	Type      string         `bun:"type,notnull" json:"type"`
	Status    string         `bun:"status,notnull" json:"status"`
	Payload   map[string]any `bun:"payload,type:jsonb" json:"payload,omitempty"`
	Error     string         `bun:"error,nullzero" json:"error,omitempty"`
	CreatedAt time.Time      `bun:"created_at,notnull" json:"timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,notnull" json:"updated_at"`
}

// Checkpoint is the resumable progress marker serialized into a checkpoint
// audit row's payload.
type Checkpoint struct {
	WindowStart   string `json:"window_start"` // 2006-01-02
	WindowEnd     string `json:"window_end"`
	NextPageToken string `json:"next_page_token,omitempty"`
	Processed     int    `json:"processed"`
}
