package models

import "time"

// ResyncJob is the one-shot re-ingestion command the reconciliation engine
// publishes to Kafka. The worker runs a one-day backfill window for it; the
// engine never calls ingestion directly and never loops.
type ResyncJob struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Date        string    `json:"date"` // 2006-01-02
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
