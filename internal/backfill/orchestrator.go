package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-commerce-sync/internal/adapter"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/utils"
)

// ErrAlreadyRunning is returned when a backfill for the source is in flight.
var ErrAlreadyRunning = errors.New("backfill already running for source")

// RecordSink persists one normalized record. The ingest service implements it;
// backfill and webhooks share the same persistence path.
type RecordSink interface {
	PersistRecord(ctx context.Context, source string, rec *models.Record) error
}

// WindowResult reports one day window's outcome. Skipped windows were
// completed by an earlier run and not touched again.
type WindowResult struct {
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Processed   int    `json:"processed"`
	Failed      int    `json:"failed"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// Result aggregates a full backfill run.
type Result struct {
	Source    string         `json:"source"`
	RunID     string         `json:"run_id"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Windows   []WindowResult `json:"windows"`
}

// Orchestrator drives historical re-ingestion: per source and one-day window,
// fetch pages, normalize and persist each record (failures isolated), and
// checkpoint after each durable page so a crash reprocesses at most one page.
type Orchestrator struct {
	adapters map[string]adapter.Adapter
	sink     RecordSink
	audits   *audit.Store
	lock     *RunLock
	log      *logger.Logger
}

func NewOrchestrator(adapters map[string]adapter.Adapter, sink RecordSink, audits *audit.Store, lock *RunLock, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		adapters: adapters,
		sink:     sink,
		audits:   audits,
		lock:     lock,
		log:      log,
	}
}

// Sources lists the adapters the orchestrator can backfill.
func (o *Orchestrator) Sources() []string {
	sources := make([]string, 0, len(o.adapters))
	for s := range o.adapters {
		sources = append(sources, s)
	}
	return sources
}

// Run backfills [start, end] (inclusive dates) for one source, resuming past
// progress: windows a previous run completed are skipped, a window with an
// open checkpoint continues from its cursor. The per-source lock rejects
// concurrent runs; window failures abort the run after being audited, never
// silently skipped.
func (o *Orchestrator) Run(ctx context.Context, source string, start, end time.Time) (*Result, error) {
	return o.run(ctx, source, start, end, false)
}

// Rerun backfills the range from scratch, clearing completed checkpoints
// first. Resync jobs and admin resyncs use it: both exist to re-ingest a
// window that already ran once.
func (o *Orchestrator) Rerun(ctx context.Context, source string, start, end time.Time) (*Result, error) {
	return o.run(ctx, source, start, end, true)
}

func (o *Orchestrator) run(ctx context.Context, source string, start, end time.Time, force bool) (*Result, error) {
	src, ok := o.adapters[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}

	runID := uuid.NewString()
	if o.lock != nil {
		acquired, err := o.lock.Acquire(ctx, source, runID)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrAlreadyRunning
		}
		defer func() {
			if err := o.lock.Release(context.Background(), source, runID); err != nil {
				o.log.Error("BACKFILL", fmt.Sprintf("release lock for %s: %v", source, err))
			}
		}()
	}

	result := &Result{Source: source, RunID: runID}
	for _, window := range utils.DayWindows(start, end) {
		wr, err := o.runWindow(ctx, src, window, force)
		result.Windows = append(result.Windows, wr)
		result.Processed += wr.Processed
		result.Failed += wr.Failed
		if err != nil {
			return result, fmt.Errorf("window %s: %w", wr.WindowStart, err)
		}
	}

	o.log.LogBackfill(source, fmt.Sprintf("run %s done: %d processed, %d failed across %d windows",
		runID, result.Processed, result.Failed, len(result.Windows)))
	return result, nil
}

// RunDay re-ingests a single date from scratch. Resync jobs and admin
// resyncs use this entry point; the day they name already ran once, so
// resuming would no-op.
func (o *Orchestrator) RunDay(ctx context.Context, source string, day time.Time) (*Result, error) {
	w := utils.DayWindow(day)
	return o.Rerun(ctx, source, w.Start, w.Start)
}

func (o *Orchestrator) runWindow(ctx context.Context, src adapter.Adapter, window utils.Window, force bool) (WindowResult, error) {
	source := src.Source()
	wr := WindowResult{
		WindowStart: window.Start.Format(utils.DateLayout),
		WindowEnd:   window.End.Format(utils.DateLayout),
	}

	if force {
		if err := o.audits.ResetCheckpoint(ctx, source, wr.WindowStart, wr.WindowEnd); err != nil {
			return wr, err
		}
	} else {
		done, err := o.audits.CheckpointCompleted(ctx, source, wr.WindowStart, wr.WindowEnd)
		if err != nil {
			return wr, err
		}
		if done {
			wr.Skipped = true
			o.log.LogBackfill(source, fmt.Sprintf("window %s already completed, skipping", wr.WindowStart))
			return wr, nil
		}
	}

	row, err := o.audits.Begin(ctx, source, models.AuditTypeBackfill, map[string]any{
		"window_start": wr.WindowStart,
		"window_end":   wr.WindowEnd,
	})
	if err != nil {
		return wr, err
	}

	// Resume where a previous run left off inside this window.
	pageToken := ""
	if cp, err := o.audits.LatestCheckpoint(ctx, source, wr.WindowStart, wr.WindowEnd); err != nil {
		return wr, err
	} else if cp != nil {
		pageToken = cp.NextPageToken
		wr.Processed = cp.Processed
		o.log.LogBackfill(source, fmt.Sprintf("resuming window %s at %d processed", wr.WindowStart, cp.Processed))
	}

	for {
		raws, next, err := src.FetchByDateRange(ctx, window.Start, window.End, pageToken)
		if err != nil {
			fetchErr := fmt.Errorf("fetch page: %w", err)
			if auditErr := o.audits.MarkFailed(ctx, row, fetchErr); auditErr != nil {
				o.log.Error("BACKFILL", fmt.Sprintf("audit window failure: %v", auditErr))
			}
			return wr, fetchErr
		}

		for _, raw := range raws {
			if err := o.ingestOne(ctx, src, raw); err != nil {
				wr.Failed++
				o.log.Error("BACKFILL", fmt.Sprintf("[%s] record failed: %v", source, err))
				continue
			}
			wr.Processed++
		}

		// The page's records are durable; record progress before moving on.
		// The last page closes the checkpoint in the same write, so no crash
		// point leaves a finished window open with an empty cursor.
		cp := models.Checkpoint{
			WindowStart:   wr.WindowStart,
			WindowEnd:     wr.WindowEnd,
			NextPageToken: next,
			Processed:     wr.Processed,
		}
		if next == "" {
			if err := o.audits.FinishCheckpoint(ctx, source, cp); err != nil {
				return wr, err
			}
			break
		}
		if err := o.audits.SaveCheckpoint(ctx, source, cp); err != nil {
			return wr, err
		}
		pageToken = next
	}

	return wr, o.audits.MarkSuccess(ctx, row, map[string]any{
		"processed": wr.Processed,
		"failed":    wr.Failed,
	})
}

func (o *Orchestrator) ingestOne(ctx context.Context, src adapter.Adapter, raw []byte) error {
	rec, err := src.Normalize(raw)
	if err != nil {
		return err
	}
	return o.sink.PersistRecord(ctx, src.Source(), rec)
}
