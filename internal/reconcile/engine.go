package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-commerce-sync/internal/adapter"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/kafka"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
	"ms-commerce-sync/internal/utils"
	"ms-commerce-sync/internal/warehouse"
)

// Epsilon is the absolute revenue tolerance for a match: one cent absorbs
// rounding differences between source representations.
const Epsilon = money.Amount(1)

// Window statuses.
const (
	StatusMatch    = "match"
	StatusMismatch = "mismatch"
	StatusError    = "error"
)

// CriticalViolationError marks structural integrity damage. It is never
// folded into a mismatch: mismatches are expected operational drift,
// violations mean the warehouse itself is broken.
type CriticalViolationError struct {
	Report warehouse.IntegrityReport
}

func (e *CriticalViolationError) Error() string {
	return fmt.Sprintf("integrity violation: %d orphan lines, %d net mismatches, %d bad quantities, %d duplicate ids",
		e.Report.OrphanLines, e.Report.NetMismatches, e.Report.BadQuantities, e.Report.DuplicateIDs)
}

// WindowReport compares one day window between the live source and the
// warehouse.
type WindowReport struct {
	WindowStart      string       `json:"window_start"`
	Status           string       `json:"status"`
	SourceCount      int          `json:"source_count"`
	WarehouseCount   int          `json:"warehouse_count"`
	SourceRevenue    money.Amount `json:"source_revenue"`
	WarehouseRevenue money.Amount `json:"warehouse_revenue"`
	CountDiff        int          `json:"count_diff"`
	RevenueDiff      money.Amount `json:"revenue_diff"`
	Error            string       `json:"error,omitempty"`
	ResyncJobID      string       `json:"resync_job_id,omitempty"`
}

// Report is one reconciliation run over a source and date range.
type Report struct {
	Source     string         `json:"source"`
	Windows    []WindowReport `json:"windows"`
	Matches    int            `json:"matches"`
	Mismatches int            `json:"mismatches"`
	Errors     int            `json:"errors"`
}

// Engine re-fetches live source data window by window and compares counts
// and net revenue to the warehouse. It never writes facts itself; the
// auto-fix path only dispatches one-shot resync jobs.
type Engine struct {
	adapters  map[string]adapter.Adapter
	warehouse *warehouse.DB
	publisher kafka.JobPublisher
	audits    *audit.Store
	log       *logger.Logger
}

func NewEngine(adapters map[string]adapter.Adapter, wh *warehouse.DB, publisher kafka.JobPublisher, audits *audit.Store, log *logger.Logger) *Engine {
	return &Engine{
		adapters:  adapters,
		warehouse: wh,
		publisher: publisher,
		audits:    audits,
		log:       log,
	}
}

// Reconcile compares [start, end] (inclusive dates) for one source. With
// autoFix set, each mismatched window gets exactly one ResyncJob published;
// the engine never loops back into ingestion.
func (e *Engine) Reconcile(ctx context.Context, source string, start, end time.Time, autoFix bool) (*Report, error) {
	src, ok := e.adapters[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}

	row, err := e.audits.Begin(ctx, source, models.AuditTypeReconcile, map[string]any{
		"start":    start.Format(utils.DateLayout),
		"end":      end.Format(utils.DateLayout),
		"auto_fix": autoFix,
	})
	if err != nil {
		return nil, err
	}

	report := &Report{Source: source}
	for _, window := range utils.DayWindows(start, end) {
		wr := e.reconcileWindow(ctx, src, window)

		if wr.Status == StatusMismatch && autoFix {
			job := models.ResyncJob{
				ID:          uuid.NewString(),
				Source:      source,
				Date:        wr.WindowStart,
				Reason:      fmt.Sprintf("count diff %d, revenue diff %s", wr.CountDiff, wr.RevenueDiff),
				RequestedAt: time.Now().UTC(),
			}
			if err := e.publisher.PublishResyncJob(ctx, job); err != nil {
				e.log.Error("RECONCILE", fmt.Sprintf("[%s] dispatch resync for %s: %v", source, wr.WindowStart, err))
			} else {
				wr.ResyncJobID = job.ID
			}
		}

		report.Windows = append(report.Windows, wr)
		switch wr.Status {
		case StatusMatch:
			report.Matches++
		case StatusMismatch:
			report.Mismatches++
		default:
			report.Errors++
		}
	}

	auditErr := e.audits.MarkSuccess(ctx, row, map[string]any{
		"matches":    report.Matches,
		"mismatches": report.Mismatches,
		"errors":     report.Errors,
	})
	if auditErr != nil {
		e.log.Error("RECONCILE", fmt.Sprintf("audit run: %v", auditErr))
	}

	e.log.LogReconcile(source, fmt.Sprintf("%d windows: %d match, %d mismatch, %d error",
		len(report.Windows), report.Matches, report.Mismatches, report.Errors))
	return report, nil
}

func (e *Engine) reconcileWindow(ctx context.Context, src adapter.Adapter, window utils.Window) WindowReport {
	wr := WindowReport{WindowStart: window.Start.Format(utils.DateLayout)}

	sourceCount, sourceRevenue, err := e.sourceTotals(ctx, src, window)
	if err != nil {
		// Adapter failure is its own status; an unreachable source says
		// nothing about whether the warehouse drifted.
		wr.Status = StatusError
		wr.Error = err.Error()
		return wr
	}
	wr.SourceCount = sourceCount
	wr.SourceRevenue = sourceRevenue

	totals, err := e.warehouse.TotalsByWindow(ctx, src.Source(), window.Start, window.End)
	if err != nil {
		wr.Status = StatusError
		wr.Error = err.Error()
		return wr
	}
	wr.WarehouseCount = totals.Count
	wr.WarehouseRevenue = totals.NetRevenue

	wr.CountDiff = wr.SourceCount - wr.WarehouseCount
	wr.RevenueDiff = wr.SourceRevenue - wr.WarehouseRevenue

	if wr.CountDiff == 0 && wr.RevenueDiff.Abs() <= Epsilon {
		wr.Status = StatusMatch
	} else {
		wr.Status = StatusMismatch
	}
	return wr
}

// sourceTotals pages through the live source for the window and accumulates
// count and net revenue from the normalized records.
func (e *Engine) sourceTotals(ctx context.Context, src adapter.Adapter, window utils.Window) (int, money.Amount, error) {
	var count int
	var revenue money.Amount

	pageToken := ""
	for {
		raws, next, err := src.FetchByDateRange(ctx, window.Start, window.End, pageToken)
		if err != nil {
			return 0, 0, fmt.Errorf("fetch: %w", err)
		}

		for _, raw := range raws {
			rec, err := src.Normalize(raw)
			if err != nil {
				return 0, 0, fmt.Errorf("normalize: %w", err)
			}
			switch rec.Kind {
			case models.KindOrder:
				count++
				revenue += rec.Order.GrossTotal - rec.Order.RefundsTotal
			case models.KindEvent:
				count++
				revenue += rec.Event.Revenue + rec.Event.AddOnSales
			}
		}

		if next == "" {
			return count, revenue, nil
		}
		pageToken = next
	}
}

// CheckIntegrity runs the structural checks. A dirty report comes back as a
// CriticalViolationError alongside the report itself.
func (e *Engine) CheckIntegrity(ctx context.Context) (warehouse.IntegrityReport, error) {
	report, err := e.warehouse.CheckIntegrity(ctx)
	if err != nil {
		return report, err
	}
	if !report.Clean() {
		return report, &CriticalViolationError{Report: report}
	}
	return report, nil
}
