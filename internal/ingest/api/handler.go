package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-commerce-sync/internal/analytics"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/backfill"
	"ms-commerce-sync/internal/ingest"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/reconcile"
	"ms-commerce-sync/internal/utils"
)

// maxWebhookBody caps delivery payloads at 1MB.
const maxWebhookBody = 1 << 20

type Handler struct {
	Ingest       *ingest.Service
	Orchestrator *backfill.Orchestrator
	Engine       *reconcile.Engine
	Audits       *audit.Store
	Analytics    *analytics.Service
	Log          *logger.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeSuccessResponse(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, utils.SuccessResponse(message, data))
}

func writeErrorResponse(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, utils.ErrorResponse(message, detail))
}

// HandleWebhook is the ingress for all three platforms.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Could not read request body", err.Error())
		return
	}

	outcome, err := h.Ingest.HandleWebhook(r.Context(), source, r, body)
	switch outcome {
	case ingest.OutcomeOK:
		writeSuccessResponse(w, http.StatusOK, "Webhook ingested", nil)
	case ingest.OutcomeAuthError:
		writeErrorResponse(w, http.StatusUnauthorized, "Invalid webhook signature", "")
	case ingest.OutcomeTransientError:
		writeErrorResponse(w, http.StatusServiceUnavailable, "Temporary failure, please redeliver", err.Error())
	default:
		writeErrorResponse(w, http.StatusUnprocessableEntity, "Webhook rejected", err.Error())
	}
}

type resyncRequest struct {
	Source string `json:"source"` // one source or "all"
	Date   string `json:"date"`   // 2006-01-02
}

// HandleResync runs a one-day backfill on demand.
func (h *Handler) HandleResync(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	day, err := utils.ParseDate(req.Date)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid date", err.Error())
		return
	}

	sources := []string{req.Source}
	if req.Source == "all" || req.Source == "" {
		sources = h.Orchestrator.Sources()
	}

	results := make(map[string]*backfill.Result, len(sources))
	for _, source := range sources {
		result, err := h.Orchestrator.RunDay(r.Context(), source, day)
		if errors.Is(err, backfill.ErrAlreadyRunning) {
			writeErrorResponse(w, http.StatusConflict, fmt.Sprintf("Backfill already running for %s", source), "")
			return
		}
		if err != nil {
			writeErrorResponse(w, http.StatusBadGateway, fmt.Sprintf("Resync failed for %s", source), err.Error())
			return
		}
		results[source] = result
	}

	writeSuccessResponse(w, http.StatusOK, "Resync complete", results)
}

// HandleAudits lists recent ingest audit rows.
func (h *Handler) HandleAudits(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.Audits.Recent(r.Context(), r.URL.Query().Get("source"), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Could not list audits", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Audit rows", rows)
}

type reconcileRequest struct {
	Source    string `json:"source"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	AutoFix   bool   `json:"auto_fix"`
}

// HandleReconcile compares live sources to the warehouse for a date range.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	start, err := utils.ParseDate(req.StartDate)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid start_date", err.Error())
		return
	}
	end, err := utils.ParseDate(req.EndDate)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid end_date", err.Error())
		return
	}
	if end.Before(start) {
		writeErrorResponse(w, http.StatusBadRequest, "end_date before start_date", "")
		return
	}

	report, err := h.Engine.Reconcile(r.Context(), req.Source, start, end, req.AutoFix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Reconciliation failed", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Reconciliation report", report)
}

// HandleIntegrity runs the structural integrity checks.
func (h *Handler) HandleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.CheckIntegrity(r.Context())
	var critical *reconcile.CriticalViolationError
	if errors.As(err, &critical) {
		h.Log.LogSecurity("INTEGRITY", critical.Error())
		writeJSON(w, http.StatusConflict, utils.ErrorResponse("Integrity violations found", critical.Error()))
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Integrity check failed", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Integrity clean", report)
}

// HandleRollupRefresh recomputes daily rollups for a date range.
func (h *Handler) HandleRollupRefresh(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseRange(w, r)
	if !ok {
		return
	}

	refreshed, err := h.Analytics.RefreshRange(r.Context(), start, end)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Rollup refresh failed", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Rollups refreshed", map[string]int{"rows": refreshed})
}

// HandleRangeTotals serves aggregate totals for a date range.
func (h *Handler) HandleRangeTotals(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	totals, err := h.Analytics.GetRangeTotals(r.Context(), start, end)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Query failed", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Range totals", totals)
}

// HandleChannelBreakdown serves per-channel totals for a date range.
func (h *Handler) HandleChannelBreakdown(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	breakdown, err := h.Analytics.GetChannelBreakdown(r.Context(), start, end)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Query failed", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Channel breakdown", breakdown)
}

// HandleTopProducts serves the product ranking for a date range.
func (h *Handler) HandleTopProducts(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	products, err := h.Analytics.GetTopProducts(r.Context(), start, end, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Query failed", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Top products", products)
}

// HandleDailyTrend serves the per-day rollup series for a date range.
func (h *Handler) HandleDailyTrend(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	trend, err := h.Analytics.GetDailyTrend(r.Context(), start, end)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Query failed", err.Error())
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Daily trend", trend)
}

// HandleGetOrder reads one order with its lines back, for operators chasing
// a reconciliation diff.
func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalId")
	order, err := h.Ingest.GetOrder(r.Context(), externalID)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "Order not found", externalID)
		return
	}
	writeSuccessResponse(w, http.StatusOK, "Order", order)
}

// parseRange reads start/end date query params, defaulting to the last 30
// days when absent.
func (h *Handler) parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	start, end := now.AddDate(0, 0, -30), now

	if v := r.URL.Query().Get("start"); v != "" {
		parsed, err := utils.ParseDate(v)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid start", err.Error())
			return start, end, false
		}
		start = parsed
	}
	if v := r.URL.Query().Get("end"); v != "" {
		parsed, err := utils.ParseDate(v)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid end", err.Error())
			return start, end, false
		}
		end = parsed
	}
	if end.Before(start) {
		writeErrorResponse(w, http.StatusBadRequest, "end before start", "")
		return start, end, false
	}
	return start, end, true
}
