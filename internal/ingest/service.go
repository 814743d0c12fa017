package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-commerce-sync/internal/adapter"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/identity"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/payments"
	"ms-commerce-sync/internal/warehouse"
)

// Outcome tags how a webhook delivery ended; the HTTP layer maps it to a
// status code (ok 200, authError 401, transientError 503, permanentError 422).
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeAuthError
	OutcomeTransientError
	OutcomePermanentError
)

// Service runs the ingestion pipeline shared by webhooks and backfill:
// normalize, resolve identity, persist, audit.
type Service struct {
	adapters  map[string]adapter.Adapter
	resolver  *identity.Resolver
	warehouse *warehouse.DB
	payments  *payments.Service
	audits    *audit.Store
	log       *logger.Logger
}

func NewService(
	adapters map[string]adapter.Adapter,
	resolver *identity.Resolver,
	wh *warehouse.DB,
	pay *payments.Service,
	audits *audit.Store,
	log *logger.Logger,
) *Service {
	return &Service{
		adapters:  adapters,
		resolver:  resolver,
		warehouse: wh,
		payments:  pay,
		audits:    audits,
		log:       log,
	}
}

// Adapter looks up the adapter registered for a source.
func (s *Service) Adapter(source string) (adapter.Adapter, bool) {
	a, ok := s.adapters[source]
	return a, ok
}

// GetOrder reads one order with its lines back out of the warehouse.
func (s *Service) GetOrder(ctx context.Context, externalID string) (*models.OrderWithLines, error) {
	return s.warehouse.GetOrderWithLines(ctx, externalID)
}

// HandleWebhook runs one delivery through the pipeline. A failed signature
// check is rejected before any audit row exists: unauthenticated payloads do
// not reach storage in any form.
func (s *Service) HandleWebhook(ctx context.Context, source string, r *http.Request, body []byte) (Outcome, error) {
	src, ok := s.adapters[source]
	if !ok {
		return OutcomePermanentError, fmt.Errorf("unknown source %q", source)
	}

	if !src.VerifyWebhookSignature(r, body) {
		s.log.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("rejected delivery for %s from %s", source, r.RemoteAddr))
		return OutcomeAuthError, fmt.Errorf("invalid webhook signature")
	}

	row, err := s.audits.Begin(ctx, source, models.AuditTypeWebhook, rawPayload(body))
	if err != nil {
		return OutcomeTransientError, fmt.Errorf("open audit row: %w", err)
	}

	rec, err := src.Normalize(body)
	if err != nil {
		s.failAudit(ctx, row, err)
		return classify(err), err
	}

	if err := s.PersistRecord(ctx, source, rec); err != nil {
		s.failAudit(ctx, row, err)
		// Storage failures are redeliverable; the payload itself was valid.
		return OutcomeTransientError, err
	}

	extra := map[string]any{"external_id": externalID(rec)}
	if err := s.audits.MarkSuccess(ctx, row, extra); err != nil {
		s.log.Error("WEBHOOK", fmt.Sprintf("close audit row: %v", err))
	}

	s.log.LogWebhook(source, string(rec.Kind), fmt.Sprintf("ingested %s", externalID(rec)))
	return OutcomeOK, nil
}

// PersistRecord stores one normalized record: identity first so the fact row
// can carry the customer hash, then the fact itself. Payments route through
// the payment service, which reapplies totals onto the owning order.
func (s *Service) PersistRecord(ctx context.Context, source string, rec *models.Record) error {
	hash := s.resolveIdentity(ctx, source, rec.Customer)

	switch rec.Kind {
	case models.KindOrder:
		if rec.Order == nil {
			return fmt.Errorf("order record without order")
		}
		rec.Order.CustomerHash = hash
		return s.warehouse.UpsertOrder(ctx, rec.Order, rec.Lines)

	case models.KindEvent:
		if rec.Event == nil {
			return fmt.Errorf("event record without event")
		}
		rec.Event.CustomerHash = hash
		return s.warehouse.UpsertEvent(ctx, rec.Event)

	case models.KindPayment:
		if rec.Payment == nil {
			return fmt.Errorf("payment record without payment")
		}
		return s.payments.RecordPayment(ctx, rec.Payment)
	}

	return fmt.Errorf("unknown record kind %q", rec.Kind)
}

func (s *Service) resolveIdentity(ctx context.Context, source string, pii *models.CustomerPII) string {
	if pii == nil {
		return ""
	}
	hash := s.resolver.ResolveCustomer(pii.Email, pii.Phone)
	if hash == "" {
		return ""
	}
	if err := s.warehouse.UpsertCustomerIdentity(ctx, hash, source, pii.NativeID); err != nil {
		// The fact still lands with its hash; only the bridge row is stale.
		s.log.Error("DATABASE", fmt.Sprintf("identity merge for %s: %v", source, err))
	}
	return hash
}

func (s *Service) failAudit(ctx context.Context, row *models.IngestAudit, cause error) {
	if err := s.audits.MarkFailed(ctx, row, cause); err != nil {
		s.log.Error("WEBHOOK", fmt.Sprintf("mark audit failed: %v", err))
	}
}

// classify maps pipeline errors onto delivery outcomes: retryable failures
// ask the source to redeliver (503), everything else is rejected for good.
func classify(err error) Outcome {
	if adapter.IsRetryable(err) {
		return OutcomeTransientError
	}
	return OutcomePermanentError
}

func externalID(rec *models.Record) string {
	switch rec.Kind {
	case models.KindOrder:
		return rec.Order.ExternalID
	case models.KindEvent:
		return rec.Event.ExternalID
	case models.KindPayment:
		return rec.Payment.PaymentID
	}
	return ""
}

// rawPayload keeps the delivery body in the audit row for replay. Bodies that
// are not JSON objects are wrapped.
func rawPayload(body []byte) map[string]any {
	m := map[string]any{}
	if err := json.Unmarshal(body, &m); err != nil {
		return map[string]any{"raw": string(body)}
	}
	return m
}
