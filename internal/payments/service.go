package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/payments/storage"
	"ms-commerce-sync/internal/warehouse"
)

// Service ties the payment store to the warehouse: every saved payment fact
// triggers a recompute of the owning order's payment state.
type Service struct {
	store     storage.Store
	warehouse *warehouse.DB
	log       *logger.Logger
}

func NewService(store storage.Store, wh *warehouse.DB, log *logger.Logger) *Service {
	return &Service{store: store, warehouse: wh, log: log}
}

// RecordPayment persists one payment fact and reapplies the reconciled
// totals onto the referenced order.
func (s *Service) RecordPayment(ctx context.Context, payment *models.PaymentRecord) error {
	if err := s.store.SavePayment(ctx, payment); err != nil {
		return err
	}
	return s.ApplyToOrder(ctx, payment.OrderRef)
}

// ApplyToOrder recomputes the order's payment totals from every stored
// payment and writes them back. An order the warehouse has not seen yet is
// not an error: the next reconciliation pass over the window reapplies.
func (s *Service) ApplyToOrder(ctx context.Context, orderRef string) error {
	records, err := s.store.ListByOrder(ctx, orderRef)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	totals := Reconcile(records)[orderRef]
	tenders := PaymentTenders(records)

	err = s.warehouse.UpdateOrderPaymentState(ctx, orderRef, totals.Refunded, tenders)
	if errors.Is(err, warehouse.ErrNotFound) {
		s.log.Warn("DATABASE", fmt.Sprintf("payment for unknown order %s kept for later reconciliation", orderRef))
		return nil
	}
	if err != nil {
		return err
	}

	s.log.LogDatabase("RECONCILE", "payments", fmt.Sprintf("order %s: paid %s, fees %s, refunded %s",
		orderRef, totals.Paid, totals.Fees, totals.Refunded))
	return nil
}

// ReapplyWindow re-runs the per-order application for every order touched by
// a source's payments inside a window. Fees settle 24-48 hours late, so this
// is scheduled against recent windows rather than run once.
func (s *Service) ReapplyWindow(ctx context.Context, source string, start, end time.Time) (int, error) {
	records, err := s.store.ListByWindow(ctx, source, start, end)
	if err != nil {
		return 0, err
	}

	seen := map[string]bool{}
	applied := 0
	for _, record := range records {
		if seen[record.OrderRef] {
			continue
		}
		seen[record.OrderRef] = true
		if err := s.ApplyToOrder(ctx, record.OrderRef); err != nil {
			return applied, fmt.Errorf("reapply order %s: %w", record.OrderRef, err)
		}
		applied++
	}
	return applied, nil
}
