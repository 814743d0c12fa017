package payments

import (
	"sort"

	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
)

// Totals is the reconciled monetary state of one order's payments.
type Totals struct {
	Paid     money.Amount `json:"paid"`
	Fees     money.Amount `json:"fees"`
	Refunded money.Amount `json:"refunded"`
	Pending  int          `json:"pending"`
	Failed   int          `json:"failed"`
}

// Reconcile recomputes per-order totals from the full payment set. Only
// completed payments contribute money; pending and failed ones are counted
// but excluded. Full recompute makes the operation re-runnable: when a fee
// settles a day later the corrected record simply replaces its contribution.
func Reconcile(payments []models.PaymentRecord) map[string]Totals {
	totals := make(map[string]Totals)

	for _, p := range payments {
		t := totals[p.OrderRef]
		switch p.Status {
		case models.PaymentPending:
			t.Pending++
		case models.PaymentFailed:
			t.Failed++
		case models.PaymentCompleted:
			if p.Kind == models.PaymentKindRefund {
				t.Refunded += p.Amount
			} else {
				t.Paid += p.Amount
			}
			t.Fees += p.Fee
		}
		totals[p.OrderRef] = t
	}

	return totals
}

// PaymentTenders derives the tender entries an order carries for its settled
// payments. Output is sorted by payment id so repeated application yields an
// identical tender list.
func PaymentTenders(payments []models.PaymentRecord) []models.Tender {
	tenders := make([]models.Tender, 0, len(payments))
	for _, p := range payments {
		if p.Status != models.PaymentCompleted {
			continue
		}
		tenders = append(tenders, models.Tender{
			Kind:   p.Kind,
			Status: string(p.Status),
			Amount: p.Amount,
			Ref:    p.PaymentID,
		})
	}
	sort.Slice(tenders, func(i, j int) bool { return tenders[i].Ref < tenders[j].Ref })
	return tenders
}
