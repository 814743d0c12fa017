package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ms-commerce-sync/internal/config"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
)

// POSSignatureHeader carries the base64 HMAC-SHA256 of request-URI + body.
const POSSignatureHeader = "X-Pos-Signature"

// POS adapts the point-of-sale platform. Money arrives as integer minor
// units; webhook payloads are typed envelopes carrying either an order or a
// payment object. Payments (including fees settling 24-48h late) are also
// fetchable per window for the payment reconciler.
type POS struct {
	cfg    config.SourceConfig
	client *http.Client
}

func NewPOS(cfg config.SourceConfig) *POS {
	return &POS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (p *POS) Source() string { return models.ChannelPOS }

type posPage struct {
	Orders []json.RawMessage `json:"orders"`
	Cursor string            `json:"cursor"`
}

func (p *POS) FetchByDateRange(ctx context.Context, start, end time.Time, pageToken string) ([]json.RawMessage, string, error) {
	q := url.Values{}
	q.Set("begin_time", start.UTC().Format(time.RFC3339))
	q.Set("end_time", end.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(p.cfg.PageSize))
	if pageToken != "" {
		q.Set("cursor", pageToken)
	}

	var page posPage
	fetchURL := fmt.Sprintf("%s/v2/orders?%s", p.cfg.BaseURL, q.Encode())
	if err := getJSON(ctx, p.client, fetchURL, p.cfg.APIKey, &page); err != nil {
		return nil, "", err
	}

	return page.Orders, page.Cursor, nil
}

type posPaymentsPage struct {
	Payments []json.RawMessage `json:"payments"`
	Cursor   string            `json:"cursor"`
}

// FetchPayments pages through the payment feed for a window. The reconciler
// re-runs this over the same window later to pick up late-settling fees.
func (p *POS) FetchPayments(ctx context.Context, start, end time.Time, pageToken string) ([]models.PaymentRecord, string, error) {
	q := url.Values{}
	q.Set("begin_time", start.UTC().Format(time.RFC3339))
	q.Set("end_time", end.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(p.cfg.PageSize))
	if pageToken != "" {
		q.Set("cursor", pageToken)
	}

	var page posPaymentsPage
	fetchURL := fmt.Sprintf("%s/v2/payments?%s", p.cfg.BaseURL, q.Encode())
	if err := getJSON(ctx, p.client, fetchURL, p.cfg.APIKey, &page); err != nil {
		return nil, "", err
	}

	payments := make([]models.PaymentRecord, 0, len(page.Payments))
	for _, raw := range page.Payments {
		payment, err := p.normalizePayment(raw)
		if err != nil {
			return nil, "", err
		}
		payments = append(payments, *payment)
	}

	return payments, page.Cursor, nil
}

// VerifyWebhookSignature checks the HMAC over request-URI + raw body (the
// platform signs the delivery URL together with the payload).
func (p *POS) VerifyWebhookSignature(r *http.Request, body []byte) bool {
	if r == nil || r.URL == nil || len(body) == 0 {
		return false
	}
	signed := append([]byte(r.URL.RequestURI()), body...)
	expected := signBase64(p.cfg.WebhookSecret, signed)
	return verifySignature(expected, r.Header.Get(POSSignatureHeader))
}

type posEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type posMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type posOrder struct {
	ID                 string    `json:"id"`
	LocationID         string    `json:"location_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	State              string    `json:"state"`
	TotalMoney         posMoney  `json:"total_money"`
	TotalTaxMoney      posMoney  `json:"total_tax_money"`
	TotalDiscountMoney posMoney  `json:"total_discount_money"`
	ReturnAmounts      *struct {
		TotalMoney posMoney `json:"total_money"`
	} `json:"return_amounts"`
	Customer *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	LineItems []struct {
		UID        string   `json:"uid"`
		Name       string   `json:"name"`
		CatalogSKU string   `json:"catalog_sku"`
		Category   string   `json:"category"`
		Quantity   int      `json:"quantity"`
		TotalMoney posMoney `json:"total_money"`
	} `json:"line_items"`
	Tenders []struct {
		ID         string   `json:"id"`
		Type       string   `json:"type"`
		Status     string   `json:"status"`
		TotalMoney posMoney `json:"total_money"`
	} `json:"tenders"`
}

type posPayment struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	Status        string    `json:"status"`
	Type          string    `json:"type"`
	AmountMoney   posMoney  `json:"amount_money"`
	ProcessingFee posMoney  `json:"processing_fee_money"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Normalize handles both webhook envelopes ({type, data.object}) and bare
// order objects from the fetch feed.
func (p *POS) Normalize(raw json.RawMessage) (*models.Record, error) {
	var envelope posEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Type != "" && len(envelope.Data.Object) > 0 {
		if strings.HasPrefix(envelope.Type, "payment.") {
			payment, err := p.normalizePayment(envelope.Data.Object)
			if err != nil {
				return nil, err
			}
			return &models.Record{Kind: models.KindPayment, Payment: payment}, nil
		}
		return p.normalizeOrder(envelope.Data.Object)
	}

	return p.normalizeOrder(raw)
}

func (p *POS) normalizeOrder(raw json.RawMessage) (*models.Record, error) {
	var src posOrder
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("%w: pos order: %v", ErrMalformedPayload, err)
	}
	if src.ID == "" {
		return nil, fmt.Errorf("%w: pos order missing id", ErrMalformedPayload)
	}

	externalID := models.ExternalID(models.ChannelPOS, "order", src.ID)

	var refunds money.Amount
	if src.ReturnAmounts != nil {
		refunds = money.FromMinorUnits(src.ReturnAmounts.TotalMoney.Amount)
	}

	lines := make([]models.OrderLine, 0, len(src.LineItems))
	for _, item := range src.LineItems {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line quantity %d", ErrMalformedPayload, item.Quantity)
		}
		lines = append(lines, models.OrderLine{
			ExternalID:   models.ExternalID(models.ChannelPOS, "line", src.ID+"_"+item.UID),
			OrderID:      externalID,
			SKU:          item.CatalogSKU,
			ProductTitle: item.Name,
			Category:     item.Category,
			Qty:          item.Quantity,
			LineTotal:    money.FromMinorUnits(item.TotalMoney.Amount),
		})
	}

	tenders := make([]models.Tender, 0, len(src.Tenders))
	for _, t := range src.Tenders {
		tenders = append(tenders, models.Tender{
			Kind:   strings.ToLower(t.Type),
			Status: strings.ToLower(t.Status),
			Amount: money.FromMinorUnits(t.TotalMoney.Amount),
			Ref:    t.ID,
		})
	}

	order := &models.Order{
		ExternalID:    externalID,
		ChannelID:     models.ChannelPOS,
		LocationID:    src.LocationID,
		CreatedAt:     src.CreatedAt,
		UpdatedAt:     latestTime(src.UpdatedAt, src.CreatedAt),
		GrossTotal:    money.FromMinorUnits(src.TotalMoney.Amount),
		TaxTotal:      money.FromMinorUnits(src.TotalTaxMoney.Amount),
		DiscountTotal: money.FromMinorUnits(src.TotalDiscountMoney.Amount),
		RefundsTotal:  refunds,
		Tenders:       tenders,
		Raw:           rawMap(raw),
	}
	order.Normalize()

	pii := &models.CustomerPII{}
	if src.Customer != nil {
		pii.Email = src.Customer.Email
		pii.Phone = src.Customer.Phone
		pii.NativeID = src.Customer.ID
	}

	return &models.Record{
		Kind:     models.KindOrder,
		Order:    order,
		Lines:    lines,
		Customer: pii,
	}, nil
}

func (p *POS) normalizePayment(raw json.RawMessage) (*models.PaymentRecord, error) {
	var src posPayment
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("%w: pos payment: %v", ErrMalformedPayload, err)
	}
	if src.ID == "" || src.OrderID == "" {
		return nil, fmt.Errorf("%w: pos payment missing id or order_id", ErrMalformedPayload)
	}

	var status models.PaymentStatus
	switch strings.ToLower(src.Status) {
	case "completed":
		status = models.PaymentCompleted
	case "pending", "approved":
		status = models.PaymentPending
	case "failed", "canceled":
		status = models.PaymentFailed
	default:
		return nil, fmt.Errorf("%w: pos payment status %q", ErrMalformedPayload, src.Status)
	}

	kind := models.PaymentKindCharge
	if strings.EqualFold(src.Type, "refund") {
		kind = models.PaymentKindRefund
	}

	return &models.PaymentRecord{
		PaymentID: models.ExternalID(models.ChannelPOS, "payment", src.ID),
		OrderRef:  models.ExternalID(models.ChannelPOS, "order", src.OrderID),
		Source:    models.ChannelPOS,
		Status:    status,
		Kind:      kind,
		Amount:    money.FromMinorUnits(src.AmountMoney.Amount),
		Fee:       money.FromMinorUnits(src.ProcessingFee.Amount),
		CreatedAt: src.CreatedAt,
		UpdatedAt: latestTime(src.UpdatedAt, src.CreatedAt),
	}, nil
}
