package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ms-commerce-sync/internal/config"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/money"
)

// StorefrontSignatureHeader carries the base64 HMAC-SHA256 of the raw body.
const StorefrontSignatureHeader = "X-Storefront-Hmac-Sha256"

// Storefront adapts the web shop platform. Money arrives as decimal strings;
// webhook signatures cover the raw body alone.
type Storefront struct {
	cfg    config.SourceConfig
	client *http.Client
}

func NewStorefront(cfg config.SourceConfig) *Storefront {
	return &Storefront{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (s *Storefront) Source() string { return models.ChannelStorefront }

type storefrontPage struct {
	Orders       []json.RawMessage `json:"orders"`
	NextPageInfo string            `json:"next_page_info"`
}

func (s *Storefront) FetchByDateRange(ctx context.Context, start, end time.Time, pageToken string) ([]json.RawMessage, string, error) {
	q := url.Values{}
	q.Set("created_at_min", start.UTC().Format(time.RFC3339))
	q.Set("created_at_max", end.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(s.cfg.PageSize))
	q.Set("order", "created_at asc")
	if pageToken != "" {
		q.Set("page_info", pageToken)
	}

	var page storefrontPage
	fetchURL := fmt.Sprintf("%s/admin/api/orders.json?%s", s.cfg.BaseURL, q.Encode())
	if err := getJSON(ctx, s.client, fetchURL, s.cfg.APIKey, &page); err != nil {
		return nil, "", err
	}

	return page.Orders, page.NextPageInfo, nil
}

func (s *Storefront) VerifyWebhookSignature(r *http.Request, body []byte) bool {
	if r == nil || len(body) == 0 {
		return false
	}
	expected := signBase64(s.cfg.WebhookSecret, body)
	return verifySignature(expected, r.Header.Get(StorefrontSignatureHeader))
}

type storefrontOrder struct {
	ID             int64     `json:"id"`
	LocationID     string    `json:"location_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	TotalPrice     string    `json:"total_price"`
	TotalTax       string    `json:"total_tax"`
	TotalDiscounts string    `json:"total_discounts"`
	Gateway        string    `json:"gateway"`
	FinancialState string    `json:"financial_status"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Customer       *struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	LineItems []struct {
		ID          int64  `json:"id"`
		SKU         string `json:"sku"`
		Title       string `json:"title"`
		ProductType string `json:"product_type"`
		Quantity    int    `json:"quantity"`
		Price       string `json:"price"`
	} `json:"line_items"`
	Refunds []struct {
		Transactions []struct {
			Amount string `json:"amount"`
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"transactions"`
	} `json:"refunds"`
}

// Normalize converts a storefront order payload (webhooks re-deliver the full
// order on create, update and refund) into a canonical order. Refund totals
// are recomputed from the refunds array each time, so re-ingestion is
// idempotent rather than additive.
func (s *Storefront) Normalize(raw json.RawMessage) (*models.Record, error) {
	var src storefrontOrder
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("%w: storefront order: %v", ErrMalformedPayload, err)
	}
	if src.ID <= 0 {
		return nil, fmt.Errorf("%w: storefront order missing id", ErrMalformedPayload)
	}

	nativeID := strconv.FormatInt(src.ID, 10)
	externalID := models.ExternalID(models.ChannelStorefront, "order", nativeID)

	gross, err := money.ParseDecimal(src.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("%w: total_price: %v", ErrMalformedPayload, err)
	}
	tax, err := money.ParseDecimal(orZero(src.TotalTax))
	if err != nil {
		return nil, fmt.Errorf("%w: total_tax: %v", ErrMalformedPayload, err)
	}
	discounts, err := money.ParseDecimal(orZero(src.TotalDiscounts))
	if err != nil {
		return nil, fmt.Errorf("%w: total_discounts: %v", ErrMalformedPayload, err)
	}

	var refunds money.Amount
	for _, refund := range src.Refunds {
		for _, tx := range refund.Transactions {
			if tx.Kind != "refund" || tx.Status != "success" {
				continue
			}
			amount, err := money.ParseDecimal(tx.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: refund amount: %v", ErrMalformedPayload, err)
			}
			refunds += amount
		}
	}

	lines := make([]models.OrderLine, 0, len(src.LineItems))
	for _, item := range src.LineItems {
		unit, err := money.ParseDecimal(item.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: line price: %v", ErrMalformedPayload, err)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line quantity %d", ErrMalformedPayload, item.Quantity)
		}
		lines = append(lines, models.OrderLine{
			ExternalID:   models.ExternalID(models.ChannelStorefront, "line", strconv.FormatInt(item.ID, 10)),
			OrderID:      externalID,
			SKU:          item.SKU,
			ProductTitle: item.Title,
			Category:     item.ProductType,
			Qty:          item.Quantity,
			LineTotal:    unit * money.Amount(item.Quantity),
		})
	}

	order := &models.Order{
		ExternalID:    externalID,
		ChannelID:     models.ChannelStorefront,
		LocationID:    src.LocationID,
		CreatedAt:     src.CreatedAt,
		UpdatedAt:     latestTime(src.UpdatedAt, src.CreatedAt),
		GrossTotal:    gross,
		TaxTotal:      tax,
		DiscountTotal: discounts,
		RefundsTotal:  refunds,
		Tenders: []models.Tender{{
			Kind:   orDefault(src.Gateway, "unknown"),
			Status: orDefault(src.FinancialState, "unknown"),
			Amount: gross,
		}},
		Raw: rawMap(raw),
	}
	order.Normalize()

	pii := &models.CustomerPII{Email: src.Email, Phone: src.Phone}
	if src.Customer != nil {
		if pii.Email == "" {
			pii.Email = src.Customer.Email
		}
		if pii.Phone == "" {
			pii.Phone = src.Customer.Phone
		}
		if src.Customer.ID > 0 {
			pii.NativeID = strconv.FormatInt(src.Customer.ID, 10)
		}
	}

	return &models.Record{
		Kind:     models.KindOrder,
		Order:    order,
		Lines:    lines,
		Customer: pii,
	}, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func latestTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// rawMap retains the opaque source payload for audit/debug alongside the
// typed canonical fields.
func rawMap(raw json.RawMessage) map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal(raw, &m)
	return m
}
