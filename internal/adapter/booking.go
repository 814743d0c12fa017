package adapter

import (
	"bytes"
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

// Booking webhook headers. The signature is the hex HMAC-SHA256 of
// request-URI + body + timestamp; the timestamp header must be present.
const (
	BookingSignatureHeader = "X-Booking-Signature"
	BookingTimestampHeader = "X-Booking-Timestamp"
)

// Booking adapts the experiences platform. Bookings land in the events fact
// stream; cancellation arrives as an attribute update (zeroed revenue plus
// flags inside raw), never a deletion.
type Booking struct {
	cfg    config.SourceConfig
	client *http.Client
}

func NewBooking(cfg config.SourceConfig) *Booking {
	return &Booking{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (b *Booking) Source() string { return models.ChannelBooking }

type bookingPage struct {
	Bookings      []json.RawMessage `json:"bookings"`
	NextPageToken string            `json:"next_page_token"`
}

func (b *Booking) FetchByDateRange(ctx context.Context, start, end time.Time, pageToken string) ([]json.RawMessage, string, error) {
	q := url.Values{}
	q.Set("start_time", start.UTC().Format(time.RFC3339))
	q.Set("end_time", end.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(b.cfg.PageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	var page bookingPage
	fetchURL := fmt.Sprintf("%s/v1/bookings?%s", b.cfg.BaseURL, q.Encode())
	if err := getJSON(ctx, b.client, fetchURL, b.cfg.APIKey, &page); err != nil {
		return nil, "", err
	}

	return page.Bookings, page.NextPageToken, nil
}

func (b *Booking) VerifyWebhookSignature(r *http.Request, body []byte) bool {
	if r == nil || r.URL == nil || len(body) == 0 {
		return false
	}
	timestamp := r.Header.Get(BookingTimestampHeader)
	if timestamp == "" {
		return false
	}

	var signed bytes.Buffer
	signed.WriteString(r.URL.RequestURI())
	signed.Write(body)
	signed.WriteString(timestamp)

	expected := signHex(b.cfg.WebhookSecret, signed.Bytes())
	return verifySignature(expected, r.Header.Get(BookingSignatureHeader))
}

type bookingRecord struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Status     string      `json:"status"`
	StartsAt   time.Time   `json:"starts_at"`
	EndsAt     *time.Time  `json:"ends_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Attendees  int         `json:"attendees"`
	Total      json.Number `json:"total"`
	AddOnTotal json.Number `json:"add_on_total"`
	Customer   *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
}

func (b *Booking) Normalize(raw json.RawMessage) (*models.Record, error) {
	var src bookingRecord
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("%w: booking: %v", ErrMalformedPayload, err)
	}
	if src.ID == "" {
		return nil, fmt.Errorf("%w: booking missing id", ErrMalformedPayload)
	}
	if src.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: booking missing starts_at", ErrMalformedPayload)
	}

	revenue, err := parseNumber(src.Total)
	if err != nil {
		return nil, fmt.Errorf("%w: booking total: %v", ErrMalformedPayload, err)
	}
	addOns, err := parseNumber(src.AddOnTotal)
	if err != nil {
		return nil, fmt.Errorf("%w: booking add_on_total: %v", ErrMalformedPayload, err)
	}

	rawFields := rawMap(raw)

	// Cancelled bookings keep their row; revenue zeroes out and the flag
	// lands in raw so downstream merges preserve the cancellation history.
	if src.Status == "cancelled" {
		revenue = 0
		addOns = 0
		rawFields["cancelled"] = true
	}

	event := &models.Event{
		ExternalID: models.ExternalID(models.ChannelBooking, "event", src.ID),
		EventType:  orDefault(src.Type, "booking"),
		StartsAt:   src.StartsAt,
		EndsAt:     src.EndsAt,
		Attendees:  src.Attendees,
		Revenue:    revenue,
		AddOnSales: addOns,
		UpdatedAt:  latestTime(src.UpdatedAt, src.StartsAt),
		Raw:        rawFields,
	}

	pii := &models.CustomerPII{}
	if src.Customer != nil {
		pii.Email = src.Customer.Email
		pii.Phone = src.Customer.Phone
		pii.NativeID = src.Customer.ID
	}

	return &models.Record{
		Kind:     models.KindEvent,
		Event:    event,
		Customer: pii,
	}, nil
}

// parseNumber routes JSON numbers through the fixed-point parser so the
// rounding policy stays in one place. Missing values are zero.
func parseNumber(n json.Number) (money.Amount, error) {
	if n == "" {
		return 0, nil
	}
	return money.ParseDecimal(n.String())
}
