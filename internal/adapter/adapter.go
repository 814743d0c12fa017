// Package adapter normalizes the three commerce platforms (storefront,
// point-of-sale, booking) into the canonical model. Each adapter owns its
// platform's pagination, webhook signature scheme, and money convention.
package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ms-commerce-sync/internal/models"
)

// Adapter is implemented once per source platform.
type Adapter interface {
	// Source returns the channel identifier (models.Channel*).
	Source() string

	// FetchByDateRange returns one page of raw records created inside
	// [start, end), ascending by creation time, plus the token for the next
	// page ("" when exhausted). Rate-limit responses surface as
	// ErrRateLimited after bounded retries; hard failures as
	// ErrBadCredentials or ErrMalformedPayload.
	FetchByDateRange(ctx context.Context, start, end time.Time, pageToken string) ([]json.RawMessage, string, error)

	// VerifyWebhookSignature checks the platform's HMAC signature over its
	// canonical signing string in constant time. Returns false, never an
	// error, on malformed input.
	VerifyWebhookSignature(r *http.Request, body []byte) bool

	// Normalize converts one raw payload into a canonical record. Pure and
	// deterministic: identical input always yields the identical record,
	// including the derived external id.
	Normalize(raw json.RawMessage) (*models.Record, error)
}
