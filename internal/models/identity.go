package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CustomerIdentity bridges customer activity across channels. Only the keyed
// hash and opaque channel-native ids are stored; PII never reaches this row.
// Each channel writes only its own column, so concurrent merges commute.
type CustomerIdentity struct {
	bun.BaseModel `bun:"table:customer_identities"`

	CustomerHash string    `bun:"customer_hash,pk" json:"customer_hash"`
	StorefrontID string    `bun:"storefront_id,nullzero" json:"storefront_id,omitempty"`
	PosID        string    `bun:"pos_id,nullzero" json:"pos_id,omitempty"`
	BookingID    string    `bun:"booking_id,nullzero" json:"booking_id,omitempty"`
	UpdatedAt    time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// IdentityColumn maps a channel to the bridge column it owns.
func IdentityColumn(channel string) (string, bool) {
	switch channel {
	case ChannelStorefront:
		return "storefront_id", true
	case ChannelPOS:
		return "pos_id", true
	case ChannelBooking:
		return "booking_id", true
	}
	return "", false
}
