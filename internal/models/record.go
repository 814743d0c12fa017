package models

// RecordKind tags the canonical record union.
type RecordKind string

const (
	KindOrder   RecordKind = "order"
	KindEvent   RecordKind = "event"
	KindPayment RecordKind = "payment"
)

// CustomerPII carries raw identity fields from normalization to the identity
// resolver. It lives only in memory; persistence sees the derived hash.
type CustomerPII struct {
	Email    string
	Phone    string
	NativeID string
}

// Record is the canonical, source-agnostic output of Adapter.Normalize.
// Exactly one of Order/Event/Payment is set, matching Kind.
type Record struct {
	Kind     RecordKind
	Order    *Order
	Lines    []OrderLine
	Event    *Event
	Payment  *PaymentRecord
	Customer *CustomerPII
}
