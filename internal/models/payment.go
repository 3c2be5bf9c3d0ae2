package models

import "github.com/shopspring/decimal"

// Intent statuses reported by providers, normalized.
const (
	IntentPending   = "pending"
	IntentSucceeded = "succeeded"
	IntentFailed    = "failed"
)

// Provider event types after normalization.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Metadata keys bound to every intent.
const (
	MetaBookingID  = "booking_id"
	MetaCustomerID = "customer_id"
	MetaServiceID  = "service_id"
)

// PaymentIntent is the provider's view of an in-progress payment.
type PaymentIntent struct {
	ID           string
	ClientHandle string
	Amount       decimal.Decimal
	Currency     string
	Status       string
	Metadata     map[string]string
}

func (p *PaymentIntent) BookingID() string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[MetaBookingID]
}

type IntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

type RefundRequest struct {
	IntentID string
	Amount   decimal.Decimal
	Reason   string
}

type Refund struct {
	ID     string
	Amount decimal.Decimal
}

// ProviderEvent is a verified webhook event resolved against the provider.
// BookingID always comes from the intent metadata held by the provider.
type ProviderEvent struct {
	ID            string
	Type          string
	IntentID      string
	BookingID     string
	FailureReason string
}

// IntentResult is what a client needs to complete a payment.
type IntentResult struct {
	IntentID     string          `json:"intent_id"`
	ClientHandle string          `json:"client_handle"`
	Amount       decimal.Decimal `json:"amount"`
	Discount     decimal.Decimal `json:"discount"`
	Currency     string          `json:"currency"`
}
