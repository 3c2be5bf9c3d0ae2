package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is a customer's claim on one (date, slot) pair of the shared calendar.
type Booking struct {
	ID               string              `json:"id"`
	ServiceID        string              `json:"service_id"`
	CustomerID       string              `json:"customer_id"`
	Date             string              `json:"date"` // 2006-01-02
	Slot             string              `json:"time"` // 15:04
	StartsAt         time.Time           `json:"starts_at"`
	Status           string              `json:"status"`
	PaymentStatus    string              `json:"payment_status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	AmountDue        decimal.Decimal     `json:"amount_due"`
	// ChargedAmount is what the bound intent charges, after any promo discount.
	ChargedAmount    decimal.NullDecimal `json:"charged_amount"`
	Currency         string              `json:"currency"`
	Notes            string              `json:"notes,omitempty"`
	CalendarEventID  string              `json:"calendar_event_id,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Version          int64               `json:"version"`
}

// IsActive reports whether the booking still occupies its slot.
func (b *Booking) IsActive() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

func (b *Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentPaid
}

// ChargeAmount is the bound intent's amount, or the amount due before an
// intent exists.
func (b *Booking) ChargeAmount() decimal.Decimal {
	if b.ChargedAmount.Valid {
		return b.ChargedAmount.Decimal
	}
	return b.AmountDue
}

// SameSlot reports whether the booking sits on the given date and time.
func (b *Booking) SameSlot(date, slot string) bool {
	return b.Date == date && b.Slot == slot
}
