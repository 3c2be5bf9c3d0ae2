package domain

import "errors"

// Kind groups errors by how callers must treat them.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindRule
	KindConflict
	KindInvalid
	KindExternal
	KindUnauthorized
)

// Error is a typed, non-retryable domain error.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrServiceNotFound = newError(KindNotFound, "service_not_found", "service not found")
	ErrBookingNotFound = newError(KindNotFound, "booking_not_found", "booking not found")
	ErrPromoNotFound   = newError(KindNotFound, "promo_not_found", "promo code not found")
	ErrJobNotFound     = newError(KindNotFound, "job_not_found", "job not found")

	ErrSlotUnavailable     = newError(KindRule, "slot_unavailable", "slot is not available")
	ErrAlreadyCancelled    = newError(KindRule, "already_cancelled", "booking is already cancelled")
	ErrAlreadyCompleted    = newError(KindRule, "already_completed", "booking is already completed")
	ErrCancellationWindow  = newError(KindRule, "cancellation_window_violation", "booking can no longer be cancelled")
	ErrInvalidState        = newError(KindRule, "invalid_state", "operation not allowed in current booking state")
	ErrAlreadyPaid         = newError(KindRule, "already_paid", "booking is already paid")
	ErrNotPaid             = newError(KindRule, "not_paid", "booking is not paid")
	ErrPaymentNotSucceeded = newError(KindRule, "payment_not_succeeded", "payment has not succeeded")
	ErrIntentMismatch      = newError(KindRule, "intent_mismatch", "payment intent does not belong to booking")
	ErrPromoRejected       = newError(KindRule, "promo_rejected", "promo code cannot be applied")

	ErrConcurrentModification = newError(KindConflict, "concurrent_modification", "booking was modified concurrently")

	ErrInvalidSlot    = newError(KindInvalid, "invalid_slot", "time is not on the slot grid")
	ErrInvalidDate    = newError(KindInvalid, "invalid_date", "invalid date")
	ErrInvalidAmount  = newError(KindInvalid, "invalid_amount", "invalid amount")
	ErrInvalidPayload = newError(KindInvalid, "invalid_payload", "malformed event payload")

	ErrProvider = newError(KindExternal, "provider_error", "payment provider error")

	ErrInvalidSignature = newError(KindUnauthorized, "invalid_signature", "invalid webhook signature")
	ErrUnauthenticated  = newError(KindUnauthorized, "unauthenticated", "requester identity required")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
