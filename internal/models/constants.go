package models

// Booking lifecycle.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Payment axis of a booking.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Slot unavailability reasons.
const (
	SlotReasonPast  = "past"
	SlotReasonTaken = "taken"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

const (
	// DefaultLockTTL время жизни блокировки брони
	DefaultLockTTL = 10 // секунд

	// DefaultJobBatchSize сколько задач воркер забирает за один проход
	DefaultJobBatchSize = 20

	// DefaultJobLease время, на которое задача закрепляется за воркером
	DefaultJobLease = 5 * 60 // секунд
)
