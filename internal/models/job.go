package models

import "time"

// Job types.
const (
	JobBookingConfirmation = "booking_confirmation"
	JobBookingCancellation = "booking_cancellation"
	JobPaymentReceipt      = "payment_receipt"
	JobPaymentFailed       = "payment_failed"
	JobWelcome             = "welcome"
	JobPasswordReset       = "password_reset"
	JobBookingReminder     = "booking_reminder"
	JobReviewRequest       = "review_request"

	JobCalendarCreate = "calendar_create"
	JobCalendarUpdate = "calendar_update"
	JobCalendarCancel = "calendar_cancel"
)

// Job statuses.
const (
	JobPending    = "pending"
	JobRetry      = "retry"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job is a durable unit of asynchronous work: a notification delivery or a
// calendar side effect.
type Job struct {
	ID             int64      `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	Type           string     `json:"type"`
	BookingID      string     `json:"booking_id,omitempty"`
	Recipient      string     `json:"recipient,omitempty"`
	Payload        string     `json:"payload"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"last_error,omitempty"`
	RunAt          time.Time  `json:"run_at"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// IsCalendar reports whether the job drives the external calendar.
func (j *Job) IsCalendar() bool {
	switch j.Type {
	case JobCalendarCreate, JobCalendarUpdate, JobCalendarCancel:
		return true
	}
	return false
}

// NotificationPayload is the template data carried by notification jobs.
type NotificationPayload struct {
	BookingID     string            `json:"booking_id,omitempty"`
	CustomerID    string            `json:"customer_id"`
	ServiceName   string            `json:"service_name,omitempty"`
	AppointmentAt time.Time         `json:"appointment_at,omitempty"`
	Amount        string            `json:"amount,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Ref           string            `json:"ref,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
}

// Message is a rendered notification ready for a sender.
type Message struct {
	Recipient *Customer
	Subject   string
	Body      string
}
