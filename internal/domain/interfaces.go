package domain

import (
	"context"
	"time"

	"zapis/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

type BookingRepository interface {
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetTakenSlots(ctx context.Context, date string) (map[string]bool, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status string) error
	RescheduleBookingWithVersion(ctx context.Context, id string, fromVersion int64, date, slot string, startsAt time.Time) error
	GetCustomerBookings(ctx context.Context, customerID string) ([]*models.Booking, error)
	GetNextUpcoming(ctx context.Context, customerID string, now time.Time) (*models.Booking, error)
	SetPaymentReference(ctx context.Context, id, reference string, charged decimal.Decimal) (bool, error)
	MarkPaid(ctx context.Context, id string, credit int64) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) (bool, error)
	MarkRefunded(ctx context.Context, id string) (bool, error)
	SetCalendarEventID(ctx context.Context, id, eventID string) error
}

type ServiceCatalog interface {
	GetService(ctx context.Context, id string) (*models.Service, error)
	GetActiveServices(ctx context.Context) ([]*models.Service, error)
}

type PromoCodeStore interface {
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
}

type CustomerRepository interface {
	UpsertCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
}

// PaymentEventLog is the audit trail of provider deliveries.
type PaymentEventLog interface {
	RecordPaymentEvent(ctx context.Context, ev *models.ProviderEvent, outcome string) (int, error)
}

// JobStore is the durable side of the job queue.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) (bool, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	ClaimJob(ctx context.Context, id int64, now, leaseUntil time.Time) (bool, error)
	CompleteJob(ctx context.Context, id int64) error
	RetryJob(ctx context.Context, id int64, attempts int, nextRun time.Time, lastErr string) error
	FailJob(ctx context.Context, id int64, attempts int, lastErr string) error
	GetFailedJobs(ctx context.Context, limit int) ([]*models.Job, error)
	RequeueJob(ctx context.Context, id int64, now time.Time) error
	ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error)
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
}

// JobQueue is the wake-up index in front of the job store. Entries are hints;
// the store decides whether a job is still due.
type JobQueue interface {
	Push(ctx context.Context, id int64, runAt time.Time) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	PushDeadLetter(ctx context.Context, job *models.Job) error
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) (bool, error)
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type PaymentProvider interface {
	CreateIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	Refund(ctx context.Context, req models.RefundRequest) (*models.Refund, error)
	// ResolveEvent turns a verified webhook body into a normalized event,
	// taking the booking id from the provider's own record of the intent.
	ResolveEvent(ctx context.Context, raw []byte) (*models.ProviderEvent, error)
}

type CalendarClient interface {
	CreateEvent(ctx context.Context, booking *models.Booking, service *models.Service) (string, error)
	UpdateEvent(ctx context.Context, eventID string, booking *models.Booking, service *models.Service) error
	CancelEvent(ctx context.Context, eventID string) error
}

type Sender interface {
	Send(ctx context.Context, msg *models.Message) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type NotificationScheduler interface {
	ScheduleAt(ctx context.Context, jobType string, payload *models.NotificationPayload, when time.Time) (bool, error)
	SendNow(ctx context.Context, jobType string, payload *models.NotificationPayload) (bool, error)
	ScheduleCalendar(ctx context.Context, jobType string, booking *models.Booking) (bool, error)
	ScheduleFollowUps(ctx context.Context, booking *models.Booking) error
}

type SlotResolver interface {
	AvailableSlots(ctx context.Context, serviceID, date string) ([]models.Slot, error)
}

type PromoValidator interface {
	Validate(ctx context.Context, code string, amount decimal.Decimal) (*models.PromoResult, error)
}

type BookingManager interface {
	Create(ctx context.Context, req CreateBookingRequest) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, requesterID string) (*models.Booking, error)
	Reschedule(ctx context.Context, bookingID, requesterID, newDate, newTime string) (*models.Booking, error)
	Complete(ctx context.Context, bookingID string) (*models.Booking, error)
	ListForUser(ctx context.Context, customerID string) ([]*models.Booking, error)
	NextUpcoming(ctx context.Context, customerID string) (*models.Booking, error)
}

type PaymentCoordinator interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*models.IntentResult, error)
	Confirm(ctx context.Context, bookingID, intentID string) (*models.Booking, error)
	HandleWebhook(ctx context.Context, raw []byte) error
	Refund(ctx context.Context, bookingID string, amount decimal.NullDecimal, reason string) (*models.Booking, error)
}

type JobAdmin interface {
	FailedJobs(ctx context.Context, limit int) ([]*models.Job, error)
	Requeue(ctx context.Context, id int64) error
}

// CreateBookingRequest carries the requester identity alongside the slot.
type CreateBookingRequest struct {
	Customer  models.Customer
	ServiceID string
	Date      string
	Time      string
	Notes     string
}

type CreateIntentRequest struct {
	BookingID   string
	RequesterID string
	Amount      decimal.NullDecimal
	PromoCode   string
	Metadata    map[string]string
}
