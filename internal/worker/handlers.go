package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"
	"zapis/internal/notify"

	"github.com/rs/zerolog"
)

// Handler results reported to metrics.
const (
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultSynced  = "synced"
)

type Handler interface {
	Handle(ctx context.Context, job *models.Job) (string, error)
}

// Dispatcher executes notification and calendar jobs.
type Dispatcher struct {
	bookings  domain.BookingRepository
	catalog   domain.ServiceCatalog
	customers domain.CustomerRepository
	renderer  *notify.Renderer
	sender    domain.Sender
	calendar  domain.CalendarClient
	logger    *zerolog.Logger
}

func NewDispatcher(
	bookings domain.BookingRepository,
	catalog domain.ServiceCatalog,
	customers domain.CustomerRepository,
	renderer *notify.Renderer,
	sender domain.Sender,
	calendar domain.CalendarClient,
	logger *zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		bookings:  bookings,
		catalog:   catalog,
		customers: customers,
		renderer:  renderer,
		sender:    sender,
		calendar:  calendar,
		logger:    logger,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, job *models.Job) (string, error) {
	var payload models.NotificationPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", Permanent(fmt.Errorf("decode payload: %w", err))
	}

	if job.IsCalendar() {
		return d.handleCalendar(ctx, job, &payload)
	}

	switch job.Type {
	case models.JobBookingReminder:
		return d.sendIf(ctx, job, &payload, models.StatusConfirmed)
	case models.JobReviewRequest:
		return d.sendIf(ctx, job, &payload, models.StatusConfirmed, models.StatusCompleted)
	default:
		return d.send(ctx, job, &payload)
	}
}

// sendIf delivers a delayed job only while a booking of the recipient is in one
// of the allowed states at the instant the job was computed for. Delayed jobs
// are keyed by recipient and instant, so the booking in the payload may have
// been cancelled and the same slot rebooked by the same customer.
func (d *Dispatcher) sendIf(ctx context.Context, job *models.Job, p *models.NotificationPayload, allowed ...string) (string, error) {
	b, err := d.bookings.GetBooking(ctx, p.BookingID)
	if err != nil && !errors.Is(err, domain.ErrBookingNotFound) {
		return "", err
	}
	if b == nil || !eligible(b, p.AppointmentAt, allowed) {
		b, err = d.currentBooking(ctx, p, allowed)
		if err != nil {
			return "", err
		}
		if b == nil {
			d.logger.Debug().
				Int64("job_id", job.ID).
				Str("booking_id", p.BookingID).
				Msg("stale job skipped")
			return ResultSkipped, nil
		}
		p.BookingID = b.ID
	}
	return d.send(ctx, job, p)
}

// currentBooking finds the recipient's booking at the payload's instant.
func (d *Dispatcher) currentBooking(ctx context.Context, p *models.NotificationPayload, allowed []string) (*models.Booking, error) {
	if p.CustomerID == "" {
		return nil, nil
	}
	bookings, err := d.bookings.GetCustomerBookings(ctx, p.CustomerID)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		if eligible(b, p.AppointmentAt, allowed) {
			return b, nil
		}
	}
	return nil, nil
}

func eligible(b *models.Booking, at time.Time, allowed []string) bool {
	if !b.StartsAt.Equal(at) {
		return false
	}
	for _, s := range allowed {
		if b.Status == s {
			return true
		}
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, job *models.Job, p *models.NotificationPayload) (string, error) {
	recipient, err := d.customers.GetCustomer(ctx, p.CustomerID)
	if err != nil {
		// Получатель без профиля всё равно получает сообщение по id
		d.logger.Debug().Err(err).Str("customer_id", p.CustomerID).Msg("customer lookup failed")
		recipient = &models.Customer{ID: p.CustomerID}
	}

	if p.ServiceName == "" && p.BookingID != "" {
		if b, err := d.bookings.GetBooking(ctx, p.BookingID); err == nil {
			if s, err := d.catalog.GetService(ctx, b.ServiceID); err == nil {
				p.ServiceName = s.Name
			}
		}
	}

	msg, err := d.renderer.Render(job.Type, recipient, p)
	if err != nil {
		return "", Permanent(err)
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return "", err
	}
	return ResultSent, nil
}

func (d *Dispatcher) handleCalendar(ctx context.Context, job *models.Job, p *models.NotificationPayload) (string, error) {
	if d.calendar == nil {
		return ResultSkipped, nil
	}
	b, err := d.bookings.GetBooking(ctx, p.BookingID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return ResultSkipped, nil
	}
	if err != nil {
		return "", err
	}

	switch job.Type {
	case models.JobCalendarCancel:
		if b.CalendarEventID == "" {
			return ResultSkipped, nil
		}
		if err := d.calendar.CancelEvent(ctx, b.CalendarEventID); err != nil {
			return "", err
		}
		return ResultSynced, nil

	case models.JobCalendarCreate, models.JobCalendarUpdate:
		if !b.IsActive() {
			return ResultSkipped, nil
		}
		service, err := d.catalog.GetService(ctx, b.ServiceID)
		if err != nil {
			return "", err
		}
		if b.CalendarEventID != "" {
			if err := d.calendar.UpdateEvent(ctx, b.CalendarEventID, b, service); err != nil {
				return "", err
			}
			return ResultSynced, nil
		}
		eventID, err := d.calendar.CreateEvent(ctx, b, service)
		if err != nil {
			return "", err
		}
		if err := d.bookings.SetCalendarEventID(ctx, b.ID, eventID); err != nil {
			return "", err
		}
		return ResultSynced, nil
	}
	return "", Permanent(fmt.Errorf("unknown calendar job %q", job.Type))
}
