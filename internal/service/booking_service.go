package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/events"
	"zapis/internal/metrics"
	"zapis/internal/models"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("zapis/internal/service")

// BookingPolicy holds the lifecycle rules of the calendar.
type BookingPolicy struct {
	CancellationWindow time.Duration
	LockTTL            time.Duration
}

type BookingService struct {
	repo      domain.BookingRepository
	catalog   domain.ServiceCatalog
	customers domain.CustomerRepository
	slots     *AvailabilityService
	locker    domain.Locker
	scheduler domain.NotificationScheduler
	eventBus  domain.EventPublisher
	policy    BookingPolicy
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewBookingService(
	repo domain.BookingRepository,
	catalog domain.ServiceCatalog,
	customers domain.CustomerRepository,
	slots *AvailabilityService,
	locker domain.Locker,
	scheduler domain.NotificationScheduler,
	eventBus domain.EventPublisher,
	policy BookingPolicy,
	logger *zerolog.Logger,
) *BookingService {
	if policy.CancellationWindow <= 0 {
		policy.CancellationWindow = 24 * time.Hour
	}
	if policy.LockTTL <= 0 {
		policy.LockTTL = models.DefaultLockTTL * time.Second
	}
	return &BookingService{
		repo:      repo,
		catalog:   catalog,
		customers: customers,
		slots:     slots,
		locker:    locker,
		scheduler: scheduler,
		eventBus:  eventBus,
		policy:    policy,
		now:       time.Now,
		logger:    logger,
	}
}

// Create claims a slot for the requester. The amount due is the service's
// effective price at this moment.
func (s *BookingService) Create(ctx context.Context, req domain.CreateBookingRequest) (*models.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(attribute.String("service.id", req.ServiceID), attribute.String("slot", req.Date+" "+req.Time))

	service, err := activeService(ctx, s.catalog, req.ServiceID)
	if err != nil {
		return nil, err
	}

	// Проверяем доступность
	startsAt, err := s.slots.CheckSlot(ctx, req.Date, req.Time)
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			metrics.IncBooking("slot_unavailable")
		}
		return nil, err
	}

	if err := s.customers.UpsertCustomer(ctx, &req.Customer); err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ServiceID:     service.ID,
		CustomerID:    req.Customer.ID,
		Date:          req.Date,
		Slot:          req.Time,
		StartsAt:      startsAt,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
		AmountDue:     service.EffectivePrice(),
		Currency:      service.Currency,
		Notes:         req.Notes,
	}

	// Уникальный индекс закрывает гонку между проверкой и вставкой
	if err := s.repo.CreateBookingWithLock(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			metrics.IncBooking("slot_unavailable")
		}
		return nil, err
	}
	metrics.IncBooking("created")
	span.SetAttributes(attribute.String("booking.id", booking.ID))

	s.publishEvent(events.EventBookingCreated, booking, "")
	s.notify(ctx, models.JobBookingConfirmation, booking, booking.ID)
	s.syncCalendar(ctx, models.JobCalendarCreate, booking)

	return booking, nil
}

// Cancel cancels the requester's booking if the appointment is at least the
// cancellation window away. Payment status is left as is.
func (s *BookingService) Cancel(ctx context.Context, bookingID, requesterID string) (*models.Booking, error) {
	var booking *models.Booking
	err := s.withBookingLock(ctx, bookingID, func() error {
		b, err := s.ownedBooking(ctx, bookingID, requesterID)
		if err != nil {
			return err
		}
		switch b.Status {
		case models.StatusCancelled:
			return domain.ErrAlreadyCancelled
		case models.StatusCompleted:
			return domain.ErrAlreadyCompleted
		}

		if lead := b.StartsAt.Sub(s.now()); lead < s.policy.CancellationWindow {
			return fmt.Errorf("%w: appointment starts in %s", domain.ErrCancellationWindow, lead.Truncate(time.Minute))
		}

		if err := s.repo.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusCancelled); err != nil {
			return err
		}
		b.Status = models.StatusCancelled
		b.Version++
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncBooking("cancelled")

	s.publishEvent(events.EventBookingCancelled, booking, "")
	s.notify(ctx, models.JobBookingCancellation, booking, fmt.Sprintf("%s:%d", booking.ID, booking.Version))
	s.syncCalendar(ctx, models.JobCalendarCancel, booking)

	return booking, nil
}

// Reschedule moves the booking to another slot in place, keeping its id and
// payment reference.
func (s *BookingService) Reschedule(ctx context.Context, bookingID, requesterID, newDate, newTime string) (*models.Booking, error) {
	var (
		booking *models.Booking
		moved   bool
	)
	err := s.withBookingLock(ctx, bookingID, func() error {
		b, err := s.ownedBooking(ctx, bookingID, requesterID)
		if err != nil {
			return err
		}
		if !b.IsActive() {
			return fmt.Errorf("%w: booking is %s", domain.ErrInvalidState, b.Status)
		}
		booking = b
		if b.SameSlot(newDate, newTime) {
			return nil
		}

		startsAt, err := s.slots.CheckSlot(ctx, newDate, newTime)
		if err != nil {
			return err
		}
		if err := s.repo.RescheduleBookingWithVersion(ctx, b.ID, b.Version, newDate, newTime, startsAt); err != nil {
			return err
		}
		b.Date, b.Slot, b.StartsAt = newDate, newTime, startsAt
		b.Version++
		moved = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		return booking, nil
	}
	metrics.IncBooking("rescheduled")

	s.publishEvent(events.EventBookingRescheduled, booking, "")
	s.syncCalendar(ctx, models.JobCalendarUpdate, booking)
	if booking.Status == models.StatusConfirmed && s.scheduler != nil {
		if err := s.scheduler.ScheduleFollowUps(ctx, booking); err != nil {
			s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("reschedule follow-ups error")
		}
	}

	return booking, nil
}

// Complete marks a confirmed booking as rendered.
func (s *BookingService) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	var booking *models.Booking
	err := s.withBookingLock(ctx, bookingID, func() error {
		b, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case models.StatusCancelled:
			return domain.ErrAlreadyCancelled
		case models.StatusCompleted:
			return domain.ErrAlreadyCompleted
		case models.StatusPending:
			return fmt.Errorf("%w: booking is not confirmed", domain.ErrInvalidState)
		}
		if err := s.repo.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusCompleted); err != nil {
			return err
		}
		b.Status = models.StatusCompleted
		b.Version++
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncBooking("completed")
	s.publishEvent(events.EventBookingCompleted, booking, "")
	return booking, nil
}

func (s *BookingService) ListForUser(ctx context.Context, customerID string) ([]*models.Booking, error) {
	return s.repo.GetCustomerBookings(ctx, customerID)
}

func (s *BookingService) NextUpcoming(ctx context.Context, customerID string) (*models.Booking, error) {
	return s.repo.GetNextUpcoming(ctx, customerID, s.now())
}

func (s *BookingService) ownedBooking(ctx context.Context, bookingID, requesterID string) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != requesterID {
		return nil, domain.ErrBookingNotFound
	}
	return b, nil
}

// withBookingLock runs fn while holding the per-booking lock.
func (s *BookingService) withBookingLock(ctx context.Context, bookingID string, fn func() error) error {
	return lockBooking(ctx, s.locker, s.policy.LockTTL, bookingID, s.logger, fn)
}

// lockBooking serializes writers of one booking across services and
// processes. A busy lock is reported as a concurrent modification.
func lockBooking(
	ctx context.Context, locker domain.Locker, ttl time.Duration, bookingID string, logger *zerolog.Logger, fn func() error,
) error {
	key := "booking:" + bookingID
	token, ok, err := locker.TryLock(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("acquire booking lock: %w", err)
	}
	if !ok {
		return domain.ErrConcurrentModification
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn().Err(err).Str("booking_id", bookingID).Msg("release booking lock error")
		}
	}()
	return fn()
}

func (s *BookingService) notify(ctx context.Context, jobType string, b *models.Booking, ref string) {
	if s.scheduler == nil {
		return
	}
	payload := &models.NotificationPayload{
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		AppointmentAt: b.StartsAt,
		Amount:        b.AmountDue.StringFixed(2),
		Currency:      b.Currency,
		Ref:           ref,
	}
	if _, err := s.scheduler.SendNow(ctx, jobType, payload); err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Str("type", jobType).Msg("notification enqueue error")
	}
}

// syncCalendar queues a best-effort calendar side effect.
func (s *BookingService) syncCalendar(ctx context.Context, jobType string, b *models.Booking) {
	if s.scheduler == nil {
		return
	}
	if _, err := s.scheduler.ScheduleCalendar(ctx, jobType, b); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", b.ID).Str("type", jobType).Msg("calendar enqueue error")
	}
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, reason string) {
	publishBookingEvent(s.eventBus, s.logger, eventType, b, reason)
}

func publishBookingEvent(bus domain.EventPublisher, logger *zerolog.Logger, eventType string, b *models.Booking, reason string) {
	if bus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		ServiceID:     b.ServiceID,
		Date:          b.Date,
		Time:          b.Slot,
		StartsAt:      b.StartsAt,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		AmountDue:     b.AmountDue.StringFixed(2),
		Reason:        reason,
	}

	if err := bus.PublishJSON(eventType, payload); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", b.ID).Msg("publish event error")
	}
}
