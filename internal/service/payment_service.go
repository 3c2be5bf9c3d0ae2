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
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Outcomes recorded for provider events.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeOrphaned  = "orphaned"
	OutcomeStale     = "stale"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
)

// PaymentService reconciles an external payment provider with booking state.
// Every write is a conditional "set to target state", so the webhook and the
// client confirmation may race and redeliver freely.
type PaymentService struct {
	repo       domain.BookingRepository
	promos     domain.PromoValidator
	provider   domain.PaymentProvider
	audit      domain.PaymentEventLog
	scheduler  domain.NotificationScheduler
	eventBus   domain.EventPublisher
	locker     domain.Locker
	lockTTL    time.Duration
	creditUnit decimal.Decimal
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewPaymentService(
	repo domain.BookingRepository,
	promos domain.PromoValidator,
	provider domain.PaymentProvider,
	audit domain.PaymentEventLog,
	scheduler domain.NotificationScheduler,
	eventBus domain.EventPublisher,
	locker domain.Locker,
	creditUnit decimal.Decimal,
	logger *zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:       repo,
		promos:     promos,
		provider:   provider,
		audit:      audit,
		scheduler:  scheduler,
		eventBus:   eventBus,
		locker:     locker,
		lockTTL:    models.DefaultLockTTL * time.Second,
		creditUnit: creditUnit,
		now:        time.Now,
		logger:     logger,
	}
}

// LoyaltyCredit is floor(amount / unit), or zero for a non-positive unit.
func LoyaltyCredit(amount, unit decimal.Decimal) int64 {
	if !unit.IsPositive() || !amount.IsPositive() {
		return 0
	}
	return amount.Div(unit).Floor().IntPart()
}

func (s *PaymentService) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*models.IntentResult, error) {
	ctx, span := tracer.Start(ctx, "payment.create_intent")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", req.BookingID))

	b, err := s.repo.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != "" && b.CustomerID != req.RequesterID {
		return nil, domain.ErrBookingNotFound
	}
	if b.IsPaid() {
		return nil, domain.ErrAlreadyPaid
	}
	if !b.IsActive() || b.PaymentStatus == models.PaymentRefunded {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidState, b.Status)
	}

	amount := b.AmountDue
	if req.Amount.Valid {
		amount = req.Amount.Decimal
	}
	if !amount.IsPositive() || amount.GreaterThan(b.AmountDue) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount.String())
	}

	discount := decimal.Zero
	if req.PromoCode != "" {
		res, err := s.promos.Validate(ctx, req.PromoCode, amount)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, fmt.Errorf("%w: %s", domain.ErrPromoRejected, res.Reason)
		}
		discount = res.Discount
	}
	charge := amount.Sub(discount)
	if !charge.IsPositive() {
		return nil, fmt.Errorf("%w: nothing to charge after discount", domain.ErrInvalidAmount)
	}

	metadata := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[models.MetaBookingID] = b.ID
	metadata[models.MetaCustomerID] = b.CustomerID
	metadata[models.MetaServiceID] = b.ServiceID

	intent, err := s.provider.CreateIntent(ctx, models.IntentRequest{
		Amount:   charge,
		Currency: b.Currency,
		Metadata: metadata,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create intent")
		return nil, providerError(err)
	}

	bound, err := s.repo.SetPaymentReference(ctx, b.ID, intent.ID, charge)
	if err != nil {
		return nil, err
	}
	if !bound {
		// Состояние изменилось между чтением и записью
		current, err := s.repo.GetBooking(ctx, b.ID)
		if err == nil && current.IsPaid() {
			return nil, domain.ErrAlreadyPaid
		}
		return nil, domain.ErrInvalidState
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("intent_id", intent.ID).
		Str("amount", charge.StringFixed(2)).
		Msg("payment intent created")

	return &models.IntentResult{
		IntentID:     intent.ID,
		ClientHandle: intent.ClientHandle,
		Amount:       charge,
		Discount:     discount,
		Currency:     b.Currency,
	}, nil
}

// Confirm is the client-driven nudge: the provider is asked for the intent
// status and a success is applied exactly like the webhook would.
func (s *PaymentService) Confirm(ctx context.Context, bookingID, intentID string) (*models.Booking, error) {
	ctx, span := tracer.Start(ctx, "payment.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.String("intent.id", intentID))

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.PaymentReference != intentID {
		return nil, domain.ErrIntentMismatch
	}
	if b.IsPaid() {
		return b, nil
	}

	intent, err := s.provider.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, providerError(err)
	}
	if intent.BookingID() != b.ID {
		return nil, domain.ErrIntentMismatch
	}
	if intent.Status != models.IntentSucceeded {
		return nil, fmt.Errorf("%w: intent is %s", domain.ErrPaymentNotSucceeded, intent.Status)
	}

	b, _, err = s.applySuccess(ctx, b.ID, intentID)
	return b, err
}

// HandleWebhook resolves an already verified webhook body through the provider
// and applies it.
func (s *PaymentService) HandleWebhook(ctx context.Context, raw []byte) error {
	ev, err := s.provider.ResolveEvent(ctx, raw)
	if err != nil {
		return providerError(err)
	}
	if ev == nil {
		return nil
	}
	return s.HandleProviderEvent(ctx, ev)
}

// HandleProviderEvent applies a normalized provider event. Unknown types are
// ignored. Replays are no-ops because each transition is conditional.
func (s *PaymentService) HandleProviderEvent(ctx context.Context, ev *models.ProviderEvent) error {
	ctx, span := tracer.Start(ctx, "payment.handle_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
		attribute.String("booking.id", ev.BookingID),
	)

	var (
		outcome string
		err     error
	)
	switch ev.Type {
	case models.EventPaymentSucceeded:
		if ev.BookingID == "" {
			outcome, err = OutcomeRejected, domain.ErrBookingNotFound
			break
		}
		_, outcome, err = s.applySuccess(ctx, ev.BookingID, ev.IntentID)
	case models.EventPaymentFailed:
		outcome, err = s.applyFailure(ctx, ev)
	default:
		outcome = OutcomeIgnored
		s.logger.Info().Str("event_id", ev.ID).Str("type", ev.Type).Msg("ignoring provider event")
	}
	if err != nil {
		outcome = OutcomeRejected
		span.RecordError(err)
		span.SetStatus(codes.Error, "handle event")
	}

	metrics.IncPaymentEvent(ev.Type, outcome)
	if s.audit != nil {
		count, auditErr := s.audit.RecordPaymentEvent(ctx, ev, outcome)
		if auditErr != nil {
			s.logger.Warn().Err(auditErr).Str("event_id", ev.ID).Msg("payment event audit error")
		} else if count > 1 {
			s.logger.Info().Str("event_id", ev.ID).Int("received", count).Msg("provider event redelivered")
		}
	}
	return err
}

// applySuccess sets the booking to paid and confirmed. Credit, receipt and
// follow-ups happen only when this call performed the transition.
func (s *PaymentService) applySuccess(ctx context.Context, bookingID, intentID string) (*models.Booking, string, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	if b.Status == models.StatusCancelled {
		return s.orphaned(b, intentID), OutcomeOrphaned, nil
	}

	credit := LoyaltyCredit(b.AmountDue, s.creditUnit)
	transitioned, err := s.repo.MarkPaid(ctx, b.ID, credit)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	b, err = s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	if !transitioned {
		// Отмена могла пройти между чтением и MarkPaid
		if b.Status == models.StatusCancelled && !b.IsPaid() {
			return s.orphaned(b, intentID), OutcomeOrphaned, nil
		}
		return b, OutcomeDuplicate, nil
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("intent_id", intentID).
		Int64("loyalty_credit", credit).
		Msg("booking paid")
	publishBookingEvent(s.eventBus, s.logger, events.EventBookingConfirmed, b, "")

	if s.scheduler != nil {
		ref := intentID
		if ref == "" {
			ref = b.PaymentReference
		}
		s.sendNow(ctx, models.JobPaymentReceipt, b, ref, "")
		if b.StartsAt.After(s.now()) {
			if err := s.scheduler.ScheduleFollowUps(ctx, b); err != nil {
				s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("schedule follow-ups error")
			}
		}
	}
	return b, OutcomeApplied, nil
}

// orphaned reports money taken for a booking that is no longer active.
func (s *PaymentService) orphaned(b *models.Booking, intentID string) *models.Booking {
	s.logger.Warn().
		Str("booking_id", b.ID).
		Str("intent_id", intentID).
		Msg("payment succeeded for cancelled booking")
	publishBookingEvent(s.eventBus, s.logger, events.EventPaymentOrphaned, b, "intent "+intentID)
	return b
}

func (s *PaymentService) applyFailure(ctx context.Context, ev *models.ProviderEvent) (string, error) {
	b, err := s.repo.GetBooking(ctx, ev.BookingID)
	if err != nil {
		return OutcomeRejected, err
	}
	if ev.IntentID != "" && b.PaymentReference != ev.IntentID {
		s.logger.Info().Str("booking_id", b.ID).Str("intent_id", ev.IntentID).Msg("failure for superseded intent")
		return OutcomeStale, nil
	}
	transitioned, err := s.repo.MarkPaymentFailed(ctx, b.ID)
	if err != nil {
		return OutcomeRejected, err
	}
	if !transitioned {
		return OutcomeDuplicate, nil
	}
	b.PaymentStatus = models.PaymentFailed
	publishBookingEvent(s.eventBus, s.logger, events.EventPaymentFailed, b, ev.FailureReason)
	if s.scheduler != nil {
		s.sendNow(ctx, models.JobPaymentFailed, b, ev.ID, ev.FailureReason)
	}
	return OutcomeApplied, nil
}

// Refund returns money for a paid booking and cancels it. Amount defaults to
// what the customer was charged. The provider call runs under the booking lock,
// so concurrent refunds cannot both reach it.
func (s *PaymentService) Refund(ctx context.Context, bookingID string, amount decimal.NullDecimal, reason string) (*models.Booking, error) {
	ctx, span := tracer.Start(ctx, "payment.refund")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID))

	var (
		b            *models.Booking
		refund       *models.Refund
		refundAmount decimal.Decimal
		transitioned bool
	)
	err := lockBooking(ctx, s.locker, s.lockTTL, bookingID, s.logger, func() error {
		var err error
		b, err = s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsPaid() {
			return domain.ErrNotPaid
		}
		charged := b.ChargeAmount()
		refundAmount = charged
		if amount.Valid {
			refundAmount = amount.Decimal
		}
		if !refundAmount.IsPositive() || refundAmount.GreaterThan(charged) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, refundAmount.String())
		}

		refund, err = s.provider.Refund(ctx, models.RefundRequest{
			IntentID: b.PaymentReference,
			Amount:   refundAmount,
			Reason:   reason,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refund")
			return providerError(err)
		}

		transitioned, err = s.repo.MarkRefunded(ctx, b.ID)
		if err != nil {
			return err
		}
		b, err = s.repo.GetBooking(ctx, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.logger.Info().
			Str("booking_id", b.ID).
			Str("refund_id", refund.ID).
			Str("amount", refundAmount.StringFixed(2)).
			Msg("booking refunded")
		publishBookingEvent(s.eventBus, s.logger, events.EventPaymentRefunded, b, reason)
		if s.scheduler != nil {
			if _, err := s.scheduler.ScheduleCalendar(ctx, models.JobCalendarCancel, b); err != nil {
				s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("calendar enqueue error")
			}
		}
	}
	return b, nil
}

func (s *PaymentService) sendNow(ctx context.Context, jobType string, b *models.Booking, ref, reason string) {
	payload := &models.NotificationPayload{
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		AppointmentAt: b.StartsAt,
		Amount:        b.ChargeAmount().StringFixed(2),
		Currency:      b.Currency,
		Reason:        reason,
		Ref:           ref,
	}
	if _, err := s.scheduler.SendNow(ctx, jobType, payload); err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Str("type", jobType).Msg("notification enqueue error")
	}
}

// providerError keeps typed errors and marks the rest as provider failures.
func providerError(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrProvider, err)
}
