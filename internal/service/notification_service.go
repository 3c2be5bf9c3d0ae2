package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DelayedKey identifies a time-triggered job for a recipient.
func DelayedKey(recipient, jobType string, when time.Time) string {
	return recipient + ":" + jobType + ":" + strconv.FormatInt(when.Unix(), 10)
}

// ImmediateKey identifies a job triggered by the event ref.
func ImmediateKey(recipient, jobType, ref string) string {
	return recipient + ":" + jobType + ":" + ref
}

// NotificationService turns booking events into durable jobs.
type NotificationService struct {
	queue          domain.JobEnqueuer
	reminderOffset time.Duration
	reviewOffset   time.Duration
	now            func() time.Time
	logger         *zerolog.Logger
}

func NewNotificationService(queue domain.JobEnqueuer, reminderOffset, reviewOffset time.Duration, logger *zerolog.Logger) *NotificationService {
	return &NotificationService{
		queue:          queue,
		reminderOffset: reminderOffset,
		reviewOffset:   reviewOffset,
		now:            time.Now,
		logger:         logger,
	}
}

// ScheduleAt enqueues a delayed job. A trigger already in the past is dropped.
func (s *NotificationService) ScheduleAt(
	ctx context.Context, jobType string, payload *models.NotificationPayload, when time.Time,
) (bool, error) {
	if when.Before(s.now()) {
		s.logger.Debug().
			Str("type", jobType).
			Str("recipient", payload.CustomerID).
			Time("when", when).
			Msg("skipping notification with past trigger")
		return false, nil
	}
	return s.enqueue(ctx, jobType, DelayedKey(payload.CustomerID, jobType, when), payload, when)
}

// SendNow enqueues a job for immediate dispatch. Without a ref every call is a
// distinct job.
func (s *NotificationService) SendNow(ctx context.Context, jobType string, payload *models.NotificationPayload) (bool, error) {
	ref := payload.Ref
	if ref == "" {
		ref = uuid.NewString()
	}
	return s.enqueue(ctx, jobType, ImmediateKey(payload.CustomerID, jobType, ref), payload, s.now())
}

// ScheduleCalendar enqueues a calendar side effect for the booking's current version.
func (s *NotificationService) ScheduleCalendar(ctx context.Context, jobType string, b *models.Booking) (bool, error) {
	payload := &models.NotificationPayload{
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		AppointmentAt: b.StartsAt,
	}
	key := fmt.Sprintf("booking:%s:%s:%d", b.ID, jobType, b.Version)
	return s.enqueue(ctx, jobType, key, payload, s.now())
}

// ScheduleFollowUps schedules the reminder before and the review request after
// the appointment. Each job records the instant it was computed for.
func (s *NotificationService) ScheduleFollowUps(ctx context.Context, b *models.Booking) error {
	payload := &models.NotificationPayload{
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		AppointmentAt: b.StartsAt,
	}
	if _, err := s.ScheduleAt(ctx, models.JobBookingReminder, payload, b.StartsAt.Add(-s.reminderOffset)); err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	if _, err := s.ScheduleAt(ctx, models.JobReviewRequest, payload, b.StartsAt.Add(s.reviewOffset)); err != nil {
		return fmt.Errorf("schedule review request: %w", err)
	}
	return nil
}

func (s *NotificationService) enqueue(
	ctx context.Context, jobType, key string, payload *models.NotificationPayload, runAt time.Time,
) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	job := &models.Job{
		IdempotencyKey: key,
		Type:           jobType,
		BookingID:      payload.BookingID,
		Recipient:      payload.CustomerID,
		Payload:        string(data),
		RunAt:          runAt.UTC(),
	}
	created, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	if !created {
		s.logger.Debug().Str("key", key).Msg("job already scheduled")
	}
	return created, nil
}
