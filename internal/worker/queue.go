package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zapis/internal/domain"
	"zapis/internal/metrics"
	"zapis/internal/models"

	"github.com/rs/zerolog"
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Nack parks the job immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Queue is the durable job queue. The store is the source of truth; the wake-up
// index only tells the worker which ids to look at first.
type Queue struct {
	store  domain.JobStore
	wake   domain.JobQueue
	retry  RetryPolicy
	lease  time.Duration
	now    func() time.Time
	logger *zerolog.Logger
}

func NewQueue(store domain.JobStore, wake domain.JobQueue, retry RetryPolicy, lease time.Duration, logger *zerolog.Logger) *Queue {
	if lease <= 0 {
		lease = models.DefaultJobLease * time.Second
	}
	return &Queue{
		store:  store,
		wake:   wake,
		retry:  retry.withDefaults(),
		lease:  lease,
		now:    time.Now,
		logger: logger,
	}
}

// Enqueue inserts the job unless its idempotency key is already known.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) (bool, error) {
	created, err := q.store.CreateJob(ctx, job)
	if err != nil || !created {
		return created, err
	}
	q.wakeUp(ctx, job.ID, job.RunAt)
	return true, nil
}

// Dequeue claims up to limit due jobs. Woken ids go first, then the store is polled.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = models.DefaultJobBatchSize
	}
	now := q.now()

	var candidates []*models.Job
	seen := make(map[int64]bool)
	if q.wake != nil {
		ids, err := q.wake.PopDue(ctx, now, limit)
		if err != nil {
			q.logger.Warn().Err(err).Msg("wake-up index unavailable, polling store")
		}
		for _, id := range ids {
			job, err := q.store.GetJob(ctx, id)
			if errors.Is(err, domain.ErrJobNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			seen[id] = true
			candidates = append(candidates, job)
		}
	}

	due, err := q.store.GetDueJobs(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for _, job := range due {
		if !seen[job.ID] {
			seen[job.ID] = true
			candidates = append(candidates, job)
		}
	}

	claimed := make([]*models.Job, 0, len(candidates))
	for _, job := range candidates {
		if len(claimed) == limit {
			break
		}
		ok, err := q.store.ClaimJob(ctx, job.ID, now, now.Add(q.lease))
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}
		job.Status = models.JobProcessing
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (q *Queue) Ack(ctx context.Context, job *models.Job) error {
	if err := q.store.CompleteJob(ctx, job.ID); err != nil {
		return err
	}
	job.Status = models.JobCompleted
	return nil
}

// Nack schedules a retry with backoff, or parks the job as failed once the
// attempt budget is spent or the cause is permanent.
func (q *Queue) Nack(ctx context.Context, job *models.Job, cause error) error {
	attempt := job.Attempts + 1
	msg := cause.Error()

	if isPermanent(cause) || q.retry.Exhausted(attempt) {
		if err := q.store.FailJob(ctx, job.ID, attempt, msg); err != nil {
			return err
		}
		job.Status = models.JobFailed
		job.Attempts = attempt
		job.LastError = &msg
		metrics.IncJobDead()
		q.logger.Error().
			Int64("job_id", job.ID).
			Str("type", job.Type).
			Int("attempts", attempt).
			Str("error", msg).
			Msg("job moved to failed set")
		if q.wake != nil {
			if err := q.wake.PushDeadLetter(ctx, job); err != nil {
				q.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("dead letter push error")
			}
		}
		return nil
	}

	next := q.now().Add(q.retry.NextDelay(attempt))
	if err := q.store.RetryJob(ctx, job.ID, attempt, next, msg); err != nil {
		return err
	}
	job.Status = models.JobRetry
	job.Attempts = attempt
	job.RunAt = next
	job.LastError = &msg
	q.wakeUp(ctx, job.ID, next)
	return nil
}

func (q *Queue) FailedJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return q.store.GetFailedJobs(ctx, limit)
}

// Requeue gives a failed job a fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	now := q.now()
	if err := q.store.RequeueJob(ctx, id, now); err != nil {
		return err
	}
	q.wakeUp(ctx, id, now)
	q.logger.Info().Int64("job_id", id).Msg("job requeued")
	return nil
}

// ReleaseExpired returns jobs whose lease ran out to the queue.
func (q *Queue) ReleaseExpired(ctx context.Context) (int64, error) {
	n, err := q.store.ReleaseExpiredLeases(ctx, q.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Warn().Int64("released", n).Msg("released expired job leases")
	}
	return n, nil
}

// ReportDepth refreshes the queue depth gauge.
func (q *Queue) ReportDepth(ctx context.Context) error {
	counts, err := q.store.CountJobsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}
	metrics.SetQueueDepth(counts)
	return nil
}

func (q *Queue) wakeUp(ctx context.Context, id int64, runAt time.Time) {
	if q.wake == nil {
		return
	}
	if err := q.wake.Push(ctx, id, runAt); err != nil {
		q.logger.Warn().Err(err).Int64("job_id", id).Msg("wake-up push error")
	}
}
