package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// breaker tracks whether the primary backend is considered down.
type breaker struct {
	name      string
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

// usePrimary reports whether the next call should go to the primary. While the
// primary is down one probe is let through per recovery interval.
func (b *breaker) usePrimary() bool {
	if !b.isDown.Load() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Since(b.lastCheck) > recoveryInterval {
		b.lastCheck = time.Now()
		return true
	}
	return false
}

func (b *breaker) fail(err error) {
	if !b.isDown.Load() {
		b.logger.Error().Err(err).Str("backend", b.name).Msg("Primary backend failed, falling back to memory")
	}
	b.mu.Lock()
	b.lastCheck = time.Now()
	b.mu.Unlock()
	b.isDown.Store(true)
}

func (b *breaker) restore() {
	if b.isDown.Swap(false) {
		b.logger.Info().Str("backend", b.name).Msg("Primary backend recovered")
	}
}

type FailoverLocker struct {
	breaker
	primary  domain.Locker
	fallback domain.Locker
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		breaker:  breaker{name: "locker", logger: logger},
		primary:  primary,
		fallback: fallback,
	}
}

func (l *FailoverLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.usePrimary() {
		token, ok, err := l.primary.TryLock(ctx, key, ttl)
		if err == nil {
			l.restore()
			return token, ok, nil
		}
		l.fail(err)
	}
	return l.fallback.TryLock(ctx, key, ttl)
}

// Unlock releases the key on both backends; a token only matches where it was issued.
func (l *FailoverLocker) Unlock(ctx context.Context, key, token string) error {
	if !l.isDown.Load() {
		if err := l.primary.Unlock(ctx, key, token); err != nil {
			l.fail(err)
		}
	}
	return l.fallback.Unlock(ctx, key, token)
}

type FailoverJobQueue struct {
	breaker
	primary  domain.JobQueue
	fallback domain.JobQueue
}

func NewFailoverJobQueue(primary, fallback domain.JobQueue, logger *zerolog.Logger) *FailoverJobQueue {
	return &FailoverJobQueue{
		breaker:  breaker{name: "job_queue", logger: logger},
		primary:  primary,
		fallback: fallback,
	}
}

func (q *FailoverJobQueue) Push(ctx context.Context, id int64, runAt time.Time) error {
	if q.usePrimary() {
		err := q.primary.Push(ctx, id, runAt)
		if err == nil {
			q.restore()
			return nil
		}
		q.fail(err)
	}
	return q.fallback.Push(ctx, id, runAt)
}

// PopDue drains the fallback too, since it may hold ids pushed during an outage.
func (q *FailoverJobQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	if q.usePrimary() {
		got, err := q.primary.PopDue(ctx, now, limit)
		if err == nil {
			q.restore()
			ids = got
		} else {
			q.fail(err)
		}
	}
	if limit > 0 && len(ids) >= limit {
		return ids, nil
	}
	rest := limit - len(ids)
	if limit <= 0 {
		rest = 0
	}
	more, err := q.fallback.PopDue(ctx, now, rest)
	if err != nil {
		return ids, err
	}
	return append(ids, more...), nil
}

func (q *FailoverJobQueue) PushDeadLetter(ctx context.Context, job *models.Job) error {
	if q.usePrimary() {
		err := q.primary.PushDeadLetter(ctx, job)
		if err == nil {
			q.restore()
			return nil
		}
		q.fail(err)
	}
	return q.fallback.PushDeadLetter(ctx, job)
}
