package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"zapis/internal/models"

	"github.com/google/uuid"
)

type lockEntry struct {
	token     string
	expiresAt time.Time
}

type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]lockEntry), now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.locks[key]; ok && now.Before(entry.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.locks[key]; ok && entry.token == token {
		delete(l.locks, key)
	}
	return nil
}

type MemoryJobQueue struct {
	mu      sync.Mutex
	pending map[int64]time.Time
	dead    []*models.Job
}

func NewMemoryJobQueue() *MemoryJobQueue {
	return &MemoryJobQueue{pending: make(map[int64]time.Time)}
}

func (q *MemoryJobQueue) Push(_ context.Context, id int64, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[id] = runAt
	return nil
}

func (q *MemoryJobQueue) PopDue(_ context.Context, now time.Time, limit int) ([]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []int64
	for id, runAt := range q.pending {
		if !runAt.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := q.pending[due[i]], q.pending[due[j]]
		if a.Equal(b) {
			return due[i] < due[j]
		}
		return a.Before(b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, id := range due {
		delete(q.pending, id)
	}
	return due, nil
}

func (q *MemoryJobQueue) PushDeadLetter(_ context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	if len(q.dead) > deadJobsLimit {
		q.dead = q.dead[len(q.dead)-deadJobsLimit:]
	}
	return nil
}

// DeadLetters returns a copy of the parked jobs, oldest first.
func (q *MemoryJobQueue) DeadLetters() []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.Job(nil), q.dead...)
}
