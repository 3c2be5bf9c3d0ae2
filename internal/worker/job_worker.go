package worker

import (
	"context"
	"time"

	"zapis/internal/metrics"
	"zapis/internal/models"

	"github.com/rs/zerolog"
)

// JobWorker drains the queue: claim, handle, ack or nack.
type JobWorker struct {
	queue        *Queue
	handler      Handler
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

func NewJobWorker(queue *Queue, handler Handler, pollInterval time.Duration, batchSize int, logger *zerolog.Logger) *JobWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = models.DefaultJobBatchSize
	}
	return &JobWorker{
		queue:        queue,
		handler:      handler,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start runs until ctx is done.
func (w *JobWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("job worker started")
	defer w.logger.Info().Msg("job worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("dequeue jobs error")
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce processes one batch and returns how many jobs were claimed.
func (w *JobWorker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.queue.Dequeue(ctx, w.batchSize)
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs), err
}

func (w *JobWorker) process(ctx context.Context, job *models.Job) {
	log := w.logger.With().Int64("job_id", job.ID).Str("type", job.Type).Logger()

	result, err := w.handler.Handle(ctx, job)
	if err != nil {
		metrics.IncJob(job.Type, "error")
		log.Warn().Err(err).Int("attempt", job.Attempts+1).Msg("job failed")
		if nackErr := w.queue.Nack(ctx, job, err); nackErr != nil {
			log.Error().Err(nackErr).Msg("nack job error")
		}
		return
	}

	metrics.IncJob(job.Type, result)
	if err := w.queue.Ack(ctx, job); err != nil {
		log.Error().Err(err).Msg("ack job error")
		return
	}
	log.Debug().Str("result", result).Msg("job done")
}
