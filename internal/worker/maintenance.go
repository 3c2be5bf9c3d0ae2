package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	leaseSweepSchedule = "@every 1m"
	depthSchedule      = "@every 30s"
)

// Maintenance runs periodic upkeep around the job queue: returning abandoned
// leases, publishing queue depth and, optionally, the database backup.
type Maintenance struct {
	cron    *cron.Cron
	queue   *Queue
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewMaintenance(queue *Queue, logger *zerolog.Logger) *Maintenance {
	return &Maintenance{
		cron:    cron.New(),
		queue:   queue,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// AddBackup schedules fn with a standard five-field cron expression.
func (m *Maintenance) AddBackup(schedule string, fn func()) error {
	if _, err := m.cron.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("schedule backup %q: %w", schedule, err)
	}
	m.logger.Info().Str("schedule", schedule).Msg("backup scheduled")
	return nil
}

func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc(leaseSweepSchedule, m.SweepLeases); err != nil {
		return fmt.Errorf("schedule lease sweep: %w", err)
	}
	if _, err := m.cron.AddFunc(depthSchedule, m.ReportDepth); err != nil {
		return fmt.Errorf("schedule depth report: %w", err)
	}
	m.cron.Start()
	return nil
}

// Stop waits for running tasks to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) SweepLeases() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if _, err := m.queue.ReleaseExpired(ctx); err != nil {
		m.logger.Error().Err(err).Msg("release expired leases")
	}
}

func (m *Maintenance) ReportDepth() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.queue.ReportDepth(ctx); err != nil {
		m.logger.Error().Err(err).Msg("report queue depth")
	}
}
