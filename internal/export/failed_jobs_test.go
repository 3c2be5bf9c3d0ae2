package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"zapis/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeAdmin struct {
	jobs []*models.Job
	err  error
}

func (a *fakeAdmin) FailedJobs(_ context.Context, limit int) ([]*models.Job, error) {
	return a.jobs, a.err
}

func (a *fakeAdmin) Requeue(context.Context, int64) error { return nil }

func TestFailedJobs(t *testing.T) {
	lastErr := "smtp: 554 rejected"
	failedAt := time.Date(2024, 11, 18, 13, 0, 0, 0, time.UTC)
	admin := &fakeAdmin{jobs: []*models.Job{{
		ID:          7,
		Type:        models.JobPaymentReceipt,
		BookingID:   "b1",
		Recipient:   "c1",
		Attempts:    5,
		LastError:   &lastErr,
		RunAt:       time.Date(2024, 11, 18, 12, 0, 0, 0, time.UTC),
		ProcessedAt: &failedAt,
		Payload:     `{"customer_id":"c1"}`,
	}}}

	var buf bytes.Buffer
	n, err := FailedJobs(context.Background(), admin, 100, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "7", rows[1][0])
	assert.Equal(t, models.JobPaymentReceipt, rows[1][1])
	assert.Equal(t, lastErr, rows[1][5])
	assert.Equal(t, "2024-11-18T13:00:00Z", rows[1][7])
}

func TestFailedJobs_Error(t *testing.T) {
	var buf bytes.Buffer
	_, err := FailedJobs(context.Background(), &fakeAdmin{err: errors.New("db down")}, 10, &buf)
	assert.Error(t, err)
}

func TestFailedJobsToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	path, err := FailedJobsToFile(context.Background(), &fakeAdmin{}, 10, dir, time.Date(2024, 11, 18, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "failed_jobs_20241118_120000.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
