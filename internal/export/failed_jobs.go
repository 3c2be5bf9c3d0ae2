package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"zapis/internal/domain"
	"zapis/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Failed jobs"

var headers = []string{"ID", "Type", "Booking", "Recipient", "Attempts", "Last error", "Run at", "Failed at", "Payload"}

// FailedJobs writes the failed job set to an XLSX workbook.
func FailedJobs(ctx context.Context, admin domain.JobAdmin, limit int, w io.Writer) (int, error) {
	jobs, err := admin.FailedJobs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("error getting failed jobs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return 0, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}

	for i, job := range jobs {
		row := i + 2
		if err := writeRow(f, row, job); err != nil {
			return 0, err
		}
	}

	_ = f.SetColWidth(sheetName, "B", "D", 22)
	_ = f.SetColWidth(sheetName, "F", "F", 50)
	_ = f.SetColWidth(sheetName, "G", "H", 20)
	_ = f.SetColWidth(sheetName, "I", "I", 80)

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("error writing workbook: %w", err)
	}
	return len(jobs), nil
}

func writeRow(f *excelize.File, row int, job *models.Job) error {
	lastErr := ""
	if job.LastError != nil {
		lastErr = *job.LastError
	}
	failedAt := ""
	if job.ProcessedAt != nil {
		failedAt = job.ProcessedAt.UTC().Format(time.RFC3339)
	}
	values := []any{
		job.ID, job.Type, job.BookingID, job.Recipient, job.Attempts, lastErr,
		job.RunAt.UTC().Format(time.RFC3339), failedAt, job.Payload,
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("error writing row %d: %w", row, err)
	}
	return nil
}

// FailedJobsToFile writes the report into dir and returns its path.
func FailedJobsToFile(ctx context.Context, admin domain.JobAdmin, limit int, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("failed_jobs_%s.xlsx", now.Format("20060102_150405")))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("error creating export file: %w", err)
	}
	defer file.Close()

	if _, err := FailedJobs(ctx, admin, limit, file); err != nil {
		return "", err
	}
	return path, nil
}
