package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/repo-auditor/internal/entity"
	"github.com/joseph-ayodele/repo-auditor/internal/repository"
)

// Service is a tiny façade over the job repository that produces XLSX bytes
// for the jobs register export.
type Service struct {
	jobs   repository.JobRepository
	logger *slog.Logger
}

func NewService(jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) listing audit jobs.
// With a user id it covers that user's jobs; with uuid.Nil it covers all jobs.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> every job in scope.
func (s *Service) ExportJobsXLSX(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize dates (date-only, UTC)
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}

	var (
		jobs []*entity.Job
		err  error
	)
	if userID == uuid.Nil {
		jobs, err = s.jobs.List(ctx)
	} else {
		jobs, err = s.jobs.ListByUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	jobs = filterByDate(jobs, fromDate, toDate)

	f := excelize.NewFile()
	const sheet = "Jobs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Job ID",
		"Repository",
		"Branch",
		"Commit",
		"Status",
		"Submitted",
		"Completed",
		"Duration (s)",
		"Cost",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range jobs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, j.ID.String())
		write(2, deref(j.RepoName))
		write(3, deref(j.Branch))
		write(4, shortCommit(deref(j.Commit)))
		write(5, string(j.Status))
		write(6, j.CreatedAt.UTC().Format("2006-01-02 15:04"))
		if j.CompletedAt != nil {
			write(7, j.CompletedAt.UTC().Format("2006-01-02 15:04"))
		} else {
			write(7, "")
		}
		if j.DurationSeconds != nil {
			write(8, *j.DurationSeconds)
		} else {
			write(8, "")
		}
		write(9, deref(j.Cost))
		write(10, truncate(deref(j.ErrorMessage), 140))

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 28) // repo
	_ = f.SetColWidth(sheet, "C", "D", 14) // branch/commit
	_ = f.SetColWidth(sheet, "E", "E", 12) // status
	_ = f.SetColWidth(sheet, "F", "G", 17) // timestamps
	_ = f.SetColWidth(sheet, "J", "J", 48) // error

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID.String(),
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// filterByDate keeps jobs submitted inside the window; the upper bound is
// inclusive of the whole day.
func filterByDate(jobs []*entity.Job, from, to *time.Time) []*entity.Job {
	if from == nil && to == nil {
		return jobs
	}
	var out []*entity.Job
	for _, j := range jobs {
		created := j.CreatedAt.UTC()
		if from != nil && created.Before(*from) {
			continue
		}
		if to != nil && !created.Before(to.AddDate(0, 0, 1)) {
			continue
		}
		out = append(out, j)
	}
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
