package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
)

// JobSource lists one owner's jobs. trigger.Service and server.Client both satisfy it.
type JobSource interface {
	ListJobs(ctx context.Context, ownerID string) ([]entity.Job, error)
}

// Service produces XLSX reports of an owner's jobs.
type Service struct {
	source JobSource
	logger *slog.Logger
}

func NewService(source JobSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// Options narrows an export. A nil From includes everything; an empty
// Statuses includes every status.
type Options struct {
	From     *time.Time
	Statuses []constants.JobStatus
}

// ExportJobsXLSX returns a workbook for ownerID's jobs created on or after opts.From.
func (s *Service) ExportJobsXLSX(ctx context.Context, ownerID string, opts Options) ([]byte, error) {
	start := time.Now()

	jobs, err := s.source.ListJobs(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	jobs = filter(jobs, opts)

	buf, err := JobsXLSX(jobs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID,
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf, nil
}

func filter(jobs []entity.Job, opts Options) []entity.Job {
	var from time.Time
	if opts.From != nil {
		from = time.Date(opts.From.Year(), opts.From.Month(), opts.From.Day(), 0, 0, 0, 0, time.UTC)
	}
	want := make(map[constants.JobStatus]bool, len(opts.Statuses))
	for _, st := range opts.Statuses {
		want[st] = true
	}

	out := jobs[:0:0]
	for _, j := range jobs {
		if !from.IsZero() && j.CreatedAt.Before(from) {
			continue
		}
		if len(want) > 0 && !want[j.Status] {
			continue
		}
		out = append(out, j)
	}
	return out
}

const (
	jobsSheet    = "Jobs"
	summarySheet = "Summary"
)

// JobsXLSX renders jobs into a workbook with a Jobs sheet and a per-status Summary sheet.
func JobsXLSX(jobs []entity.Job) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", jobsSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	headers := []string{"Document", "Status", "Error", "Created", "Updated", "Job ID"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(jobsSheet, cell, h)
	}

	counts := make(map[constants.JobStatus]int)
	row := 2
	for _, j := range jobs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(jobsSheet, cell, v)
		}
		errMsg := ""
		if j.Error != nil {
			errMsg = truncate(*j.Error, 140)
		}
		write(1, j.DisplayName())
		write(2, string(j.Status))
		write(3, errMsg)
		write(4, j.CreatedAt.UTC().Format(time.RFC3339))
		write(5, j.UpdatedAt.UTC().Format(time.RFC3339))
		write(6, j.ID.String())
		counts[j.Status]++
		row++
	}

	_ = f.SetColWidth(jobsSheet, "A", "A", 32) // document
	_ = f.SetColWidth(jobsSheet, "B", "B", 12) // status
	_ = f.SetColWidth(jobsSheet, "C", "C", 60) // error
	_ = f.SetColWidth(jobsSheet, "D", "E", 22) // times
	_ = f.SetColWidth(jobsSheet, "F", "F", 38) // id

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	_ = f.SetCellValue(summarySheet, "A1", "Status")
	_ = f.SetCellValue(summarySheet, "B1", "Jobs")
	for i, st := range constants.AllJobStatuses {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+2), string(st))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+2), counts[st])
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
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
