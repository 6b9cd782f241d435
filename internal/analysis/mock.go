package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

// DefaultMockDelay is how long MockProcessor pretends to think.
const DefaultMockDelay = 4 * time.Second

// MockProcessor returns a fixed syllabus after Delay. It stands in for the
// real extractor in development and demos.
type MockProcessor struct {
	Delay  time.Duration
	logger *slog.Logger
}

func NewMockProcessor(delay time.Duration, logger *slog.Logger) *MockProcessor {
	if delay < 0 {
		delay = 0
	}
	return &MockProcessor{Delay: delay, logger: common.OrDefault(logger)}
}

func (m *MockProcessor) Process(ctx context.Context, doc Document) (json.RawMessage, error) {
	m.logger.Info("analysis.mock.start", "document", doc.Name, "bytes", len(doc.Data), "delay", m.Delay)

	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	out, err := json.Marshal(MockResult(doc.Name))
	if err != nil {
		return nil, fmt.Errorf("marshal mock result: %w", err)
	}
	m.logger.Info("analysis.mock.ok", "document", doc.Name)
	return out, nil
}

// MockResult is the canned output for a document called name.
func MockResult(name string) Result {
	return Result{
		ParsedSyllabus: ParsedSyllabus{
			CourseInfo: CourseInfo{
				Name:       "Course extracted from " + name,
				Instructor: "Dr. Mock Professor",
				Semester:   "Spring 2025",
				Credits:    3,
			},
			Assignments: []Assignment{
				{Name: "Assignment 1", DueDate: "2025-02-15", Weight: 20, Type: "homework"},
				{Name: "Midterm Exam", DueDate: "2025-03-15", Weight: 30, Type: "exam"},
				{Name: "Final Project", DueDate: "2025-05-01", Weight: 35, Type: "project"},
				{Name: "Participation", DueDate: "2025-05-15", Weight: 15, Type: "participation"},
			},
			GradingScale: map[string]float64{"A": 90, "B": 80, "C": 70, "D": 60, "F": 0},
			Schedule: []ScheduleEntry{
				{Date: "2025-01-20", Topic: "Introduction to Course", Readings: []string{"Chapter 1", "Syllabus"}},
				{Date: "2025-01-27", Topic: "Fundamentals", Readings: []string{"Chapter 2", "Article A"}},
				{Date: "2025-02-03", Topic: "Advanced Topics", Readings: []string{"Chapter 3", "Article B"}},
			},
		},
		DashboardLayout: DashboardLayout{
			Components: []Component{
				{Type: "timeline", Position: Position{X: 0, Y: 0, Width: 12, Height: 4}, Config: map[string]any{"showAssignments": true, "showExams": true}},
				{Type: "pie-chart", Position: Position{X: 0, Y: 4, Width: 6, Height: 4}, Config: map[string]any{"dataSource": "grades", "showLegend": true}},
				{Type: "assignment-list", Position: Position{X: 6, Y: 4, Width: 6, Height: 4}, Config: map[string]any{"sortBy": "dueDate", "showCompleted": false}},
				{Type: "grade-breakdown", Position: Position{X: 0, Y: 8, Width: 12, Height: 3}, Config: map[string]any{"showPercentages": true, "showTargets": true}},
			},
			Theme: Theme{PrimaryColor: "#3B82F6", Layout: "grid"},
		},
	}
}
