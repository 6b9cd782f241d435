// Package analysis turns a fetched syllabus document into structured output.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
)

// Document is one fetched artifact handed to a Processor.
type Document struct {
	Name string // last path segment of the artifact ref
	Ref  string
	Data []byte
}

// Processor is the interface the execution pipeline depends on. It must
// return promptly once ctx is done.
type Processor interface {
	Process(ctx context.Context, doc Document) (json.RawMessage, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, doc Document) (json.RawMessage, error)

func (f ProcessorFunc) Process(ctx context.Context, doc Document) (json.RawMessage, error) {
	return f(ctx, doc)
}

var (
	// ErrInvalidOutput marks output that does not match the syllabus schema.
	ErrInvalidOutput = errors.New("invalid analysis output")
	// ErrUnsupportedDocument marks documents a processor cannot read.
	ErrUnsupportedDocument = errors.New("unsupported document")
)

// Result is the structured output stored on a completed job.
type Result struct {
	ParsedSyllabus  ParsedSyllabus  `json:"parsedSyllabus"`
	DashboardLayout DashboardLayout `json:"dashboardLayout"`
}

type ParsedSyllabus struct {
	CourseInfo   CourseInfo         `json:"courseInfo"`
	Assignments  []Assignment       `json:"assignments"`
	GradingScale map[string]float64 `json:"gradingScale"`
	Schedule     []ScheduleEntry    `json:"schedule"`
}

type CourseInfo struct {
	Name       string `json:"name"`
	Instructor string `json:"instructor,omitempty"`
	Semester   string `json:"semester,omitempty"`
	Credits    int    `json:"credits,omitempty"`
}

type Assignment struct {
	Name    string  `json:"name"`
	DueDate string  `json:"dueDate"` // YYYY-MM-DD
	Weight  float64 `json:"weight"`
	Type    string  `json:"type"`
}

type ScheduleEntry struct {
	Date     string   `json:"date"` // YYYY-MM-DD
	Topic    string   `json:"topic"`
	Readings []string `json:"readings,omitempty"`
}

// DashboardLayout tells the client how to render the parsed syllabus.
type DashboardLayout struct {
	Components []Component `json:"components"`
	Theme      Theme       `json:"theme"`
}

type Component struct {
	Type     string         `json:"type"`
	Position Position       `json:"position"`
	Config   map[string]any `json:"config,omitempty"`
}

type Position struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Theme struct {
	PrimaryColor string `json:"primaryColor"`
	Layout       string `json:"layout"`
}
