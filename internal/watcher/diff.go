// Package watcher turns periodic job-list snapshots into one-shot
// completed/failed notifications for a single observing identity.
package watcher

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
)

// EventKind is the transition a notification announces.
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is raised once per observed non-terminal to terminal transition.
type Event struct {
	Kind        EventKind `json:"kind"`
	JobID       uuid.UUID `json:"job_id"`
	DisplayName string    `json:"display_name"`
	Error       string    `json:"error,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Snapshot is the last job list seen for one identity.
type Snapshot struct {
	Identity string       `json:"identity"`
	Jobs     []entity.Job `json:"jobs"`
	TakenAt  time.Time    `json:"taken_at"`
}

// IsZero reports whether the snapshot has never been taken.
func (s Snapshot) IsZero() bool {
	return s.Identity == "" && len(s.Jobs) == 0 && s.TakenAt.IsZero()
}

// Diff compares curr against prev by job id and returns the transitions to
// announce along with the snapshot that replaces prev. Jobs new to curr and
// terminal re-observations produce nothing. A previous snapshot taken for a
// different identity is treated as empty.
func Diff(prev, curr Snapshot) ([]Event, Snapshot) {
	if prev.Identity != curr.Identity || len(prev.Jobs) == 0 {
		return nil, curr
	}

	before := make(map[uuid.UUID]constants.JobStatus, len(prev.Jobs))
	for _, j := range prev.Jobs {
		before[j.ID] = j.Status
	}

	var events []Event
	for _, j := range curr.Jobs {
		was, seen := before[j.ID]
		if !seen || was.IsTerminal() {
			continue
		}
		var kind EventKind
		switch j.Status {
		case constants.JobStatusCompleted:
			kind = EventCompleted
		case constants.JobStatusFailed:
			kind = EventFailed
		default:
			continue
		}
		ev := Event{Kind: kind, JobID: j.ID, DisplayName: j.DisplayName(), ObservedAt: curr.TakenAt}
		if j.Error != nil {
			ev.Error = *j.Error
		}
		events = append(events, ev)
	}
	return events, curr
}
