package constants

// JobStatus is the canonical status for rows in jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusUnstarted  JobStatus = "unstarted"  // created, waiting for its owner to trigger it
	JobStatusQueued     JobStatus = "queued"     // waiting for a sweep
	JobStatusProcessing JobStatus = "processing" // claimed by exactly one executor
	JobStatusCompleted  JobStatus = "completed"  // terminal, output set
	JobStatusFailed     JobStatus = "failed"     // terminal, error set
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusUnstarted,
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusUnstarted:  {JobStatusProcessing},
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

func (s JobStatus) String() string { return string(s) }

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	for _, v := range AllJobStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsClaimable reports whether a job in status s may be claimed for execution.
func (s JobStatus) IsClaimable() bool {
	return s == JobStatusUnstarted || s == JobStatusQueued
}

// CanTransition reports whether from -> to is an edge of the job lifecycle.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
