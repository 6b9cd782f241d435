package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
)

// uploadPrefix matches the "<uuid>-" prefix the uploader puts in front of every file name.
var uploadPrefix = regexp.MustCompile(`^[0-9a-f-]+-`)

// DefaultDisplayName is used when an artifact ref has no usable file name.
const DefaultDisplayName = "your file"

// Job represents one syllabus processing job for data transfer between layers.
type Job struct {
	ID          uuid.UUID           `json:"id"`
	OwnerID     string              `json:"owner_id"`
	ArtifactRef string              `json:"artifact_ref"`
	Status      constants.JobStatus `json:"status"`
	Output      json.RawMessage     `json:"output,omitempty"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// DisplayName derives a human-readable name from the artifact ref.
func (j Job) DisplayName() string {
	return DisplayNameFromRef(j.ArtifactRef)
}

// DisplayNameFromRef returns the last path segment of ref without its upload prefix.
func DisplayNameFromRef(ref string) string {
	ref = strings.TrimRight(strings.TrimSpace(ref), "/")
	if ref == "" {
		return DefaultDisplayName
	}
	name := uploadPrefix.ReplaceAllString(path.Base(ref), "")
	if name == "" || name == "." || name == "/" {
		return DefaultDisplayName
	}
	return name
}

// CheckInvariants verifies that output is present only on completed jobs and
// error only on failed ones.
func (j Job) CheckInvariants() error {
	if !j.Status.IsValid() {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	hasOutput := len(j.Output) > 0
	hasError := j.Error != nil
	switch j.Status {
	case constants.JobStatusCompleted:
		if !hasOutput {
			return errors.New("completed job must carry output")
		}
		if hasError {
			return errors.New("completed job must not carry an error")
		}
	case constants.JobStatusFailed:
		if !hasError {
			return errors.New("failed job must carry an error")
		}
		if hasOutput {
			return errors.New("failed job must not carry output")
		}
	default:
		if hasOutput || hasError {
			return fmt.Errorf("%s job must not carry output or error", j.Status)
		}
	}
	return nil
}
