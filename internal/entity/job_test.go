package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
)

func TestDisplayNameFromRef(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"user-1/3f2a9c1e-7b4d-4e2a-9a55-0c1d2e3f4a5b-Biology 101.pdf", "Biology 101.pdf"},
		{"user-1/plain.pdf", "plain.pdf"},
		{"Syllabus.docx", "Syllabus.docx"},
		{"", DefaultDisplayName},
		{"user-1/", "user-1"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayNameFromRef(tt.ref))
		})
	}
}

func TestJobCheckInvariants(t *testing.T) {
	msg := "boom"
	out := json.RawMessage(`{"ok":true}`)

	assert.NoError(t, Job{Status: constants.JobStatusQueued}.CheckInvariants())
	assert.NoError(t, Job{Status: constants.JobStatusCompleted, Output: out}.CheckInvariants())
	assert.NoError(t, Job{Status: constants.JobStatusFailed, Error: &msg}.CheckInvariants())

	assert.Error(t, Job{Status: constants.JobStatusCompleted}.CheckInvariants())
	assert.Error(t, Job{Status: constants.JobStatusCompleted, Output: out, Error: &msg}.CheckInvariants())
	assert.Error(t, Job{Status: constants.JobStatusFailed}.CheckInvariants())
	assert.Error(t, Job{Status: constants.JobStatusFailed, Error: &msg, Output: out}.CheckInvariants())
	assert.Error(t, Job{Status: constants.JobStatusProcessing, Error: &msg}.CheckInvariants())
	assert.Error(t, Job{Status: "RUNNING"}.CheckInvariants())
}
