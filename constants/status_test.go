package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusUnstarted, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusUnstarted, JobStatusCompleted, false},
		{JobStatusQueued, JobStatusFailed, false},
		{JobStatusProcessing, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusCompleted, JobStatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, JobStatusUnstarted.IsClaimable())
	assert.True(t, JobStatusQueued.IsClaimable())
	assert.False(t, JobStatusProcessing.IsClaimable())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.False(t, JobStatus("RUNNING").IsValid())
	for _, s := range AllJobStatuses {
		assert.True(t, s.IsValid(), s)
	}
}
