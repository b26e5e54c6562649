package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepProgress(t *testing.T) {
	assert.Equal(t, 10, StepProgress(0))
	assert.Equal(t, 60, StepProgress(5))
	assert.Equal(t, 100, StepProgress(9))

	// Out-of-range indexes clamp.
	assert.Equal(t, 0, StepProgress(-1))
	assert.Equal(t, 100, StepProgress(42))
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobView(t *testing.T) {
	j := ReportJob{
		ID:             "job-1",
		Status:         JobStatusProcessing,
		Progress:       60,
		CurrentStep:    "reconcile",
		CompletedSteps: JobSteps[:6],
		RemainingSteps: JobSteps[6:],
	}
	v := j.View()
	assert.Equal(t, "job-1", v.JobID)
	assert.Equal(t, JobStatusProcessing, v.Status)
	assert.Equal(t, 60, v.Progress)
	assert.Equal(t, "reconcile", v.CurrentStep)
	assert.Len(t, v.CompletedSteps, 6)
	assert.Len(t, v.RemainingSteps, 4)
}
