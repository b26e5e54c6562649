package model

import "time"

// JobStatus represents the lifecycle state of a report job. Transitions are
// monotonic: queued → processing → {completed, failed}.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobSteps is the fixed, ordered set of steps a processing job advances
// through. Progress is derived from the step index.
var JobSteps = []string{
	"start",
	"agents",
	"agent_dossier",
	"agent_perplexity",
	"agent_anthropic",
	"reconcile",
	"store",
	"embed",
	"update_entity",
	"finalize",
}

// StepProgress maps a step index to an integer progress value in [0,100].
func StepProgress(stepIndex int) int {
	if stepIndex < 0 {
		return 0
	}
	if stepIndex >= len(JobSteps) {
		return 100
	}
	return (stepIndex + 1) * 100 / len(JobSteps)
}

// ReportJob is one unit of asynchronous report-generation work.
type ReportJob struct {
	ID             string     `json:"id"`
	EntityID       string     `json:"entity_id"`
	OrgID          string     `json:"org_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	Identity       Identity   `json:"identity"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	CurrentStep    string     `json:"current_step,omitempty"`
	CompletedSteps []string   `json:"completed_steps,omitempty"`
	RemainingSteps []string   `json:"remaining_steps,omitempty"`
	ReportID       string     `json:"report_id,omitempty"`
	ReportURL      string     `json:"report_url,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobStatusView is the caller-facing projection of a job, served by the
// status endpoint.
type JobStatusView struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	CurrentStep    string    `json:"current_step,omitempty"`
	CompletedSteps []string  `json:"completed_steps,omitempty"`
	RemainingSteps []string  `json:"remaining_steps,omitempty"`
	ReportID       string    `json:"report_id,omitempty"`
	ReportURL      string    `json:"report_url,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// View projects the job into its caller-facing shape.
func (j *ReportJob) View() JobStatusView {
	return JobStatusView{
		JobID:          j.ID,
		Status:         j.Status,
		Progress:       j.Progress,
		CurrentStep:    j.CurrentStep,
		CompletedSteps: j.CompletedSteps,
		RemainingSteps: j.RemainingSteps,
		ReportID:       j.ReportID,
		ReportURL:      j.ReportURL,
		ErrorMessage:   j.ErrorMessage,
	}
}
