package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/intel-pipeline/internal/model"
)

// IsNotFound reports whether err stems from a missing row in either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// JobFilter specifies criteria for listing report jobs.
type JobFilter struct {
	Status       model.JobStatus `json:"status,omitempty"`
	EntityID     string          `json:"entity_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// ReportStats aggregates generation accounting over a time window.
type ReportStats struct {
	Count       int     `json:"count"`
	TotalCost   float64 `json:"total_cost"`
	TotalTokens int     `json:"total_tokens"`
}

// Store defines the persistence interface for the research pipeline: the
// versioned entity record, immutable reports, the durable job queue, and
// derived embeddings.
type Store interface {
	// Entities
	GetEntity(ctx context.Context, entityID string) (*model.Entity, error)
	GetEntityByIdentifier(ctx context.Context, identifier string) (*model.Entity, error)
	UpsertFromScrape(ctx context.Context, identifier string, kind model.EntityKind, facts map[string]any) (*model.Entity, bool, error)
	ApplyReport(ctx context.Context, entityID string, report *model.Report) (*model.Entity, error)
	ListEntityVersions(ctx context.Context, entityID string, limit int) ([]model.EntityVersion, error)

	// Reports
	CreateReport(ctx context.Context, entityID string, report *model.Report) error
	GetReport(ctx context.Context, reportID string) (*model.Report, error)
	GetLatestReport(ctx context.Context, entityID string) (*model.Report, error)
	ReportStatsSince(ctx context.Context, since time.Time) (ReportStats, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.ReportJob) error
	GetJob(ctx context.Context, jobID string) (*model.ReportJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ReportJob, error)
	ClaimJob(ctx context.Context, lockFor time.Duration) (*model.ReportJob, error)
	SetJobEntity(ctx context.Context, jobID, entityID string) error
	UpdateJobStep(ctx context.Context, jobID string, stepIndex int) error
	CompleteJob(ctx context.Context, jobID, reportID, reportURL string) error
	FailJob(ctx context.Context, jobID, message string) error
	ReleaseStalledJobs(ctx context.Context) (int, error)

	// Embeddings
	ReplaceEmbeddings(ctx context.Context, entityID string, records []model.EmbeddingRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// stepFields derives the persisted step bookkeeping for a step index:
// current label, progress, and the completed/remaining step lists.
func stepFields(stepIndex int) (current string, progress int, completed, remaining []string) {
	if stepIndex < 0 {
		stepIndex = 0
	}
	if stepIndex >= len(model.JobSteps) {
		stepIndex = len(model.JobSteps) - 1
	}
	current = model.JobSteps[stepIndex]
	progress = model.StepProgress(stepIndex)
	completed = append([]string{}, model.JobSteps[:stepIndex+1]...)
	remaining = append([]string{}, model.JobSteps[stepIndex+1:]...)
	return current, progress, completed, remaining
}
