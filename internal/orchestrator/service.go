package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/store"
)

// ErrUnknownEntity is returned by refresh and status lookups for identifiers
// the pipeline has never seen.
var ErrUnknownEntity = eris.New("orchestrator: unknown entity")

// Service is the request-side surface of the pipeline: it records scraped
// identity facts, enqueues jobs, and answers status and report lookups. The
// worker side runs the jobs via Orchestrator.
type Service struct {
	store store.Store
	cache cacheLayer
}

// cacheLayer is the subset of the cache used on the request path.
type cacheLayer interface {
	GetEntityStatus(ctx context.Context, identifier string) *model.EntityStatus
	SetEntityStatus(ctx context.Context, identifier string, status *model.EntityStatus)
	InvalidateEntityStatus(ctx context.Context, identifier string)
	GetReport(ctx context.Context, reportID string) *model.Report
	SetReport(ctx context.Context, report *model.Report)
}

// NewService wires the request-side service.
func NewService(st store.Store, c cacheLayer) *Service {
	return &Service{store: st, cache: c}
}

// Enqueue records the scraped identity against its entity and queues a
// research job for it. The entity upsert happens here, at request time, so
// scrape observations are never lost even if the job later fails.
func (s *Service) Enqueue(ctx context.Context, identity model.Identity, kind model.EntityKind, orgID, userID string) (*model.ReportJob, error) {
	if identity.Name == "" && identity.ProfileURL == "" {
		return nil, eris.New("orchestrator: identity needs a name or profile URL")
	}
	if kind == "" {
		kind = model.KindPerson
	}

	identifier := identity.Identifier()
	entity, created, err := s.store.UpsertFromScrape(ctx, identifier, kind, identity.Facts())
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: upsert entity")
	}
	s.cache.InvalidateEntityStatus(ctx, identifier)

	job := &model.ReportJob{
		EntityID: entity.ID,
		Identity: identity,
		OrgID:    orgID,
		UserID:   userID,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "orchestrator: create job")
	}

	zap.L().Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("entity_id", entity.ID),
		zap.Bool("entity_created", created),
		zap.String("subject", identity.Label()),
	)
	return job, nil
}

// EnqueueRefresh queues a new research pass for an entity already on file,
// reconstructing the research identity from canonical data.
func (s *Service) EnqueueRefresh(ctx context.Context, identifier string, orgID, userID string) (*model.ReportJob, error) {
	entity, err := s.store.GetEntityByIdentifier(ctx, identifier)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: lookup entity")
	}
	if entity == nil {
		return nil, ErrUnknownEntity
	}

	job := &model.ReportJob{
		EntityID: entity.ID,
		Identity: entity.Identity(),
		OrgID:    orgID,
		UserID:   userID,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "orchestrator: create refresh job")
	}

	zap.L().Info("refresh enqueued",
		zap.String("job_id", job.ID),
		zap.String("entity_id", entity.ID),
	)
	return job, nil
}

// EnqueueRefreshFromReport queues a new research pass for the entity behind
// an existing report.
func (s *Service) EnqueueRefreshFromReport(ctx context.Context, reportID string, orgID, userID string) (*model.ReportJob, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrUnknownEntity
		}
		return nil, eris.Wrap(err, "orchestrator: lookup report")
	}

	entity, err := s.store.GetEntity(ctx, report.EntityID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: lookup report entity")
	}
	return s.EnqueueRefresh(ctx, entity.Identifier, orgID, userID)
}

// JobStatus returns the public view of a job.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: get job")
	}
	view := job.View()
	return &view, nil
}

// Status answers "do we already know this subject, and how fresh is the
// latest report". Served from cache when possible; misses hit the store and
// re-prime the cache.
func (s *Service) Status(ctx context.Context, identifier string) (*model.EntityStatus, error) {
	if cached := s.cache.GetEntityStatus(ctx, identifier); cached != nil {
		return cached, nil
	}

	entity, err := s.store.GetEntityByIdentifier(ctx, identifier)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: lookup entity")
	}

	status := &model.EntityStatus{}
	if entity != nil {
		status.Exists = true
		status.HasReport = entity.LatestReportID != ""
		status.LatestReportID = entity.LatestReportID
		status.SummaryFacts = entity.Canonical
		if entity.LatestReportAt != nil {
			status.LatestReportAgeDays = int(time.Since(*entity.LatestReportAt).Hours() / 24)
		}
	}
	s.cache.SetEntityStatus(ctx, identifier, status)
	return status, nil
}

// FetchReport returns a report by ID, cache first.
func (s *Service) FetchReport(ctx context.Context, reportID string) (*model.Report, error) {
	if cached := s.cache.GetReport(ctx, reportID); cached != nil {
		return cached, nil
	}
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: get report")
	}
	s.cache.SetReport(ctx, report)
	return report, nil
}

// ListJobs passes a job listing through to the store.
func (s *Service) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.ReportJob, error) {
	return s.store.ListJobs(ctx, filter)
}
