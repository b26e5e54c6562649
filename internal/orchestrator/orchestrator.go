// Package orchestrator drives a claimed report job through its fixed step
// sequence: agent fan-out, reconciliation, persistence, embedding refresh,
// entity update, and finalization.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/agents"
	"github.com/sells-group/intel-pipeline/internal/cache"
	"github.com/sells-group/intel-pipeline/internal/embed"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/reconcile"
	"github.com/sells-group/intel-pipeline/internal/store"
)

// Reconciler merges settled agent outcomes into one report.
type Reconciler interface {
	Reconcile(ctx context.Context, id model.Identity, outcomes []model.AgentOutcome) (*model.Report, error)
}

// EmbeddingRefresher recomputes derived vectors after a new report.
type EmbeddingRefresher interface {
	Refresh(ctx context.Context, entity *model.Entity, report *model.Report) error
}

// Orchestrator executes report jobs end to end.
type Orchestrator struct {
	store         store.Store
	cache         *cache.Cache
	agents        []agents.Agent
	engine        Reconciler
	embedder      EmbeddingRefresher
	reportBaseURL string
}

// New wires an orchestrator. The agent slice order must match the per-agent
// step labels: dossier, perplexity, anthropic.
func New(st store.Store, c *cache.Cache, agentList []agents.Agent, engine *reconcile.Engine, embedder *embed.Embedder, reportBaseURL string) *Orchestrator {
	return &Orchestrator{
		store:         st,
		cache:         c,
		agents:        agentList,
		engine:        engine,
		embedder:      embedder,
		reportBaseURL: strings.TrimSuffix(reportBaseURL, "/"),
	}
}

// Run executes one claimed job. Any step error marks the job failed with the
// captured reason; Run itself never returns an error to the worker loop.
func (o *Orchestrator) Run(ctx context.Context, job *model.ReportJob) {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("subject", job.Identity.Label()))
	log.Info("job started")

	if err := o.run(ctx, job, log); err != nil {
		log.Error("job failed", zap.Error(err))
		if failErr := o.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			log.Error("could not mark job failed", zap.Error(failErr))
		}
		return
	}
	log.Info("job completed")
}

func (o *Orchestrator) run(ctx context.Context, job *model.ReportJob, log *zap.Logger) error {
	// Step "start" was stamped when the worker claimed the job.
	if job.EntityID == "" {
		return eris.Errorf("orchestrator: job %s has no entity", job.ID)
	}
	entity, err := o.store.GetEntity(ctx, job.EntityID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load entity")
	}

	// Canonical data already on file fills identity gaps before research.
	identity := job.Identity.MergeCanonical(entity.Canonical)

	if err := o.step(ctx, job, 1); err != nil { // agents
		return err
	}
	outcomes := agents.GatherAll(ctx, o.agents, identity)

	// Per-agent labels advance the progress bar even though the agents
	// already ran in parallel; they record which settled.
	for i := range o.agents {
		if err := o.step(ctx, job, 2+i); err != nil {
			return err
		}
	}

	succeeded := agents.Succeeded(outcomes)
	if len(succeeded) == 0 {
		return eris.Errorf("orchestrator: all research agents failed: %s", outcomeErrors(outcomes))
	}
	log.Info("agents settled",
		zap.Int("succeeded", len(succeeded)),
		zap.Int("failed", len(outcomes)-len(succeeded)),
	)

	if err := o.step(ctx, job, 5); err != nil { // reconcile
		return err
	}
	report, err := o.engine.Reconcile(ctx, identity, outcomes)
	if err != nil {
		return eris.Wrap(err, "orchestrator: reconcile")
	}

	if err := o.step(ctx, job, 6); err != nil { // store
		return err
	}
	if err := o.store.CreateReport(ctx, entity.ID, report); err != nil {
		return eris.Wrap(err, "orchestrator: persist report")
	}

	if err := o.step(ctx, job, 7); err != nil { // embed
		return err
	}
	// Embedding refresh is best-effort; a report without fresh vectors is
	// still a delivered report.
	if err := o.embedder.Refresh(ctx, entity, report); err != nil {
		log.Warn("embedding refresh failed", zap.Error(err))
	}

	if err := o.step(ctx, job, 8); err != nil { // update_entity
		return err
	}
	if _, err := o.store.ApplyReport(ctx, entity.ID, report); err != nil {
		return eris.Wrap(err, "orchestrator: update entity")
	}
	o.cache.InvalidateEntityStatus(ctx, entity.Identifier)
	o.cache.SetReport(ctx, report)

	if err := o.step(ctx, job, 9); err != nil { // finalize
		return err
	}
	reportURL := fmt.Sprintf("%s/%s", o.reportBaseURL, report.ID)
	if err := o.store.CompleteJob(ctx, job.ID, report.ID, reportURL); err != nil {
		return eris.Wrap(err, "orchestrator: complete job")
	}
	return nil
}

func (o *Orchestrator) step(ctx context.Context, job *model.ReportJob, stepIndex int) error {
	if err := o.store.UpdateJobStep(ctx, job.ID, stepIndex); err != nil {
		return eris.Wrapf(err, "orchestrator: advance to step %s", model.JobSteps[stepIndex])
	}
	return nil
}

func outcomeErrors(outcomes []model.AgentOutcome) string {
	var parts []string
	for _, o := range outcomes {
		if o.Err != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", o.Agent, o.Err))
		}
	}
	return strings.Join(parts, "; ")
}
