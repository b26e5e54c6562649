package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-pipeline/internal/agents"
	"github.com/sells-group/intel-pipeline/internal/cache"
	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/store"
)

type stubAgent struct {
	name string
	err  error
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Research(_ context.Context, _ model.Identity) (*model.AgentResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &model.AgentResult{
		Agent:     a.name,
		Narrative: a.name + " findings",
		Citations: []string{"https://example.com/" + a.name},
		Usage:     model.TokenUsage{InputTokens: 100, OutputTokens: 50},
		Cost:      0.01,
	}, nil
}

type stubEngine struct {
	report   *model.Report
	err      error
	outcomes []model.AgentOutcome
}

func (e *stubEngine) Reconcile(_ context.Context, _ model.Identity, outcomes []model.AgentOutcome) (*model.Report, error) {
	e.outcomes = outcomes
	if e.err != nil {
		return nil, e.err
	}
	return e.report, nil
}

type stubEmbedder struct {
	calls int
	err   error
}

func (e *stubEmbedder) Refresh(_ context.Context, _ *model.Entity, _ *model.Report) error {
	e.calls++
	return e.err
}

type fixture struct {
	store    *store.SQLiteStore
	cache    *cache.Cache
	engine   *stubEngine
	embedder *stubEmbedder
	orch     *Orchestrator
	svc      *Service
}

func newFixture(t *testing.T, agentList []agents.Agent) *fixture {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "intel.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), config.CacheConfig{})

	engine := &stubEngine{report: testReport()}
	embedder := &stubEmbedder{}
	orch := &Orchestrator{
		store:         st,
		cache:         c,
		agents:        agentList,
		engine:        engine,
		embedder:      embedder,
		reportBaseURL: "https://intel.example.com/reports",
	}
	return &fixture{
		store:    st,
		cache:    c,
		engine:   engine,
		embedder: embedder,
		orch:     orch,
		svc:      NewService(st, c),
	}
}

func testReport() *model.Report {
	return &model.Report{
		ID: "rpt-1",
		Subject: model.Subject{
			Name:               "Jane Roe",
			Affiliation:        "Acme Capital",
			Title:              "Partner",
			IdentityConfidence: model.ConfidenceConfirmed,
		},
		Abstract: model.Abstract{Summary: "Seasoned investor.", RelevanceScore: 82},
		Sections: []model.Section{{
			Key:   "background",
			Title: "Background",
			Subsections: []model.Subsection{{
				Title:      "Career",
				Content:    "Twenty years in private equity.",
				Confidence: model.ConfidenceConfirmed,
			}},
		}},
		Metadata:    model.ReportMeta{Model: "dossier+perplexity+anthropic/claude-opus-4-6"},
		GeneratedAt: time.Now().UTC(),
	}
}

func threeAgents() []agents.Agent {
	return []agents.Agent{
		&stubAgent{name: "dossier"},
		&stubAgent{name: "perplexity"},
		&stubAgent{name: "anthropic"},
	}
}

func claimJob(t *testing.T, f *fixture) *model.ReportJob {
	t.Helper()
	job, err := f.store.ClaimJob(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestRunHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())

	identity := model.Identity{Name: "Jane Roe", Affiliation: "Acme Capital"}
	queued, err := f.svc.Enqueue(ctx, identity, model.KindPerson, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, queued.Status)
	assert.NotEmpty(t, queued.EntityID)

	f.orch.Run(ctx, claimJob(t, f))

	done, err := f.store.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "rpt-1", done.ReportID)
	assert.Equal(t, "https://intel.example.com/reports/rpt-1", done.ReportURL)

	// Report persisted with version bookkeeping.
	rpt, err := f.store.GetReport(ctx, "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rpt.Version)
	assert.Equal(t, queued.EntityID, rpt.EntityID)

	// Entity absorbed the report facts.
	entity, err := f.store.GetEntity(ctx, queued.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 1, entity.TotalReports)
	assert.Equal(t, "rpt-1", entity.LatestReportID)
	assert.Equal(t, "Partner", entity.Canonical["title"])

	assert.Equal(t, 1, f.embedder.calls)
	require.Len(t, f.engine.outcomes, 3)
}

func TestRunAllAgentsFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []agents.Agent{
		&stubAgent{name: "dossier", err: eris.New("search quota exhausted")},
		&stubAgent{name: "perplexity", err: eris.New("upstream 503")},
		&stubAgent{name: "anthropic", err: eris.New("overloaded")},
	})

	queued, err := f.svc.Enqueue(ctx, model.Identity{Name: "Jane Roe"}, model.KindPerson, "", "")
	require.NoError(t, err)

	f.orch.Run(ctx, claimJob(t, f))

	done, err := f.store.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "all research agents failed")
	assert.Contains(t, done.ErrorMessage, "upstream 503")
	assert.Empty(t, done.ReportID)
	assert.Equal(t, 0, f.embedder.calls)

	// Entity record from the scrape survives the failed job.
	entity, err := f.store.GetEntity(ctx, queued.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 0, entity.TotalReports)
}

func TestRunPartialAgentFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []agents.Agent{
		&stubAgent{name: "dossier"},
		&stubAgent{name: "perplexity", err: eris.New("upstream 503")},
		&stubAgent{name: "anthropic", err: eris.New("overloaded")},
	})

	queued, err := f.svc.Enqueue(ctx, model.Identity{Name: "Jane Roe"}, model.KindPerson, "", "")
	require.NoError(t, err)

	f.orch.Run(ctx, claimJob(t, f))

	done, err := f.store.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)

	// The engine still sees every settled outcome, not just successes.
	require.Len(t, f.engine.outcomes, 3)
}

func TestRunReconcileFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())
	f.engine.err = eris.New("synthesis exhausted 3 attempts")

	queued, err := f.svc.Enqueue(ctx, model.Identity{Name: "Jane Roe"}, model.KindPerson, "", "")
	require.NoError(t, err)

	f.orch.Run(ctx, claimJob(t, f))

	done, err := f.store.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "synthesis exhausted")
}

func TestRunEmbeddingFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())
	f.embedder.err = eris.New("embeddings api down")

	queued, err := f.svc.Enqueue(ctx, model.Identity{Name: "Jane Roe"}, model.KindPerson, "", "")
	require.NoError(t, err)

	f.orch.Run(ctx, claimJob(t, f))

	done, err := f.store.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, f.embedder.calls)
}

func TestEnqueueMergesScrapesIntoOneEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())

	first, err := f.svc.Enqueue(ctx, model.Identity{Name: "Jane Roe", Affiliation: "Acme Capital"}, model.KindPerson, "", "")
	require.NoError(t, err)
	second, err := f.svc.Enqueue(ctx, model.Identity{Name: "jane roe", Affiliation: "ACME Capital", Title: "Partner"}, model.KindPerson, "", "")
	require.NoError(t, err)

	assert.Equal(t, first.EntityID, second.EntityID)

	entity, err := f.store.GetEntity(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 2, entity.ScrapedByCount)
	assert.Equal(t, "Partner", entity.Canonical["title"])
}

func TestEnqueueRejectsAnonymousIdentity(t *testing.T) {
	f := newFixture(t, threeAgents())
	_, err := f.svc.Enqueue(context.Background(), model.Identity{Location: "Chicago"}, model.KindPerson, "", "")
	require.Error(t, err)
}

func TestEnqueueRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())

	identity := model.Identity{Name: "Jane Roe", Affiliation: "Acme Capital", Title: "Partner"}
	first, err := f.svc.Enqueue(ctx, identity, model.KindPerson, "", "")
	require.NoError(t, err)

	refresh, err := f.svc.EnqueueRefresh(ctx, identity.Identifier(), "org-2", "")
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, refresh.EntityID)
	assert.Equal(t, "Jane Roe", refresh.Identity.Name)
	assert.Equal(t, "Partner", refresh.Identity.Title)

	_, err = f.svc.EnqueueRefresh(ctx, "nobody|nowhere", "", "")
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestEnqueueRefreshFromReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())

	identity := model.Identity{Name: "Jane Roe", Affiliation: "Acme Capital"}
	first, err := f.svc.Enqueue(ctx, identity, model.KindPerson, "", "")
	require.NoError(t, err)
	f.orch.Run(ctx, claimJob(t, f))

	refresh, err := f.svc.EnqueueRefreshFromReport(ctx, "rpt-1", "org-2", "")
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, refresh.EntityID)
	assert.Equal(t, "Jane Roe", refresh.Identity.Name)

	_, err = f.svc.EnqueueRefreshFromReport(ctx, "rpt-missing", "", "")
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestStatusCachesStoreResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())

	identity := model.Identity{Name: "Jane Roe", Affiliation: "Acme Capital"}
	_, err := f.svc.Enqueue(ctx, identity, model.KindPerson, "", "")
	require.NoError(t, err)
	f.orch.Run(ctx, claimJob(t, f))

	status, err := f.svc.Status(ctx, identity.Identifier())
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.True(t, status.HasReport)
	assert.Equal(t, "rpt-1", status.LatestReportID)
	assert.Equal(t, 0, status.LatestReportAgeDays)
	assert.Equal(t, "Partner", status.SummaryFacts["title"])

	again, err := f.svc.Status(ctx, identity.Identifier())
	require.NoError(t, err)
	assert.Equal(t, status, again)

	unknown, err := f.svc.Status(ctx, "nobody|nowhere")
	require.NoError(t, err)
	assert.False(t, unknown.Exists)
	assert.False(t, unknown.HasReport)
}

func TestFetchReportPrimesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threeAgents())

	_, err := f.svc.Enqueue(ctx, model.Identity{Name: "Jane Roe"}, model.KindPerson, "", "")
	require.NoError(t, err)
	f.orch.Run(ctx, claimJob(t, f))

	got, err := f.svc.FetchReport(ctx, "rpt-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", got.Subject.Name)

	_, err = f.svc.FetchReport(ctx, "missing-report")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}
