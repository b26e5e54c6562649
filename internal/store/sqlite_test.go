package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-pipeline/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testReport(id string) *model.Report {
	return &model.Report{
		ID:          id,
		GeneratedAt: time.Now().UTC(),
		Subject: model.Subject{
			Name:               "John Smith",
			Affiliation:        "Acme Capital",
			IdentityConfidence: model.ConfidenceConfirmed,
		},
		Abstract: model.Abstract{Summary: "Summary.", RelevanceScore: 80},
		Sections: []model.Section{{Key: "background", Title: "Background"}},
	}
}

// --- Entities ---

func TestSQLite_UpsertFromScrape_Creates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e, changed, err := st.UpsertFromScrape(ctx, "linkedin.com/in/jsmith", model.KindPerson, map[string]any{
		"name": "John Smith", "affiliation": "Acme Capital",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 1, e.ScrapedByCount)
	assert.Equal(t, "John Smith", e.Canonical["name"])

	got, err := st.GetEntityByIdentifier(ctx, "linkedin.com/in/jsmith")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, model.KindPerson, got.Kind)
}

func TestSQLite_UpsertFromScrape_MergesAndCounts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{
		"name": "John Smith", "phone": "+1 555 0100",
	})
	require.NoError(t, err)

	// Second observation: new title, empty phone must not clobber.
	e, changed, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{
		"name": "John Smith", "title": "Managing Partner", "phone": "",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, e.ScrapedByCount)
	assert.Equal(t, "Managing Partner", e.Canonical["title"])
	assert.Equal(t, "+1 555 0100", e.Canonical["phone"])
}

func TestSQLite_UpsertFromScrape_StickyContact(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{"phone": "+1 555 0100"})
	require.NoError(t, err)

	// A different phone from a later scrape does not replace the one on file.
	e, changed, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{"phone": "+1 555 9999"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "+1 555 0100", e.Canonical["phone"])
}

func TestSQLite_UpsertFromScrape_UnchangedNoVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e, _, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{"name": "John Smith"})
	require.NoError(t, err)

	_, changed, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{"name": "John Smith"})
	require.NoError(t, err)
	assert.False(t, changed)

	versions, err := st.ListEntityVersions(ctx, e.ID, 10)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestSQLite_GetEntityByIdentifier_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	e, err := st.GetEntityByIdentifier(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestSQLite_ApplyReport_UpdatesEntity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e, _, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{
		"name": "J. Smith", "title": "Partner",
	})
	require.NoError(t, err)

	r := testReport("rep-1")
	require.NoError(t, st.CreateReport(ctx, e.ID, r))

	updated, err := st.ApplyReport(ctx, e.ID, r)
	require.NoError(t, err)

	// Report facts overwrite scrape facts.
	assert.Equal(t, "John Smith", updated.Canonical["name"])
	assert.Equal(t, "Acme Capital", updated.Canonical["affiliation"])
	assert.Equal(t, "Partner", updated.Canonical["title"])
	assert.Equal(t, 1, updated.TotalReports)
	assert.Equal(t, "rep-1", updated.LatestReportID)
	require.NotNil(t, updated.LatestReportAt)

	versions, err := st.ListEntityVersions(ctx, e.ID, 10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, model.SourceReport, versions[0].Source)
	assert.Equal(t, "rep-1", versions[0].ReportID)
}

// --- Reports ---

func TestSQLite_CreateReport_VersionsMonotonic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e, _, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{"name": "John Smith"})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		r := testReport(fmt.Sprintf("rep-%d", i))
		require.NoError(t, st.CreateReport(ctx, e.ID, r))
		assert.Equal(t, i, r.Version)
		assert.Equal(t, e.ID, r.EntityID)
	}

	latest, err := st.GetLatestReport(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "rep-3", latest.ID)
	assert.Equal(t, 3, latest.Version)
}

func TestSQLite_GetReport_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e, _, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{"name": "John Smith"})
	require.NoError(t, err)

	r := testReport("rep-1")
	r.Sections[0].Subsections = []model.Subsection{{
		Title: "Career", Content: "Two decades.", Confidence: model.ConfidenceLikely,
		Citations: []model.Citation{{URL: "https://acme.example/team"}},
	}}
	require.NoError(t, st.CreateReport(ctx, e.ID, r))

	got, err := st.GetReport(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "John Smith", got.Subject.Name)
	assert.Equal(t, model.ConfidenceLikely, got.Sections[0].Subsections[0].Confidence)
	assert.Equal(t, 1, got.Version)
}

func TestSQLite_GetLatestReport_None(t *testing.T) {
	st := newTestSQLiteStore(t)

	r, err := st.GetLatestReport(context.Background(), "no-entity")
	require.NoError(t, err)
	assert.Nil(t, r)
}

// --- Jobs ---

func TestSQLite_JobLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := &model.ReportJob{Identity: model.Identity{Name: "John Smith", Affiliation: "Acme Capital"}}
	require.NoError(t, st.CreateJob(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	claimed, err := st.ClaimJob(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, model.JobStatusProcessing, claimed.Status)
	assert.Equal(t, "start", claimed.CurrentStep)
	assert.Equal(t, 10, claimed.Progress)
	require.NotNil(t, claimed.LockedUntil)
	require.NotNil(t, claimed.StartedAt)
	assert.Equal(t, "John Smith", claimed.Identity.Name)

	// Nothing else to claim.
	none, err := st.ClaimJob(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, st.UpdateJobStep(ctx, job.ID, 5))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "reconcile", got.CurrentStep)
	assert.Equal(t, 60, got.Progress)
	assert.Equal(t, []string{"start", "agents", "agent_dossier", "agent_perplexity", "agent_anthropic", "reconcile"}, got.CompletedSteps)
	assert.Equal(t, []string{"store", "embed", "update_entity", "finalize"}, got.RemainingSteps)

	require.NoError(t, st.CompleteJob(ctx, job.ID, "rep-1", "https://app.example/reports/rep-1"))
	done, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "rep-1", done.ReportID)
	assert.Equal(t, "https://app.example/reports/rep-1", done.ReportURL)
	assert.Empty(t, done.RemainingSteps)
	assert.Nil(t, done.LockedUntil)
	require.NotNil(t, done.CompletedAt)
}

func TestSQLite_FailJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := &model.ReportJob{Identity: model.Identity{Name: "Jane Roe"}}
	require.NoError(t, st.CreateJob(ctx, job))

	_, err := st.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)

	require.NoError(t, st.FailJob(ctx, job.ID, "all research agents failed"))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "all research agents failed", got.ErrorMessage)
	assert.Nil(t, got.LockedUntil)
}

func TestSQLite_TerminalStatusIsSticky(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := &model.ReportJob{Identity: model.Identity{Name: "Jane Roe"}}
	require.NoError(t, st.CreateJob(ctx, job))
	_, err := st.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)

	// A worker that lost its lease reports failure after another writer
	// already completed the job; the completed status must survive.
	require.NoError(t, st.CompleteJob(ctx, job.ID, "rep-1", ""))
	require.NoError(t, st.FailJob(ctx, job.ID, "lease expired"))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, "rep-1", got.ReportID)
	assert.Empty(t, got.ErrorMessage)

	// And the reverse: a completion cannot resurrect a failed job.
	second := &model.ReportJob{Identity: model.Identity{Name: "Jane Roe"}}
	require.NoError(t, st.CreateJob(ctx, second))
	_, err = st.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)

	require.NoError(t, st.FailJob(ctx, second.ID, "all research agents failed"))
	require.NoError(t, st.CompleteJob(ctx, second.ID, "rep-2", ""))

	got, err = st.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Empty(t, got.ReportID)
}

func TestSQLite_ClaimJob_FIFO(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.ReportJob{Identity: model.Identity{Name: "First"}, CreatedAt: time.Now().UTC().Add(-time.Minute)}
	second := &model.ReportJob{Identity: model.Identity{Name: "Second"}}
	require.NoError(t, st.CreateJob(ctx, first))
	require.NoError(t, st.CreateJob(ctx, second))

	claimed, err := st.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestSQLite_ReleaseStalledJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := &model.ReportJob{Identity: model.Identity{Name: "Jane Roe"}}
	require.NoError(t, st.CreateJob(ctx, job))

	// Claim with an already-lapsed lock.
	claimed, err := st.ClaimJob(ctx, -time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n, err := st.ReleaseStalledJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reclaimed, err := st.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestSQLite_ListJobs_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := &model.ReportJob{Identity: model.Identity{Name: "A"}}
	b := &model.ReportJob{Identity: model.Identity{Name: "B"}}
	require.NoError(t, st.CreateJob(ctx, a))
	require.NoError(t, st.CreateJob(ctx, b))

	_, err := st.ClaimJob(ctx, time.Minute)
	require.NoError(t, err)

	queued, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Embeddings ---

func TestSQLite_ReplaceEmbeddings(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e, _, err := st.UpsertFromScrape(ctx, "li/jsmith", model.KindPerson, map[string]any{"name": "John Smith"})
	require.NoError(t, err)

	recs := []model.EmbeddingRecord{
		{EntityID: e.ID, Kind: model.EmbedEntity, Text: "John Smith, Acme Capital", Vector: []float32{0.1, 0.2}},
		{EntityID: e.ID, ReportID: "rep-1", Kind: model.EmbedSubsection, Key: "background", Text: "Career text", Vector: []float32{0.3, 0.4}},
	}
	require.NoError(t, st.ReplaceEmbeddings(ctx, e.ID, recs))

	// A second replace swaps the whole set rather than appending.
	require.NoError(t, st.ReplaceEmbeddings(ctx, e.ID, recs[:1]))

	var count int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE entity_id = ?`, e.ID).Scan(&count))
	assert.Equal(t, 1, count)
}
