package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-pipeline/internal/cache"
	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/monitoring"
	"github.com/sells-group/intel-pipeline/internal/orchestrator"
	"github.com/sells-group/intel-pipeline/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), config.CacheConfig{})

	srv := httptest.NewServer(NewRouter(orchestrator.NewService(st, c), monitoring.NewCollector(st)))
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateJob(t *testing.T) {
	srv, st := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{
		"identity": map[string]string{
			"name":        "Jane Roe",
			"affiliation": "Acme Capital",
		},
		"kind":   "person",
		"org_id": "org-1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view := decode[model.JobStatusView](t, resp)
	assert.NotEmpty(t, view.JobID)
	assert.Equal(t, model.JobStatusQueued, view.Status)
	assert.Equal(t, 0, view.Progress)

	job, err := st.GetJob(context.Background(), view.JobID)
	require.NoError(t, err)
	assert.NotEmpty(t, job.EntityID)
	assert.Equal(t, "org-1", job.OrgID)
}

func TestCreateJobValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{
		"identity": map[string]string{"location": "Chicago"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	badJSON, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, badJSON.StatusCode)
	badJSON.Body.Close()
}

func TestGetJob(t *testing.T) {
	srv, _ := newTestServer(t)

	created := decode[model.JobStatusView](t, postJSON(t, srv.URL+"/v1/jobs", map[string]any{
		"identity": map[string]string{"name": "Jane Roe"},
	}))

	resp, err := http.Get(srv.URL + "/v1/jobs/" + created.JobID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[model.JobStatusView](t, resp)
	assert.Equal(t, created.JobID, view.JobID)

	missing, err := http.Get(srv.URL + "/v1/jobs/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	missing.Body.Close()
}

func TestListJobs(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, name := range []string{"Jane Roe", "John Doe"} {
		resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{
			"identity": map[string]string{"name": name},
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/v1/jobs?status=queued")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]model.JobStatusView](t, resp)
	assert.Len(t, body["jobs"], 2)
}

func TestRefreshJob(t *testing.T) {
	srv, st := newTestServer(t)

	identity := model.Identity{Name: "Jane Roe", Affiliation: "Acme Capital"}
	resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{"identity": identity})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[model.JobStatusView](t, resp)

	refreshed := postJSON(t, srv.URL+"/v1/jobs/refresh", map[string]string{
		"identifier": identity.Identifier(),
	})
	assert.Equal(t, http.StatusAccepted, refreshed.StatusCode)
	view := decode[model.JobStatusView](t, refreshed)
	assert.Equal(t, model.JobStatusQueued, view.Status)

	unknown := postJSON(t, srv.URL+"/v1/jobs/refresh", map[string]string{
		"identifier": "nobody|nowhere",
	})
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
	unknown.Body.Close()

	job, err := st.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	report := &model.Report{
		ID:      "rpt-7",
		Subject: model.Subject{Name: "Jane Roe", IdentityConfidence: model.ConfidenceConfirmed},
	}
	require.NoError(t, st.CreateReport(context.Background(), job.EntityID, report))

	byReport := postJSON(t, srv.URL+"/v1/jobs/refresh", map[string]string{
		"report_id": "rpt-7",
	})
	assert.Equal(t, http.StatusAccepted, byReport.StatusCode)
	fromReport := decode[model.JobStatusView](t, byReport)
	assert.Equal(t, model.JobStatusQueued, fromReport.Status)

	empty := postJSON(t, srv.URL+"/v1/jobs/refresh", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
	empty.Body.Close()
}

func TestGetReport(t *testing.T) {
	srv, st := newTestServer(t)

	created := decode[model.JobStatusView](t, postJSON(t, srv.URL+"/v1/jobs", map[string]any{
		"identity": map[string]string{"name": "Jane Roe"},
	}))
	job, err := st.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)

	report := &model.Report{
		ID:       "rpt-42",
		Subject:  model.Subject{Name: "Jane Roe", IdentityConfidence: model.ConfidenceConfirmed},
		Abstract: model.Abstract{Summary: "Summary.", RelevanceScore: 70},
	}
	require.NoError(t, st.CreateReport(context.Background(), job.EntityID, report))

	resp, err := http.Get(srv.URL + "/v1/reports/rpt-42")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Report](t, resp)
	assert.Equal(t, "Jane Roe", got.Subject.Name)
	assert.Equal(t, 1, got.Version)

	missing, err := http.Get(srv.URL + "/v1/reports/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	missing.Body.Close()
}

func TestEntityStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	identity := model.Identity{Name: "Jane Roe", Affiliation: "Acme Capital"}
	resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{"identity": identity})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	statusResp, err := http.Get(srv.URL + "/v1/entities/status?identifier=" + url.QueryEscape(identity.Identifier()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	status := decode[model.EntityStatus](t, statusResp)
	assert.True(t, status.Exists)
	assert.False(t, status.HasReport)

	noParam, err := http.Get(srv.URL + "/v1/entities/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, noParam.StatusCode)
	noParam.Body.Close()
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/jobs", map[string]any{
		"identity": map[string]string{"name": "Jane Roe"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	metricsResp, err := http.Get(srv.URL + "/v1/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
	snap := decode[monitoring.MetricsSnapshot](t, metricsResp)
	assert.Equal(t, 1, snap.JobsTotal)
	assert.Equal(t, 1, snap.JobsQueued)
	assert.Equal(t, 24, snap.LookbackHours)

	bad, err := http.Get(srv.URL + "/v1/metrics?lookback_hours=zero")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	bad.Body.Close()
}
