package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/db"
	"github.com/sells-group/intel-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	entityColumns = `id, identifier, kind, canonical, scraped_by_count, total_reports, latest_report_id, latest_report_at, created_at, updated_at`
	jobColumns    = `id, entity_id, org_id, user_id, identity, status, progress, current_step, completed_steps, remaining_steps, report_id, report_url, error_message, locked_until, created_at, started_at, completed_at`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot queue and status paths.
var preparedStatements = map[string]string{
	"get_job":             `SELECT ` + jobColumns + ` FROM report_jobs WHERE id = $1`,
	"get_entity":          `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`,
	"get_entity_by_ident": `SELECT ` + entityColumns + ` FROM entities WHERE identifier = $1`,
	"update_job_step":     `UPDATE report_jobs SET current_step = $1, progress = $2, completed_steps = $3, remaining_steps = $4 WHERE id = $5`,
	"get_report":          `SELECT body FROM reports WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id               TEXT PRIMARY KEY,
	identifier       TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL,
	canonical        JSONB NOT NULL DEFAULT '{}'::jsonb,
	scraped_by_count INTEGER NOT NULL DEFAULT 0,
	total_reports    INTEGER NOT NULL DEFAULT 0,
	latest_report_id TEXT,
	latest_report_at TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entity_versions (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL REFERENCES entities(id),
	source     TEXT NOT NULL,
	report_id  TEXT,
	canonical  JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL REFERENCES entities(id),
	version      INTEGER NOT NULL,
	body         JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (entity_id, version)
);

CREATE TABLE IF NOT EXISTS report_jobs (
	id              TEXT PRIMARY KEY,
	entity_id       TEXT,
	org_id          TEXT,
	user_id         TEXT,
	identity        JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	progress        INTEGER NOT NULL DEFAULT 0,
	current_step    TEXT,
	completed_steps JSONB,
	remaining_steps JSONB,
	report_id       TEXT,
	report_url      TEXT,
	error_message   TEXT,
	locked_until    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS embeddings (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL REFERENCES entities(id),
	report_id  TEXT,
	kind       TEXT NOT NULL,
	key        TEXT,
	content    TEXT NOT NULL,
	vector     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_identifier ON entities(identifier);
CREATE INDEX IF NOT EXISTS idx_entity_versions_entity ON entity_versions(entity_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reports_entity_version ON reports(entity_id, version DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON report_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_entity ON report_jobs(entity_id);
CREATE INDEX IF NOT EXISTS idx_jobs_locked_until ON report_jobs(locked_until);
CREATE INDEX IF NOT EXISTS idx_embeddings_entity ON embeddings(entity_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Entities ---

func (s *PostgresStore) GetEntity(ctx context.Context, entityID string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, entityID)
	e, err := scanEntity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %s", entityID)
	}
	return e, nil
}

func (s *PostgresStore) GetEntityByIdentifier(ctx context.Context, identifier string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE identifier = $1`, identifier)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity by identifier %s", identifier)
	}
	return e, nil
}

func (s *PostgresStore) UpsertFromScrape(ctx context.Context, identifier string, kind model.EntityKind, facts map[string]any) (*model.Entity, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE identifier = $1 FOR UPDATE`, identifier)
	existing, err := scanEntity(row)

	if errors.Is(err, pgx.ErrNoRows) {
		e := &model.Entity{
			ID:             uuid.New().String(),
			Identifier:     identifier,
			Kind:           kind,
			Canonical:      facts,
			ScrapedByCount: 1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		canonicalJSON, err := json.Marshal(e.Canonical)
		if err != nil {
			return nil, false, eris.Wrap(err, "postgres: marshal canonical")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO entities (id, identifier, kind, canonical, scraped_by_count, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.Identifier, string(e.Kind), canonicalJSON, e.ScrapedByCount, now, now,
		); err != nil {
			return nil, false, eris.Wrap(err, "postgres: insert entity")
		}
		if err := insertVersionTx(ctx, tx, e.ID, model.SourceScrape, "", e.Canonical, now); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, eris.Wrap(err, "postgres: commit upsert")
		}
		return e, true, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: select entity for upsert %s", identifier)
	}

	merged, changed := model.MergeScrapeFacts(existing.Canonical, facts)
	existing.Canonical = merged
	existing.ScrapedByCount++
	existing.UpdatedAt = now

	canonicalJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal canonical")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE entities SET canonical = $1, scraped_by_count = scraped_by_count + 1, updated_at = $2 WHERE id = $3`,
		canonicalJSON, now, existing.ID,
	); err != nil {
		return nil, false, eris.Wrap(err, "postgres: update entity")
	}
	if changed {
		if err := insertVersionTx(ctx, tx, existing.ID, model.SourceScrape, "", merged, now); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit upsert")
	}
	return existing, changed, nil
}

func (s *PostgresStore) ApplyReport(ctx context.Context, entityID string, report *model.Report) (*model.Entity, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin apply report")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1 FOR UPDATE`, entityID)
	e, err := scanEntity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: select entity for report %s", entityID)
	}

	merged, _ := model.MergeReportFacts(e.Canonical, report.SubjectFacts())
	e.Canonical = merged
	e.TotalReports++
	e.LatestReportID = report.ID
	reportAt := report.GeneratedAt
	e.LatestReportAt = &reportAt
	e.UpdatedAt = now

	canonicalJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal canonical")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE entities SET canonical = $1, total_reports = total_reports + 1, latest_report_id = $2, latest_report_at = $3, updated_at = $4 WHERE id = $5`,
		canonicalJSON, report.ID, reportAt, now, entityID,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: update entity from report")
	}
	if err := insertVersionTx(ctx, tx, entityID, model.SourceReport, report.ID, merged, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit apply report")
	}
	return e, nil
}

func insertVersionTx(ctx context.Context, tx pgx.Tx, entityID string, source model.VersionSource, reportID string, canonical map[string]any, now time.Time) error {
	canonicalJSON, err := json.Marshal(canonical)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal version canonical")
	}
	var reportRef any
	if reportID != "" {
		reportRef = reportID
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO entity_versions (id, entity_id, source, report_id, canonical, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), entityID, string(source), reportRef, canonicalJSON, now,
	)
	return eris.Wrap(err, "postgres: insert entity version")
}

func (s *PostgresStore) ListEntityVersions(ctx context.Context, entityID string, limit int) ([]model.EntityVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, source, report_id, canonical, created_at FROM entity_versions WHERE entity_id = $1 ORDER BY created_at DESC LIMIT $2`,
		entityID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entity versions")
	}
	defer rows.Close()

	var versions []model.EntityVersion
	for rows.Next() {
		var v model.EntityVersion
		var reportID *string
		var canonicalJSON []byte
		if err := rows.Scan(&v.ID, &v.EntityID, &v.Source, &reportID, &canonicalJSON, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity version")
		}
		if reportID != nil {
			v.ReportID = *reportID
		}
		if err := json.Unmarshal(canonicalJSON, &v.Canonical); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal version canonical")
		}
		versions = append(versions, v)
	}
	return versions, eris.Wrap(rows.Err(), "postgres: list entity versions iterate")
}

// --- Reports ---

func (s *PostgresStore) CreateReport(ctx context.Context, entityID string, report *model.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create report")
	}
	defer tx.Rollback(ctx)

	var version int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM reports WHERE entity_id = $1`, entityID,
	).Scan(&version); err != nil {
		return eris.Wrap(err, "postgres: next report version")
	}

	report.EntityID = entityID
	report.Version = version

	body, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO reports (id, entity_id, version, body, generated_at) VALUES ($1, $2, $3, $4, $5)`,
		report.ID, entityID, version, body, report.GeneratedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert report")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit create report")
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (*model.Report, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM reports WHERE id = $1`, reportID).Scan(&body)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", reportID)
	}
	var r model.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &r, nil
}

func (s *PostgresStore) GetLatestReport(ctx context.Context, entityID string) (*model.Report, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM reports WHERE entity_id = $1 ORDER BY version DESC LIMIT 1`, entityID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest report for %s", entityID)
	}
	var r model.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &r, nil
}

func (s *PostgresStore) ReportStatsSince(ctx context.Context, since time.Time) (ReportStats, error) {
	var stats ReportStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM((body->'metadata'->>'total_cost')::double precision), 0),
		       COALESCE(SUM((body->'metadata'->>'total_tokens')::bigint), 0)
		FROM reports WHERE generated_at > $1`, since,
	).Scan(&stats.Count, &stats.TotalCost, &stats.TotalTokens)
	if err != nil {
		return ReportStats{}, eris.Wrap(err, "postgres: report stats")
	}
	return stats, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = model.JobStatusQueued
	job.RemainingSteps = append([]string{}, model.JobSteps...)

	identityJSON, err := json.Marshal(job.Identity)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job identity")
	}
	remainingJSON, err := json.Marshal(job.RemainingSteps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job steps")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO report_jobs (id, entity_id, org_id, user_id, identity, status, progress, remaining_steps, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, nullable(job.EntityID), nullable(job.OrgID), nullable(job.UserID), identityJSON, string(job.Status), 0, remainingJSON, job.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ReportJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM report_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ReportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM report_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ReportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) ClaimJob(ctx context.Context, lockFor time.Duration) (*model.ReportJob, error) {
	now := time.Now().UTC()
	current, progress, completed, remaining := stepFields(0)
	completedJSON, _ := json.Marshal(completed)
	remainingJSON, _ := json.Marshal(remaining)

	row := s.pool.QueryRow(ctx,
		`UPDATE report_jobs SET status = $1, locked_until = $2, started_at = COALESCE(started_at, $3), current_step = $4, progress = $5, completed_steps = $6, remaining_steps = $7
		 WHERE id = (SELECT id FROM report_jobs WHERE status = $8 ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED)
		 RETURNING `+jobColumns,
		string(model.JobStatusProcessing), now.Add(lockFor), now, current, progress, completedJSON, remainingJSON, string(model.JobStatusQueued),
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim job")
	}
	return j, nil
}

func (s *PostgresStore) SetJobEntity(ctx context.Context, jobID, entityID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE report_jobs SET entity_id = $1 WHERE id = $2`, entityID, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job entity %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobStep(ctx context.Context, jobID string, stepIndex int) error {
	current, progress, completed, remaining := stepFields(stepIndex)
	completedJSON, err := json.Marshal(completed)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal steps")
	}
	remainingJSON, err := json.Marshal(remaining)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal steps")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE report_jobs SET current_step = $1, progress = $2, completed_steps = $3, remaining_steps = $4 WHERE id = $5`,
		current, progress, completedJSON, remainingJSON, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job step %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID, reportID, reportURL string) error {
	completedJSON, _ := json.Marshal(model.JobSteps)
	emptyJSON, _ := json.Marshal([]string{})

	tag, err := s.pool.Exec(ctx,
		`UPDATE report_jobs SET status = $1, progress = 100, current_step = $2, completed_steps = $3, remaining_steps = $4, report_id = $5, report_url = $6, locked_until = NULL, completed_at = $7 WHERE id = $8 AND status = $9`,
		string(model.JobStatusCompleted), model.JobSteps[len(model.JobSteps)-1], completedJSON, emptyJSON, reportID, reportURL, time.Now().UTC(), jobID, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		// Job already settled; the other writer won the race.
		zap.L().Warn("job already settled, completion dropped", zap.String("job_id", jobID))
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE report_jobs SET status = $1, error_message = $2, locked_until = NULL, completed_at = $3 WHERE id = $4 AND status = $5`,
		string(model.JobStatusFailed), message, time.Now().UTC(), jobID, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		zap.L().Warn("job already settled, failure dropped", zap.String("job_id", jobID))
	}
	return nil
}

func (s *PostgresStore) ReleaseStalledJobs(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE report_jobs SET status = $1, locked_until = NULL WHERE status = $2 AND locked_until < $3`,
		string(model.JobStatusQueued), string(model.JobStatusProcessing), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: release stalled jobs")
	}
	return int(tag.RowsAffected()), nil
}

// --- Embeddings ---

func (s *PostgresStore) ReplaceEmbeddings(ctx context.Context, entityID string, records []model.EmbeddingRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace embeddings")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM embeddings WHERE entity_id = $1`, entityID); err != nil {
		return eris.Wrap(err, "postgres: delete embeddings")
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		vectorJSON, err := json.Marshal(rec.Vector)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal vector")
		}
		rows = append(rows, []any{rec.ID, entityID, nullable(rec.ReportID), string(rec.Kind), rec.Key, rec.Text, vectorJSON, now})
	}

	if _, err := db.CopyFrom(ctx, tx, "embeddings",
		[]string{"id", "entity_id", "report_id", "kind", "key", "content", "vector", "created_at"}, rows,
	); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace embeddings")
}

// --- scan helpers ---

func scanEntity(row pgx.Row) (*model.Entity, error) {
	var e model.Entity
	var canonicalJSON []byte
	var latestReportID *string

	err := row.Scan(&e.ID, &e.Identifier, &e.Kind, &canonicalJSON, &e.ScrapedByCount, &e.TotalReports, &latestReportID, &e.LatestReportAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if latestReportID != nil {
		e.LatestReportID = *latestReportID
	}
	if err := json.Unmarshal(canonicalJSON, &e.Canonical); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal canonical")
	}
	return &e, nil
}

func scanJob(row pgx.Row) (*model.ReportJob, error) {
	var j model.ReportJob
	var entityID, orgID, userID, currentStep, reportID, reportURL, errMsg *string
	var identityJSON []byte
	var completedJSON, remainingJSON *[]byte

	err := row.Scan(&j.ID, &entityID, &orgID, &userID, &identityJSON, &j.Status, &j.Progress, &currentStep, &completedJSON, &remainingJSON, &reportID, &reportURL, &errMsg, &j.LockedUntil, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}

	setIf := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setIf(&j.EntityID, entityID)
	setIf(&j.OrgID, orgID)
	setIf(&j.UserID, userID)
	setIf(&j.CurrentStep, currentStep)
	setIf(&j.ReportID, reportID)
	setIf(&j.ReportURL, reportURL)
	setIf(&j.ErrorMessage, errMsg)

	if err := json.Unmarshal(identityJSON, &j.Identity); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal job identity")
	}
	if completedJSON != nil {
		if err := json.Unmarshal(*completedJSON, &j.CompletedSteps); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal completed steps")
		}
	}
	if remainingJSON != nil {
		if err := json.Unmarshal(*remainingJSON, &j.RemainingSteps); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal remaining steps")
		}
	}
	return &j, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
