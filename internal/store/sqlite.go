package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intel-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local
// development and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id               TEXT PRIMARY KEY,
	identifier       TEXT NOT NULL UNIQUE,
	kind             TEXT NOT NULL,
	canonical        TEXT NOT NULL DEFAULT '{}',
	scraped_by_count INTEGER NOT NULL DEFAULT 0,
	total_reports    INTEGER NOT NULL DEFAULT 0,
	latest_report_id TEXT,
	latest_report_at DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entity_versions (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL REFERENCES entities(id),
	source     TEXT NOT NULL,
	report_id  TEXT,
	canonical  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL REFERENCES entities(id),
	version      INTEGER NOT NULL,
	body         TEXT NOT NULL,
	generated_at DATETIME NOT NULL,
	UNIQUE (entity_id, version)
);

CREATE TABLE IF NOT EXISTS report_jobs (
	id              TEXT PRIMARY KEY,
	entity_id       TEXT,
	org_id          TEXT,
	user_id         TEXT,
	identity        TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'queued',
	progress        INTEGER NOT NULL DEFAULT 0,
	current_step    TEXT,
	completed_steps TEXT,
	remaining_steps TEXT,
	report_id       TEXT,
	report_url      TEXT,
	error_message   TEXT,
	locked_until    DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at      DATETIME,
	completed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS embeddings (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL REFERENCES entities(id),
	report_id  TEXT,
	kind       TEXT NOT NULL,
	key        TEXT,
	content    TEXT NOT NULL,
	vector     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_identifier ON entities(identifier);
CREATE INDEX IF NOT EXISTS idx_entity_versions_entity ON entity_versions(entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reports_entity_version ON reports(entity_id, version);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON report_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_entity ON report_jobs(entity_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_entity ON embeddings(entity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Entities ---

func (s *SQLiteStore) GetEntity(ctx context.Context, entityID string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, entityID)
	e, err := scanEntitySQLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %s", entityID)
	}
	return e, nil
}

func (s *SQLiteStore) GetEntityByIdentifier(ctx context.Context, identifier string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE identifier = ?`, identifier)
	e, err := scanEntitySQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity by identifier %s", identifier)
	}
	return e, nil
}

func (s *SQLiteStore) UpsertFromScrape(ctx context.Context, identifier string, kind model.EntityKind, facts map[string]any) (*model.Entity, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE identifier = ?`, identifier)
	existing, err := scanEntitySQLite(row)

	if errors.Is(err, sql.ErrNoRows) {
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
			return nil, false, eris.Wrap(err, "sqlite: marshal canonical")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (id, identifier, kind, canonical, scraped_by_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Identifier, string(e.Kind), string(canonicalJSON), e.ScrapedByCount, now, now,
		); err != nil {
			return nil, false, eris.Wrap(err, "sqlite: insert entity")
		}
		if err := insertVersionSQLite(ctx, tx, e.ID, model.SourceScrape, "", e.Canonical, now); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, eris.Wrap(err, "sqlite: commit upsert")
		}
		return e, true, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: select entity for upsert %s", identifier)
	}

	merged, changed := model.MergeScrapeFacts(existing.Canonical, facts)
	existing.Canonical = merged
	existing.ScrapedByCount++
	existing.UpdatedAt = now

	canonicalJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: marshal canonical")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET canonical = ?, scraped_by_count = scraped_by_count + 1, updated_at = ? WHERE id = ?`,
		string(canonicalJSON), now, existing.ID,
	); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: update entity")
	}
	if changed {
		if err := insertVersionSQLite(ctx, tx, existing.ID, model.SourceScrape, "", merged, now); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit upsert")
	}
	return existing, changed, nil
}

func (s *SQLiteStore) ApplyReport(ctx context.Context, entityID string, report *model.Report) (*model.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin apply report")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, entityID)
	e, err := scanEntitySQLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: select entity for report %s", entityID)
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
		return nil, eris.Wrap(err, "sqlite: marshal canonical")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET canonical = ?, total_reports = total_reports + 1, latest_report_id = ?, latest_report_at = ?, updated_at = ? WHERE id = ?`,
		string(canonicalJSON), report.ID, reportAt, now, entityID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: update entity from report")
	}
	if err := insertVersionSQLite(ctx, tx, entityID, model.SourceReport, report.ID, merged, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit apply report")
	}
	return e, nil
}

func insertVersionSQLite(ctx context.Context, tx *sql.Tx, entityID string, source model.VersionSource, reportID string, canonical map[string]any, now time.Time) error {
	canonicalJSON, err := json.Marshal(canonical)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal version canonical")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entity_versions (id, entity_id, source, report_id, canonical, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), entityID, string(source), nullable(reportID), string(canonicalJSON), now,
	)
	return eris.Wrap(err, "sqlite: insert entity version")
}

func (s *SQLiteStore) ListEntityVersions(ctx context.Context, entityID string, limit int) ([]model.EntityVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, source, report_id, canonical, created_at FROM entity_versions WHERE entity_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		entityID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entity versions")
	}
	defer rows.Close()

	var versions []model.EntityVersion
	for rows.Next() {
		var v model.EntityVersion
		var reportID sql.NullString
		var canonicalJSON string
		if err := rows.Scan(&v.ID, &v.EntityID, &v.Source, &reportID, &canonicalJSON, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity version")
		}
		v.ReportID = reportID.String
		if err := json.Unmarshal([]byte(canonicalJSON), &v.Canonical); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal version canonical")
		}
		versions = append(versions, v)
	}
	return versions, eris.Wrap(rows.Err(), "sqlite: list entity versions iterate")
}

// --- Reports ---

func (s *SQLiteStore) CreateReport(ctx context.Context, entityID string, report *model.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create report")
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM reports WHERE entity_id = ?`, entityID,
	).Scan(&version); err != nil {
		return eris.Wrap(err, "sqlite: next report version")
	}

	report.EntityID = entityID
	report.Version = version

	body, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (id, entity_id, version, body, generated_at) VALUES (?, ?, ?, ?, ?)`,
		report.ID, entityID, version, string(body), report.GeneratedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert report")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create report")
}

func (s *SQLiteStore) GetReport(ctx context.Context, reportID string) (*model.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE id = ?`, reportID).Scan(&body)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", reportID)
	}
	var r model.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &r, nil
}

func (s *SQLiteStore) GetLatestReport(ctx context.Context, entityID string) (*model.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM reports WHERE entity_id = ? ORDER BY version DESC LIMIT 1`, entityID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest report for %s", entityID)
	}
	var r model.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &r, nil
}

func (s *SQLiteStore) ReportStatsSince(ctx context.Context, since time.Time) (ReportStats, error) {
	var stats ReportStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(json_extract(body, '$.metadata.total_cost')), 0),
		       COALESCE(SUM(json_extract(body, '$.metadata.total_tokens')), 0)
		FROM reports WHERE generated_at > ?`, since.UTC(),
	).Scan(&stats.Count, &stats.TotalCost, &stats.TotalTokens)
	if err != nil {
		return ReportStats{}, eris.Wrap(err, "sqlite: report stats")
	}
	return stats, nil
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ReportJob) error {
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
		return eris.Wrap(err, "sqlite: marshal job identity")
	}
	remainingJSON, err := json.Marshal(job.RemainingSteps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job steps")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO report_jobs (id, entity_id, org_id, user_id, identity, status, progress, remaining_steps, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullable(job.EntityID), nullable(job.OrgID), nullable(job.UserID), string(identityJSON), string(job.Status), 0, string(remainingJSON), job.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ReportJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM report_jobs WHERE id = ?`, jobID)
	j, err := scanJobSQLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ReportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM report_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ReportJob
	for rows.Next() {
		j, err := scanJobSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, lockFor time.Duration) (*model.ReportJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim")
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM report_jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		string(model.JobStatusQueued),
	).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select claimable job")
	}

	now := time.Now().UTC()
	current, progress, completed, remaining := stepFields(0)
	completedJSON, _ := json.Marshal(completed)
	remainingJSON, _ := json.Marshal(remaining)

	res, err := tx.ExecContext(ctx,
		`UPDATE report_jobs SET status = ?, locked_until = ?, started_at = COALESCE(started_at, ?), current_step = ?, progress = ?, completed_steps = ?, remaining_steps = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusProcessing), now.Add(lockFor), now, current, progress, string(completedJSON), string(remainingJSON), jobID, string(model.JobStatusQueued),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another worker won the race; treat as nothing claimable this poll.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}
	return s.GetJob(ctx, jobID)
}

func (s *SQLiteStore) SetJobEntity(ctx context.Context, jobID, entityID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE report_jobs SET entity_id = ? WHERE id = ?`, entityID, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job entity %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) UpdateJobStep(ctx context.Context, jobID string, stepIndex int) error {
	current, progress, completed, remaining := stepFields(stepIndex)
	completedJSON, err := json.Marshal(completed)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal steps")
	}
	remainingJSON, err := json.Marshal(remaining)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal steps")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE report_jobs SET current_step = ?, progress = ?, completed_steps = ?, remaining_steps = ? WHERE id = ?`,
		current, progress, string(completedJSON), string(remainingJSON), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job step %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID, reportID, reportURL string) error {
	completedJSON, _ := json.Marshal(model.JobSteps)
	emptyJSON, _ := json.Marshal([]string{})

	res, err := s.db.ExecContext(ctx,
		`UPDATE report_jobs SET status = ?, progress = 100, current_step = ?, completed_steps = ?, remaining_steps = ?, report_id = ?, report_url = ?, locked_until = NULL, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusCompleted), model.JobSteps[len(model.JobSteps)-1], string(completedJSON), string(emptyJSON), reportID, reportURL, time.Now().UTC(), jobID, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Job already settled; the other writer won the race.
		zap.L().Warn("job already settled, completion dropped", zap.String("job_id", jobID))
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE report_jobs SET status = ?, error_message = ?, locked_until = NULL, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusFailed), message, time.Now().UTC(), jobID, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		zap.L().Warn("job already settled, failure dropped", zap.String("job_id", jobID))
	}
	return nil
}

func (s *SQLiteStore) ReleaseStalledJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE report_jobs SET status = ?, locked_until = NULL WHERE status = ? AND locked_until < ?`,
		string(model.JobStatusQueued), string(model.JobStatusProcessing), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: release stalled jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: stalled rows affected")
	}
	return int(n), nil
}

// --- Embeddings ---

func (s *SQLiteStore) ReplaceEmbeddings(ctx context.Context, entityID string, records []model.EmbeddingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace embeddings")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE entity_id = ?`, entityID); err != nil {
		return eris.Wrap(err, "sqlite: delete embeddings")
	}

	now := time.Now().UTC()
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		vectorJSON, err := json.Marshal(rec.Vector)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal vector")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings (id, entity_id, report_id, kind, key, content, vector, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, entityID, nullable(rec.ReportID), string(rec.Kind), rec.Key, rec.Text, string(vectorJSON), now,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert embedding")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace embeddings")
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanEntitySQLite(row scannable) (*model.Entity, error) {
	var e model.Entity
	var canonicalJSON string
	var latestReportID sql.NullString
	var latestReportAt sql.NullTime

	err := row.Scan(&e.ID, &e.Identifier, &e.Kind, &canonicalJSON, &e.ScrapedByCount, &e.TotalReports, &latestReportID, &latestReportAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.LatestReportID = latestReportID.String
	if latestReportAt.Valid {
		t := latestReportAt.Time
		e.LatestReportAt = &t
	}
	if err := json.Unmarshal([]byte(canonicalJSON), &e.Canonical); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal canonical")
	}
	return &e, nil
}

func scanJobSQLite(row scannable) (*model.ReportJob, error) {
	var j model.ReportJob
	var entityID, orgID, userID, currentStep, reportID, reportURL, errMsg sql.NullString
	var completedJSON, remainingJSON sql.NullString
	var identityJSON string
	var lockedUntil, startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &entityID, &orgID, &userID, &identityJSON, &j.Status, &j.Progress, &currentStep, &completedJSON, &remainingJSON, &reportID, &reportURL, &errMsg, &lockedUntil, &j.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	j.EntityID = entityID.String
	j.OrgID = orgID.String
	j.UserID = userID.String
	j.CurrentStep = currentStep.String
	j.ReportID = reportID.String
	j.ReportURL = reportURL.String
	j.ErrorMessage = errMsg.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		j.LockedUntil = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(identityJSON), &j.Identity); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job identity")
	}
	if completedJSON.Valid && completedJSON.String != "" {
		if err := json.Unmarshal([]byte(completedJSON.String), &j.CompletedSteps); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal completed steps")
		}
	}
	if remainingJSON.Valid && remainingJSON.String != "" {
		if err := json.Unmarshal([]byte(remainingJSON.String), &j.RemainingSteps); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal remaining steps")
		}
	}
	return &j, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
