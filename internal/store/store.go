// jobclerk is a job-dispatch and lease server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package store provides the SQLite-backed persistence layer for jobclerk:
// schema migrations and the small set of atomic SQL statements
// (take_job, update_job, handle_stuck_jobs) that the dispatch engine's
// lease/heartbeat state machine is built on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"jobclerk/pkg/jobclerk"
)

const (
	defaultBusyTimeout = 5 * time.Second

	schemaVersionKey = "schema_version"
)

// ErrNotFound indicates no rows matched the query, or (for update_job) that
// the caller's token/state did not authorize the update. Per the design,
// these two cases are deliberately not distinguished.
var ErrNotFound = errors.New("not found")

// BadRequestError indicates the caller's input violated a documented
// precondition. The message is safe to return to the caller verbatim.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// Store wraps a SQLite database connection and exposes typed accessors
// for projects and jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path, applies durability
// and concurrency pragmas, runs migrations, and returns a ready Store.
func Open(ctx context.Context, path string) (*Store, error) {
	// - busy_timeout: backoff instead of erroring on a locked database
	// - journal_mode=WAL: readers don't block the single writer
	// - foreign_keys=ON: enforce the jobs->projects reference
	// - synchronous=NORMAL: reasonable safety/perf tradeoff under WAL
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite has a single writer; keep the pool small so callers queue on
	// the busy_timeout rather than piling up separate connections.
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := pingContext(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable, for use by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return pingContext(ctx, s.db)
}

func pingContext(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// --------------- Migrations ---------------

func (s *Store) migrate(ctx context.Context) error {
	if err := s.ensureSettingsTable(ctx); err != nil {
		return err
	}

	cur, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	const target = 1

	if cur < 1 {
		if err := s.migrateToV1(ctx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := s.setSchemaVersion(ctx, 1); err != nil {
			return err
		}
		cur = 1
	}

	if cur != target {
		// Future migrations go here.
	}
	return nil
}

func (s *Store) ensureSettingsTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS settings (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	const q = `SELECT value FROM settings WHERE key=?`
	var val string
	err := s.db.QueryRowContext(ctx, q, schemaVersionKey).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(val, "%d", &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	const upsert = `INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	_, err := s.db.ExecContext(ctx, upsert, schemaVersionKey, fmt.Sprintf("%d", v))
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) migrateToV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
  id                          INTEGER PRIMARY KEY AUTOINCREMENT,
  name                        TEXT NOT NULL UNIQUE,
  heartbeat_expiration_millis INTEGER NOT NULL CHECK (heartbeat_expiration_millis > 0),
  data                        TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS jobs (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  project    INTEGER NOT NULL REFERENCES projects(id),
  state      TEXT NOT NULL CHECK (state IN ('available','running','canceling','canceled','succeeded','failed')),
  created    TIMESTAMP NOT NULL,
  started    TIMESTAMP NULL,
  finished   TIMESTAMP NULL,
  heartbeat  TIMESTAMP NULL,
  runner     TEXT NULL,
  token      TEXT NULL,
  priority   INTEGER NOT NULL DEFAULT 0,
  data       TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_project_state_priority ON jobs(project, state, priority, created);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// --------------- Projects ---------------

// AddProject inserts a new project row and returns its id.
// Rejects with BadRequestError if heartbeatExpirationMillis <= 0.
func (s *Store) AddProject(ctx context.Context, name string, heartbeatExpirationMillis int64, data json.RawMessage) (int64, error) {
	if heartbeatExpirationMillis <= 0 {
		return 0, badRequest("invalid heartbeat_expiration_millis: %d", heartbeatExpirationMillis)
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	const ins = `INSERT INTO projects (name, heartbeat_expiration_millis, data) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, ins, name, heartbeatExpirationMillis, string(data))
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

func (s *Store) projectIDByName(ctx context.Context, name string) (int64, error) {
	const q = `SELECT id FROM projects WHERE name = ?`
	var id int64
	err := s.db.QueryRowContext(ctx, q, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup project: %w", err)
	}
	return id, nil
}

// --------------- Jobs ---------------

// AddJob inserts a new available job under projectName and returns its id.
// Returns ErrNotFound if the project does not exist (a tightening of the
// original not-null-constraint failure; see design notes).
func (s *Store) AddJob(ctx context.Context, projectName string, data json.RawMessage) (int64, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	projectID, err := s.projectIDByName(ctx, projectName)
	if err != nil {
		return 0, err
	}

	const ins = `INSERT INTO jobs (project, state, created, priority, data)
VALUES (?, 'available', CURRENT_TIMESTAMP, 0, ?)`
	res, err := s.db.ExecContext(ctx, ins, projectID, string(data))
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

const jobSelectColumns = `jobs.id, jobs.project, projects.name, jobs.state, jobs.created, jobs.started, jobs.finished, jobs.heartbeat, jobs.runner, jobs.priority, jobs.data`

func scanJob(row interface{ Scan(...any) error }) (*jobclerk.Job, error) {
	var (
		id, projectID  int64
		projectName    string
		state          string
		created        time.Time
		started        sql.NullTime
		finished       sql.NullTime
		heartbeat      sql.NullTime
		runner         sql.NullString
		priority       int32
		data           string
	)
	if err := row.Scan(&id, &projectID, &projectName, &state, &created, &started, &finished, &heartbeat, &runner, &priority, &data); err != nil {
		return nil, err
	}
	job := &jobclerk.Job{
		ID:          id,
		ProjectID:   projectID,
		ProjectName: projectName,
		State:       jobclerk.JobState(state),
		Created:     created.UTC(),
		Priority:    priority,
		Data:        json.RawMessage(data),
	}
	if started.Valid {
		t := started.Time.UTC()
		job.Started = &t
	}
	if finished.Valid {
		t := finished.Time.UTC()
		job.Finished = &t
	}
	if heartbeat.Valid {
		t := heartbeat.Time.UTC()
		job.Heartbeat = &t
	}
	if runner.Valid {
		job.Runner = &runner.String
	}
	return job, nil
}

// GetJob returns the job identified by (projectName, jobID), or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, projectName string, jobID int64) (*jobclerk.Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM jobs JOIN projects ON projects.id = jobs.project
WHERE projects.name = ? AND jobs.id = ?`, jobSelectColumns)
	row := s.db.QueryRowContext(ctx, q, projectName, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJobs returns every job under projectName. Ordering is unspecified.
func (s *Store) GetJobs(ctx context.Context, projectName string) ([]*jobclerk.Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM jobs JOIN projects ON projects.id = jobs.project
WHERE projects.name = ?`, jobSelectColumns)
	rows, err := s.db.QueryContext(ctx, q, projectName)
	if err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}
	defer rows.Close()

	var out []*jobclerk.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// TakeJob atomically leases the highest-priority, oldest available job in
// projectName to runner, generating a fresh token. Returns (nil, nil) if
// no job was available — this is not an error.
//
// The select-then-update is a single UPDATE...WHERE id = (SELECT ...)
// RETURNING statement so that, under SQLite's single-writer model, two
// concurrent callers can never observe and claim the same row.
func (s *Store) TakeJob(ctx context.Context, projectName, runner string) (*jobclerk.TakeJobResponseJob, error) {
	token, err := jobclerk.NewToken()
	if err != nil {
		return nil, fmt.Errorf("take job: %w", err)
	}

	const stmt = `UPDATE jobs
SET state = 'running', started = CURRENT_TIMESTAMP, heartbeat = CURRENT_TIMESTAMP, runner = ?, token = ?
WHERE id = (
  SELECT jobs.id FROM jobs JOIN projects ON projects.id = jobs.project
  WHERE projects.name = ? AND jobs.state = 'available'
  ORDER BY jobs.priority ASC, jobs.created ASC
  LIMIT 1
)
RETURNING id, token`

	row := s.db.QueryRowContext(ctx, stmt, runner, token, projectName)
	var id int64
	var gotToken string
	err = row.Scan(&id, &gotToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take job: %w", err)
	}
	return &jobclerk.TakeJobResponseJob{JobID: id, JobToken: gotToken}, nil
}

// UpdateJob applies an authorized update to a running job. The WHERE
// clause requires matching project, job id, state='running', and token,
// so that a wrong token or a job that isn't running both surface
// identically as ErrNotFound. state selects which columns are written;
// "running" and "canceling" are rejected as BadRequestError.
func (s *Store) UpdateJob(ctx context.Context, projectName string, jobID int64, token string, state *jobclerk.JobState, data json.RawMessage) error {
	var dataArg any
	if len(data) == 0 {
		dataArg = nil
	} else {
		dataArg = string(data)
	}

	var setClause string
	args := []any{dataArg}
	switch {
	case state == nil:
		setClause = `heartbeat = CURRENT_TIMESTAMP, data = COALESCE(?, data)`
	case *state == jobclerk.JobAvailable:
		setClause = `state = 'available', started = NULL, token = NULL, runner = NULL, data = COALESCE(?, data)`
	case *state == jobclerk.JobCanceled || *state == jobclerk.JobSucceeded || *state == jobclerk.JobFailed:
		setClause = `state = ?, finished = CURRENT_TIMESTAMP, token = NULL, data = COALESCE(?, data)`
		args = []any{string(*state), dataArg}
	case *state == jobclerk.JobRunning || *state == jobclerk.JobCanceling:
		return badRequest("invalid update_job target state: %s", *state)
	default:
		return badRequest("invalid update_job target state: %s", *state)
	}

	stmt := fmt.Sprintf(`UPDATE jobs SET %s
WHERE id = ? AND project = (SELECT id FROM projects WHERE name = ?) AND state = 'running' AND token = ?`, setClause)
	args = append(args, jobID, projectName, token)

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HandleStuckJobs returns every running job whose heartbeat has not
// advanced within its project's heartbeat_expiration_millis back to
// available, and reports how many rows it reclaimed. Idempotent: a
// second call immediately after the first affects zero rows.
func (s *Store) HandleStuckJobs(ctx context.Context) (int64, error) {
	const stmt = `UPDATE jobs
SET state = 'available', started = NULL, token = NULL, runner = NULL
WHERE state = 'running'
  AND heartbeat IS NOT NULL
  AND CAST((julianday('now') - julianday(heartbeat)) * 86400000 AS INTEGER) >
      (SELECT heartbeat_expiration_millis FROM projects WHERE projects.id = jobs.project)`
	res, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("handle stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("handle stuck jobs: %w", err)
	}
	return n, nil
}
