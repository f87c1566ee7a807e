package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // Register the pure-Go SQLite driver.

	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// Embed pragmas in DSN so every pooled connection gets them.
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Allow enough connections for parallel pipelines + their fan-out phases.
	db.SetMaxOpenConns(10)

	// Verify the connection is usable (sql.Open is lazy).
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	target_url TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	phase      INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	cost       REAL NOT NULL DEFAULT 0,
	duration_s REAL NOT NULL DEFAULT 0,
	error      TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_target_url ON runs(target_url);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);

CREATE TABLE IF NOT EXISTS artifact_index (
	uri             TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	media_kind      TEXT NOT NULL,
	producing_phase INTEGER NOT NULL,
	caption         TEXT,
	content_hash    TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL,
	captured_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_artifact_index_run_id ON artifact_index(run_id);
CREATE INDEX IF NOT EXISTS idx_artifact_index_content_hash ON artifact_index(content_hash);

CREATE TABLE IF NOT EXISTS answer_cache (
	target_url  TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	value       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	observed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (target_url, field_key)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id        TEXT PRIMARY KEY,
	phase_reached INTEGER NOT NULL,
	data          TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	target_url     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_phase   INTEGER NOT NULL DEFAULT 0,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(ctx context.Context, targetURL string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, target_url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, targetURL, model.RunStatusQueued, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}

	return &model.Run{
		ID:        id,
		TargetURL: targetURL,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateRunStatus implements Store.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// CompleteRun implements Store.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.ExtractionMetadata) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		model.RunStatusComplete, string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// FailRun implements Store.
func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		model.RunStatusFailed, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, target_url, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, target_url, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.TargetURL != "" {
		query += ` AND target_url = ?`
		args = append(args, filter.TargetURL)
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
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// CreatePhase implements Store.
func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, phase int) (*model.RunPhaseRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, phase, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, phase, model.PhaseStatusRunning, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create phase")
	}

	return &model.RunPhaseRecord{
		ID:        id,
		RunID:     runID,
		Phase:     phase,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

// CompletePhase implements Store.
func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, cost, durationS float64, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, cost = ?, duration_s = ?, error = ? WHERE id = ?`,
		status, cost, durationS, errMsg, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "run_phase", phaseID)
}

// RecordArtifact implements Store.
func (s *SQLiteStore) RecordArtifact(ctx context.Context, entry ArtifactIndexEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifact_index
		 (uri, run_id, media_kind, producing_phase, caption, content_hash, size_bytes, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.URI, entry.RunID, entry.MediaKind, entry.ProducingPhase,
		entry.Caption, entry.ContentHash, entry.SizeBytes, entry.CapturedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: record artifact")
}

// GetArtifactIndex implements Store.
func (s *SQLiteStore) GetArtifactIndex(ctx context.Context, uri string) (*ArtifactIndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uri, run_id, media_kind, producing_phase, caption, content_hash, size_bytes, captured_at
		 FROM artifact_index WHERE uri = ?`,
		uri,
	)
	var e ArtifactIndexEntry
	var caption sql.NullString
	err := row.Scan(&e.URI, &e.RunID, &e.MediaKind, &e.ProducingPhase, &caption, &e.ContentHash, &e.SizeBytes, &e.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get artifact index")
	}
	e.Caption = caption.String
	return &e, nil
}

// ListArtifactsForRun implements Store.
func (s *SQLiteStore) ListArtifactsForRun(ctx context.Context, runID string) ([]ArtifactIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uri, run_id, media_kind, producing_phase, caption, content_hash, size_bytes, captured_at
		 FROM artifact_index WHERE run_id = ? ORDER BY captured_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts for run")
	}
	defer rows.Close() //nolint:errcheck

	var entries []ArtifactIndexEntry
	for rows.Next() {
		var e ArtifactIndexEntry
		var caption sql.NullString
		if err := rows.Scan(&e.URI, &e.RunID, &e.MediaKind, &e.ProducingPhase, &caption, &e.ContentHash, &e.SizeBytes, &e.CapturedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact index")
		}
		e.Caption = caption.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

// GetHighConfidenceAnswers implements Store.
func (s *SQLiteStore) GetHighConfidenceAnswers(ctx context.Context, targetURL string, minConfidence float64) ([]model.AnswerCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_url, field_key, value, confidence, observed_at
		 FROM answer_cache WHERE target_url = ? AND confidence >= ?`,
		targetURL, minConfidence,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get high confidence answers")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.AnswerCacheEntry
	for rows.Next() {
		var e model.AnswerCacheEntry
		if err := rows.Scan(&e.TargetURL, &e.FieldKey, &e.Value, &e.Confidence, &e.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan answer cache entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: get high confidence answers iterate")
}

// SetAnswer implements Store.
func (s *SQLiteStore) SetAnswer(ctx context.Context, entry model.AnswerCacheEntry) error {
	observedAt := entry.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO answer_cache (target_url, field_key, value, confidence, observed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.TargetURL, entry.FieldKey, entry.Value, entry.Confidence, observedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: set answer")
}

// SaveCheckpoint implements Store.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, runID string, phaseReached int, data []byte) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (run_id, phase_reached, data, created_at) VALUES (?, ?, ?, ?)`,
		runID, phaseReached, string(data), now,
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

// LoadCheckpoint implements Store.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, phase_reached, data, created_at FROM checkpoints WHERE run_id = ?`,
		runID,
	)
	var cp model.Checkpoint
	var data string
	err := row.Scan(&cp.RunID, &cp.PhaseReached, &data, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load checkpoint")
	}
	cp.Data = []byte(data)
	return &cp, nil
}

// DeleteCheckpoint implements Store.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE run_id = ?`,
		runID,
	)
	return eris.Wrap(err, "sqlite: delete checkpoint")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString
	var errMsg sql.NullString

	err := row.Scan(&r.ID, &r.TargetURL, &r.Status, &resultJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.ExtractionMetadata{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return &r, nil
}

func scanRunFromRows(rows *sql.Rows) (*model.Run, error) {
	return scanRun(rows)
}

// EnqueueDLQ implements Store.
func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO dead_letter_queue
		 (id, run_id, target_url, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, entry.TargetURL, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

// DequeueDLQ implements Store.
func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	now := time.Now().UTC()
	query := `SELECT id, run_id, target_url, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{now}

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.TargetURL, &e.Error, &e.ErrorType,
			&e.FailedPhase, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

// IncrementDLQRetry implements Store.
func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

// RemoveDLQ implements Store.
func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

// CountDLQ implements Store.
func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}
