//go:build integration

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	target_url TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	phase      INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_s DOUBLE PRECISION NOT NULL DEFAULT 0,
	error      TEXT,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	size_bytes      BIGINT NOT NULL,
	captured_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_artifact_index_run_id ON artifact_index(run_id);
CREATE INDEX IF NOT EXISTS idx_artifact_index_content_hash ON artifact_index(content_hash);

CREATE TABLE IF NOT EXISTS answer_cache (
	target_url  TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	value       TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (target_url, field_key)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id        TEXT PRIMARY KEY,
	phase_reached INTEGER NOT NULL,
	data          BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id         TEXT NOT NULL,
	target_url     TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_phase   INTEGER NOT NULL DEFAULT 0,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, targetURL string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, target_url, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, targetURL, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		TargetURL: targetURL,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.ExtractionMetadata) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction metadata")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, target_url, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	return scanPostgresRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, target_url, status, result, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.TargetURL != "" {
		query += fmt.Sprintf(` AND target_url = $%d`, argIdx)
		args = append(args, filter.TargetURL)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
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
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, phase int) (*model.RunPhaseRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, phase, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, phase, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhaseRecord{
		ID:        id,
		RunID:     runID,
		Phase:     phase,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, cost, durationS float64, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, cost = $2, duration_s = $3, error = $4 WHERE id = $5`,
		string(status), cost, durationS, errMsg, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) RecordArtifact(ctx context.Context, entry ArtifactIndexEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifact_index (uri, run_id, media_kind, producing_phase, caption, content_hash, size_bytes, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (uri) DO UPDATE SET caption = excluded.caption`,
		entry.URI, entry.RunID, entry.MediaKind, entry.ProducingPhase,
		entry.Caption, entry.ContentHash, entry.SizeBytes, entry.CapturedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: record artifact")
}

func (s *PostgresStore) GetArtifactIndex(ctx context.Context, uri string) (*ArtifactIndexEntry, error) {
	var e ArtifactIndexEntry
	var caption *string
	err := s.pool.QueryRow(ctx,
		`SELECT uri, run_id, media_kind, producing_phase, caption, content_hash, size_bytes, captured_at
		 FROM artifact_index WHERE uri = $1`,
		uri,
	).Scan(&e.URI, &e.RunID, &e.MediaKind, &e.ProducingPhase, &caption, &e.ContentHash, &e.SizeBytes, &e.CapturedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get artifact index")
	}
	if caption != nil {
		e.Caption = *caption
	}
	return &e, nil
}

func (s *PostgresStore) ListArtifactsForRun(ctx context.Context, runID string) ([]ArtifactIndexEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT uri, run_id, media_kind, producing_phase, caption, content_hash, size_bytes, captured_at
		 FROM artifact_index WHERE run_id = $1 ORDER BY captured_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts for run")
	}
	defer rows.Close()

	var entries []ArtifactIndexEntry
	for rows.Next() {
		var e ArtifactIndexEntry
		var caption *string
		if err := rows.Scan(&e.URI, &e.RunID, &e.MediaKind, &e.ProducingPhase, &caption, &e.ContentHash, &e.SizeBytes, &e.CapturedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact index")
		}
		if caption != nil {
			e.Caption = *caption
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

func (s *PostgresStore) GetHighConfidenceAnswers(ctx context.Context, targetURL string, minConfidence float64) ([]model.AnswerCacheEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT target_url, field_key, value, confidence, observed_at
		 FROM answer_cache WHERE target_url = $1 AND confidence >= $2`,
		targetURL, minConfidence,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get high confidence answers")
	}
	defer rows.Close()

	var entries []model.AnswerCacheEntry
	for rows.Next() {
		var e model.AnswerCacheEntry
		if err := rows.Scan(&e.TargetURL, &e.FieldKey, &e.Value, &e.Confidence, &e.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan answer cache entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: get high confidence answers iterate")
}

func (s *PostgresStore) SetAnswer(ctx context.Context, entry model.AnswerCacheEntry) error {
	observedAt := entry.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO answer_cache (target_url, field_key, value, confidence, observed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (target_url, field_key) DO UPDATE SET value = excluded.value, confidence = excluded.confidence, observed_at = excluded.observed_at`,
		entry.TargetURL, entry.FieldKey, entry.Value, entry.Confidence, observedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: set answer")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, runID string, phaseReached int, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (run_id, phase_reached, data, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id) DO UPDATE SET phase_reached = excluded.phase_reached, data = excluded.data, created_at = excluded.created_at`,
		runID, phaseReached, data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, phase_reached, data, created_at FROM checkpoints WHERE run_id = $1`,
		runID,
	).Scan(&cp.RunID, &cp.PhaseReached, &cp.Data, &cp.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load checkpoint")
	}
	return &cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE run_id = $1`, runID)
	return eris.Wrap(err, "postgres: delete checkpoint")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, target_url, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET error = excluded.error, error_type = excluded.error_type, next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.RunID, entry.TargetURL, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	now := time.Now().UTC()
	query := `SELECT id, run_id, target_url, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= $1 AND retry_count < max_retries`
	args := []any{now}
	argIdx := 2

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.TargetURL, &e.Error, &e.ErrorType,
			&e.FailedPhase, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = $3
		 WHERE id = $4`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresRun(row pgRowScanner) (*model.Run, error) {
	var r model.Run
	var resultJSON []byte
	var errMsg *string

	err := row.Scan(&r.ID, &r.TargetURL, &r.Status, &resultJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if resultJSON != nil {
		r.Result = &model.ExtractionMetadata{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}
