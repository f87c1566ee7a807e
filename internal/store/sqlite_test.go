package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/restaurant-intel/internal/model"
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

func TestNewSQLite_InvalidDSN(t *testing.T) {
	_, err := NewSQLite("/nonexistent/dir/that/does/not/exist/test.db")
	assert.Error(t, err)
}

func TestNewSQLite_ValidPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "valid.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.NoError(t, st.Ping(context.Background()))
}

func TestNewSQLite_CloseAndReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())

	st2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer st2.Close() //nolint:errcheck
	require.NoError(t, st2.Migrate(context.Background()))
	assert.NoError(t, st2.Ping(context.Background()))
}

func TestMigrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Migrate(ctx))
}

func TestScanRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing-run")
	assert.Error(t, err)
}

func TestScanRun_WithResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "https://full-record.com")
	require.NoError(t, err)

	result := &model.ExtractionMetadata{
		RunID:             run.ID,
		FinalQualityScore: 0.88,
		TotalCost:         0.42,
		OverallStatus:     "ok",
	}
	require.NoError(t, st.CompleteRun(ctx, run.ID, result))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.InDelta(t, 0.88, got.Result.FinalQualityScore, 0.001)
}

func TestScanRun_CorruptResultJSON(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "https://corrupt.com")
	require.NoError(t, err)

	_, err = st.db.ExecContext(ctx, `UPDATE runs SET result = ? WHERE id = ?`, "{not json", run.ID)
	require.NoError(t, err)

	_, err = st.GetRun(ctx, run.ID)
	assert.Error(t, err)
}

func TestCheckRowsAffected_ZeroRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	res, err := st.db.ExecContext(ctx, `UPDATE runs SET status = 'phase1' WHERE id = 'nope'`)
	require.NoError(t, err)
	assert.Error(t, checkRowsAffected(res, "run", "nope"))
}

func TestCheckRowsAffected_Success(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "https://ok.com")
	require.NoError(t, err)

	res, err := st.db.ExecContext(ctx, `UPDATE runs SET status = 'phase1' WHERE id = ?`, run.ID)
	require.NoError(t, err)
	assert.NoError(t, checkRowsAffected(res, "run", run.ID))
}

func TestUpdateRunStatus_NonexistentRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.UpdateRunStatus(ctx, "nonexistent", model.RunStatusPhase1)
	assert.Error(t, err)
}

func TestCompleteRun_NonexistentRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.CompleteRun(ctx, "nonexistent", &model.ExtractionMetadata{})
	assert.Error(t, err)
}

func TestCompletePhase_NonexistentPhase(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.CompletePhase(ctx, "nonexistent", model.PhaseStatusComplete, 0, 0, "")
	assert.Error(t, err)
}

func TestCreatePhase_OrphanRunID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// SQLite FK enforcement isn't enabled by default in this pragma set, so
	// this succeeds at the row level; orchestration guarantees the run exists first.
	phase, err := st.CreatePhase(ctx, "orphan-run", 1)
	require.NoError(t, err)
	assert.Equal(t, "orphan-run", phase.RunID)
}

func TestCreateRun_MultipleThenList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	urls := []string{"https://one.com", "https://two.com", "https://three.com"}
	for _, u := range urls {
		_, err := st.CreateRun(ctx, u)
		require.NoError(t, err)
	}

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestUpdateRunStatus_MultipleTransitions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "https://transition.com")
	require.NoError(t, err)

	for _, status := range []model.RunStatus{
		model.RunStatusPhase1, model.RunStatusPhase2, model.RunStatusPhase3,
		model.RunStatusPhase4, model.RunStatusCanonicalizing, model.RunStatusComplete,
	} {
		require.NoError(t, st.UpdateRunStatus(ctx, run.ID, status))
		got, err := st.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
	}
}

func TestCompletePhase_WithFailedStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "https://fail-phase.com")
	require.NoError(t, err)

	phase, err := st.CreatePhase(ctx, run.ID, 2)
	require.NoError(t, err)

	require.NoError(t, st.CompletePhase(ctx, phase.ID, model.PhaseStatusFailed, 0.01, 4.5, "browser navigation timeout"))
}

func TestListRuns_CombinedFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run1, err := st.CreateRun(ctx, "https://combined-a.com")
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "https://combined-b.com")
	require.NoError(t, err)

	require.NoError(t, st.UpdateRunStatus(ctx, run1.ID, model.RunStatusPhase1))

	runs, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusPhase1, TargetURL: "https://combined-a.com"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run1.ID, runs[0].ID)
}

func TestClose_OperationsAfterClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "closed.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())

	_, err = st.CreateRun(context.Background(), "https://after-close.com")
	assert.Error(t, err)
}
