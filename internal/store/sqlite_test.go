package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestSQLite_RunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, RunSpec{CatalogHash: "abc123", TopN: 4, Source: "data/"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.CatalogHash)
	assert.Equal(t, 4, got.TopN)
	assert.Equal(t, "data/", got.Source)
	assert.Equal(t, model.RunStatusRunning, got.Status)

	require.NoError(t, s.CompleteRun(ctx, run.ID, 60, 12))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, 60, got.Clients)
	assert.Equal(t, 12, got.Products)
	assert.Empty(t, got.Error)
}

func TestSQLite_FailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, RunSpec{CatalogHash: "h", TopN: 4})
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, run.ID, errors.New("ingest: no client data")))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "ingest: no client data", got.Error)
}

func TestSQLite_NotFound(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.CompleteRun(ctx, "missing", 1, 1), ErrNotFound)
	assert.ErrorIs(t, s.FailRun(ctx, "missing", nil), ErrNotFound)
	assert.ErrorIs(t, s.SaveResult(ctx, "missing", testResult(t), nil), ErrNotFound)
	_, err = s.LoadRecommendations(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var ids []string
	for range 3 {
		run, err := s.CreateRun(ctx, RunSpec{CatalogHash: "h", TopN: 4})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	require.NoError(t, s.CompleteRun(ctx, ids[0], 1, 1))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	complete, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, ids[0], complete[0].ID)

	page, err := s.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestSQLite_SaveAndLoadResult(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	res := testResult(t)

	run, err := s.CreateRun(ctx, RunSpec{CatalogHash: "h", TopN: res.TopN})
	require.NoError(t, err)

	empty, err := s.LoadRecommendations(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.SaveResult(ctx, run.ID, res, []string{"push for 1"}))

	recs, err := s.LoadRecommendations(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, res.Recommendations[0], recs[0].Recommendation)
	assert.Equal(t, res.Recommendations[1], recs[1].Recommendation)
	assert.Equal(t, "push for 1", recs[0].Push)
	assert.Empty(t, recs[1].Push)

	var benefitRows int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM benefits WHERE run_id = ?`, run.ID).Scan(&benefitRows))
	assert.Equal(t, 4, benefitRows)

	var deposit float64
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT benefit FROM benefits WHERE run_id = ? AND client_code = '2' AND product = 'Deposit'`, run.ID).Scan(&deposit))
	assert.InDelta(t, 10_000, deposit, 1e-9)

	err = s.SaveResult(ctx, run.ID, res, nil)
	assert.ErrorIs(t, err, ErrSnapshotExists)
}

func TestSQLite_ListRunsCreatedAfter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, RunSpec{CatalogHash: "h", TopN: 4})
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	runs, err = s.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
