package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-cli/internal/db"
	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/ranking"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
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
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	catalog_hash TEXT NOT NULL,
	top_n        INTEGER NOT NULL,
	clients      INTEGER NOT NULL DEFAULT 0,
	products     INTEGER NOT NULL DEFAULT 0,
	source       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recommendations (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	client_code TEXT NOT NULL,
	top         JSONB NOT NULL,
	push        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS benefits (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	client_code TEXT NOT NULL,
	product     TEXT NOT NULL,
	benefit     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, position, product)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_benefits_client ON benefits(run_id, client_code);
`

var (
	recommendationColumns = []string{"run_id", "position", "client_code", "top", "push"}
	benefitColumns        = []string{"run_id", "position", "client_code", "product", "benefit"}
)

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, spec RunSpec) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, catalog_hash, top_n, source, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(model.RunStatusRunning), spec.CatalogHash, spec.TopN, spec.Source, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:          id,
		Status:      model.RunStatusRunning,
		CatalogHash: spec.CatalogHash,
		TopN:        spec.TopN,
		Source:      spec.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, clients, products int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, clients = $2, products = $3, updated_at = $4 WHERE id = $5`,
		string(model.RunStatusComplete), clients, products, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errorText(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, status, catalog_hash, top_n, clients, products, source, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs`
	args := []any{filter.limit(), max(filter.Offset, 0)}
	var conds []string
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter.UTC())
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveResult writes the snapshot in one transaction, streaming both tables
// through COPY.
func (s *PostgresStore) SaveResult(ctx context.Context, runID string, res *ranking.Result, pushes []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save result")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var lockedID string
	err = tx.QueryRow(ctx, `SELECT id FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: save result for run %s", runID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lock run %s", runID)
	}

	var saved int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM recommendations WHERE run_id = $1`, runID).Scan(&saved); err != nil {
		return eris.Wrapf(err, "postgres: check snapshot %s", runID)
	}
	if saved > 0 {
		return eris.Wrapf(ErrSnapshotExists, "postgres: run %s", runID)
	}

	recRows := make([][]any, 0, len(res.Recommendations))
	for i, rec := range res.Recommendations {
		top, err := json.Marshal(rec.Top)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal top products")
		}
		recRows = append(recRows, []any{runID, i, rec.ClientCode, top, pushAt(pushes, i)})
	}
	var benRows [][]any
	for i, cb := range res.Benefits {
		for _, pb := range cb.Benefits {
			benRows = append(benRows, []any{runID, i, cb.ClientCode, pb.Product, pb.Benefit})
		}
	}

	if _, err := db.CopyFrom(ctx, tx, "recommendations", recommendationColumns, recRows); err != nil {
		return eris.Wrapf(err, "postgres: save recommendations %s", runID)
	}
	if _, err := db.CopyFrom(ctx, tx, "benefits", benefitColumns, benRows); err != nil {
		return eris.Wrapf(err, "postgres: save benefits %s", runID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save result")
}

func (s *PostgresStore) LoadRecommendations(ctx context.Context, runID string) ([]SavedRecommendation, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT client_code, top, push FROM recommendations WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load recommendations %s", runID)
	}
	defer rows.Close()

	var out []SavedRecommendation
	for rows.Next() {
		var (
			rec SavedRecommendation
			top []byte
		)
		if err := rows.Scan(&rec.ClientCode, &top, &rec.Push); err != nil {
			return nil, eris.Wrap(err, "postgres: scan recommendation")
		}
		if rec.Top, err = decodeTop(top); err != nil {
			return nil, err
		}
		rec.TopN = run.TopN
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load recommendations iterate")
}
