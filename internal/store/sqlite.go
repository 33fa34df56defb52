package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/ranking"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	catalog_hash TEXT NOT NULL,
	top_n        INTEGER NOT NULL,
	clients      INTEGER NOT NULL DEFAULT 0,
	products     INTEGER NOT NULL DEFAULT 0,
	source       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recommendations (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	client_code TEXT NOT NULL,
	top         TEXT NOT NULL,
	push        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS benefits (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	client_code TEXT NOT NULL,
	product     TEXT NOT NULL,
	benefit     REAL NOT NULL,
	PRIMARY KEY (run_id, position, product)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_benefits_client ON benefits(run_id, client_code);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, spec RunSpec) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, catalog_hash, top_n, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), spec.CatalogHash, spec.TopN, spec.Source, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, clients, products int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, clients = ?, products = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), clients, products, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, runErr error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errorText(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

const sqliteRunColumns = `id, status, catalog_hash, top_n, clients, products, source, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, filter.limit())

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
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *ranking.Result, pushes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save result")
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return eris.Wrapf(err, "sqlite: check run %s", runID)
	}
	if exists == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: save result for run %s", runID)
	}
	var saved int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM recommendations WHERE run_id = ?`, runID).Scan(&saved); err != nil {
		return eris.Wrapf(err, "sqlite: check snapshot %s", runID)
	}
	if saved > 0 {
		return eris.Wrapf(ErrSnapshotExists, "sqlite: run %s", runID)
	}

	recStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO recommendations (run_id, position, client_code, top, push) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare recommendation insert")
	}
	defer recStmt.Close() //nolint:errcheck

	benStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO benefits (run_id, position, client_code, product, benefit) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare benefit insert")
	}
	defer benStmt.Close() //nolint:errcheck

	for i, rec := range res.Recommendations {
		top, err := json.Marshal(rec.Top)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal top products")
		}
		if _, err := recStmt.ExecContext(ctx, runID, i, rec.ClientCode, string(top), pushAt(pushes, i)); err != nil {
			return eris.Wrapf(err, "sqlite: insert recommendation for %s", rec.ClientCode)
		}
	}
	for i, cb := range res.Benefits {
		for _, pb := range cb.Benefits {
			if _, err := benStmt.ExecContext(ctx, runID, i, cb.ClientCode, pb.Product, pb.Benefit); err != nil {
				return eris.Wrapf(err, "sqlite: insert benefit for %s", cb.ClientCode)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save result")
}

func (s *SQLiteStore) LoadRecommendations(ctx context.Context, runID string) ([]SavedRecommendation, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_code, top, push FROM recommendations WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load recommendations %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []SavedRecommendation
	for rows.Next() {
		var (
			rec SavedRecommendation
			top string
		)
		if err := rows.Scan(&rec.ClientCode, &top, &rec.Push); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recommendation")
		}
		if rec.Top, err = decodeTop([]byte(top)); err != nil {
			return nil, err
		}
		rec.TopN = run.TopN
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load recommendations iterate")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var (
		r      model.Run
		status string
	)
	err := row.Scan(&r.ID, &status, &r.CatalogHash, &r.TopN, &r.Clients, &r.Products,
		&r.Source, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return nil
}
