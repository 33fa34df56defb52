// Package store persists ranking runs and their result snapshots.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/ranking"
)

var (
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrSnapshotExists is returned when a run already has saved results.
	ErrSnapshotExists = eris.New("store: run already has a result snapshot")
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// RunSpec describes a run at creation time.
type RunSpec struct {
	CatalogHash string `json:"catalog_hash"`
	TopN        int    `json:"top_n"`
	Source      string `json:"source,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// SavedRecommendation is a persisted recommendation with its push text.
type SavedRecommendation struct {
	model.Recommendation
	Push string `json:"push,omitempty"`
}

// Store defines the persistence interface for ranking runs.
type Store interface {
	CreateRun(ctx context.Context, spec RunSpec) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, clients, products int) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// SaveResult stores a run's recommendations and full benefit map. A run
	// accepts a single snapshot.
	SaveResult(ctx context.Context, runID string, res *ranking.Result, pushes []string) error
	LoadRecommendations(ctx context.Context, runID string) ([]SavedRecommendation, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and migrates it. DriverNone (or
// an empty driver with no DSN) yields a nil Store.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(driver) {
	case DriverNone:
		return nil, nil
	case DriverSQLite, "":
		if dsn == "" {
			return nil, nil
		}
		s, err = NewSQLite(dsn)
	case DriverPostgres:
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func pushAt(pushes []string, i int) string {
	if i < len(pushes) {
		return pushes[i]
	}
	return ""
}

func decodeTop(data []byte) ([]model.ProductBenefit, error) {
	var top []model.ProductBenefit
	if len(data) == 0 {
		return top, nil
	}
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, eris.Wrap(err, "store: decode top products")
	}
	return top, nil
}
