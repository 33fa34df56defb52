// Package monitoring watches recorded ranking runs and raises webhook alerts
// when they go wrong.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/store"
)

// maxRuns bounds how many runs one collection inspects.
const maxRuns = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`
	// StaleRuns are runs still running after the stale threshold.
	StaleRuns []string `json:"stale_runs,omitempty"`

	ClientsRanked   int     `json:"clients_ranked"`
	AvgDurationSecs float64 `json:"avg_duration_secs"`
	LastError       string  `json:"last_error,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	runs       RunLister
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Runs running longer than staleAfter are
// reported as stale; zero disables the check.
func NewCollector(runs RunLister, staleAfter time.Duration) *Collector {
	return &Collector{runs: runs, staleAfter: staleAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window. A non-positive
// window covers every recorded run.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	filter := store.RunFilter{Limit: maxRuns}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	runs, err := c.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalDur time.Duration
	var lastFailed time.Time
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			snap.ClientsRanked += r.Clients
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
		case model.RunStatusFailed:
			snap.RunsFailed++
			if r.UpdatedAt.After(lastFailed) {
				lastFailed = r.UpdatedAt
				snap.LastError = r.Error
			}
		case model.RunStatusRunning:
			snap.RunsRunning++
			if c.staleAfter > 0 && now.Sub(r.CreatedAt) > c.staleAfter {
				snap.StaleRuns = append(snap.StaleRuns, r.ID)
			}
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		snap.AvgDurationSecs = totalDur.Seconds() / float64(snap.RunsComplete)
	}
	return snap, nil
}
