package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/store"
)

// maxRunsScanned bounds one collection pass.
const maxRunsScanned = 10000

// MetricsSnapshot holds a point-in-time view of generation runs.
type MetricsSnapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsExhausted int     `json:"runs_exhausted"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailureRate   float64 `json:"failure_rate"`
	ExhaustRate   float64 `json:"exhaust_rate"`
	AvgAttempts   float64 `json:"avg_attempts"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Calls        int     `json:"calls"`
	CostUSD      float64 `json:"cost_usd"`

	// Libraries counts runs per library name.
	Libraries map[string]int `json:"libraries,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the ledger the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run ledger.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect gathers a snapshot over the given lookback window. A window of
// zero or less covers every recorded run.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		Libraries:     map[string]int{},
	}

	filter := store.RunFilter{Limit: maxRunsScanned}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	runs, err := c.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var attempts int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusSucceeded:
			snap.RunsSucceeded++
		case model.RunStatusExhausted:
			snap.RunsExhausted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		attempts += r.Attempts
		snap.InputTokens += r.Usage.InputTokens
		snap.OutputTokens += r.Usage.OutputTokens
		snap.Calls += r.Usage.Calls
		snap.CostUSD += r.CostUSD
		snap.Libraries[r.Library]++
	}

	finished := snap.RunsSucceeded + snap.RunsExhausted + snap.RunsFailed
	if finished > 0 {
		snap.FailureRate = float64(snap.RunsFailed) / float64(finished)
		snap.ExhaustRate = float64(snap.RunsExhausted) / float64(finished)
	}
	if snap.RunsTotal > 0 {
		snap.AvgAttempts = float64(attempts) / float64(snap.RunsTotal)
	}
	return snap, nil
}
