package model

import "time"

// RunStatus represents the lifecycle state of a recorded generation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusFailed    RunStatus = "failed"
)

// StatusFor maps a terminal disposition to the recorded run status.
func StatusFor(d Disposition) RunStatus {
	switch d {
	case Succeeded:
		return RunStatusSucceeded
	case ExhaustedRetries:
		return RunStatusExhausted
	default:
		return RunStatusFailed
	}
}

// Run is the ledger record for one generation run.
type Run struct {
	ID          string     `json:"id"`
	Library     string     `json:"library"`
	Version     string     `json:"version"`
	Provider    string     `json:"provider"`
	Status      RunStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	BestAttempt int        `json:"best_attempt"`
	Reason      string     `json:"reason,omitempty"`
	Usage       TokenUsage `json:"usage"`
	CostUSD     float64    `json:"cost_usd"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RunResult is the terminal summary written when a run finishes.
type RunResult struct {
	Status      RunStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	BestAttempt int        `json:"best_attempt"`
	Reason      string     `json:"reason,omitempty"`
	Usage       TokenUsage `json:"usage"`
	CostUSD     float64    `json:"cost_usd"`
}

// AttemptRecord is the ledger record for one attempt within a run.
type AttemptRecord struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Index          int       `json:"index"`
	PatternsTested int       `json:"patterns_tested"`
	PatternsPassed int       `json:"patterns_passed"`
	ReviewPassed   *bool     `json:"review_passed,omitempty"`
	Passed         bool      `json:"passed"`
	Feedback       string    `json:"feedback,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewAttemptRecord summarizes an attempt for the ledger.
func NewAttemptRecord(runID string, a *Attempt, passed bool) AttemptRecord {
	rec := AttemptRecord{
		RunID:    runID,
		Index:    a.Index,
		Passed:   passed,
		Feedback: a.Feedback,
		Error:    a.Error,
	}
	if a.Validation != nil {
		rec.PatternsTested = a.Validation.PatternsTested
		rec.PatternsPassed = a.Validation.PatternsPassed
	}
	if a.Review != nil {
		ok := a.Review.Passed
		rec.ReviewPassed = &ok
	}
	return rec
}
