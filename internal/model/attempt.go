package model

import (
	"github.com/rotisserie/eris"
)

// ExtractionRole names one of the three extraction agents.
type ExtractionRole string

const (
	RoleAPISurface    ExtractionRole = "api_surface"
	RoleUsageExamples ExtractionRole = "usage_examples"
	RoleConventions   ExtractionRole = "conventions"
)

// ExtractionRoles lists the roles in their canonical order.
var ExtractionRoles = []ExtractionRole{RoleAPISurface, RoleUsageExamples, RoleConventions}

// ExtractionResult is the output of one extraction agent.
type ExtractionResult struct {
	Role   ExtractionRole `json:"role"`
	Output string         `json:"output"`
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
}

// IssueClass partitions review findings into retryable and fatal classes.
type IssueClass string

const (
	IssueAccuracy IssueClass = "accuracy"
	IssueSafety   IssueClass = "safety"
)

// ReviewIssue is one finding from the review stage or the safety scan.
type ReviewIssue struct {
	Class  IssueClass `json:"class"`
	Detail string     `json:"detail"`
	Source string     `json:"source,omitempty"`
}

// ReviewVerdict is the review stage's judgment of one artifact.
type ReviewVerdict struct {
	Passed    bool          `json:"passed"`
	Issues    []ReviewIssue `json:"issues,omitempty"`
	Malformed bool          `json:"malformed,omitempty"`
}

// SafetyIssues returns the subset of issues classed as safety.
func (v *ReviewVerdict) SafetyIssues() []ReviewIssue {
	if v == nil {
		return nil
	}
	var out []ReviewIssue
	for _, is := range v.Issues {
		if is.Class == IssueSafety {
			out = append(out, is)
		}
	}
	return out
}

// AccuracyIssues returns the subset of issues classed as accuracy.
func (v *ReviewVerdict) AccuracyIssues() []ReviewIssue {
	if v == nil {
		return nil
	}
	var out []ReviewIssue
	for _, is := range v.Issues {
		if is.Class == IssueAccuracy {
			out = append(out, is)
		}
	}
	return out
}

// Attempt is one pass through synthesis, review and validation.
type Attempt struct {
	Index      int                `json:"index"`
	Artifact   string             `json:"artifact,omitempty"`
	Review     *ReviewVerdict     `json:"review,omitempty"`
	Validation *ValidationVerdict `json:"validation,omitempty"`
	Feedback   string             `json:"feedback,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// HasArtifact reports whether synthesis produced text for this attempt.
func (a *Attempt) HasArtifact() bool {
	return a != nil && a.Artifact != ""
}

// PatternsPassed returns the validation pass count, or 0 without a verdict.
func (a *Attempt) PatternsPassed() int {
	if a == nil || a.Validation == nil {
		return 0
	}
	return a.Validation.PatternsPassed
}

// Disposition is the terminal classification of a run.
type Disposition int

const (
	Succeeded Disposition = iota
	ExhaustedRetries
	FatalFailure
)

func (d Disposition) String() string {
	switch d {
	case Succeeded:
		return "succeeded"
	case ExhaustedRetries:
		return "exhausted_retries"
	case FatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Disposition) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Disposition) UnmarshalText(b []byte) error {
	switch string(b) {
	case "succeeded":
		*d = Succeeded
	case "exhausted_retries":
		*d = ExhaustedRetries
	case "fatal_failure":
		*d = FatalFailure
	default:
		return eris.Errorf("model: unknown disposition %q", string(b))
	}
	return nil
}

// TokenUsage tracks token consumption across collaborator calls.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Calls        int   `json:"calls"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.Calls += other.Calls
}

// RunOutcome is what the orchestrator returns for one run.
type RunOutcome struct {
	RunID       string      `json:"run_id"`
	Disposition Disposition `json:"disposition"`
	Final       *Attempt    `json:"final,omitempty"`
	Attempts    int         `json:"attempts"`
	Reason      string      `json:"reason,omitempty"`
	Usage       TokenUsage  `json:"usage"`
	CostUSD     float64     `json:"cost_usd"`
}
