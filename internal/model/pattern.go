package model

import (
	"strings"
	"time"
)

// Pattern is one independently testable usage example extracted from an
// artifact.
type Pattern struct {
	Name             string   `json:"name"`
	Language         string   `json:"language"`
	ImportStatement  string   `json:"import_statement,omitempty"`
	Code             string   `json:"code"`
	ExpectedBehavior string   `json:"expected_behavior,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
	Line             int      `json:"line"`
}

// Probe is a minimal runnable program exercising one Pattern.
type Probe struct {
	Pattern       string   `json:"pattern"`
	Runtime       string   `json:"runtime"`
	Code          string   `json:"code"`
	Dependencies  []string `json:"dependencies,omitempty"`
	SuccessMarker string   `json:"success_marker,omitempty"`
}

// ExecutionOutcome is the result of running a probe. It is never mutated
// after creation.
type ExecutionOutcome struct {
	ExitStatus *int          `json:"exit_status,omitempty"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	WallTime   time.Duration `json:"wall_time"`
	TimedOut   bool          `json:"timed_out"`
	Command    []string      `json:"command,omitempty"`
	WorkDir    string        `json:"work_dir,omitempty"`
}

// ExitedZero reports whether the process ran to completion with status 0.
func (o *ExecutionOutcome) ExitedZero() bool {
	return o != nil && !o.TimedOut && o.ExitStatus != nil && *o.ExitStatus == 0
}

// CommandLine renders the recorded command for diagnostics.
func (o *ExecutionOutcome) CommandLine() string {
	if o == nil {
		return ""
	}
	return strings.Join(o.Command, " ")
}

// PatternResult pairs a pattern with what happened when it was validated.
// Err is set when the pattern never reached execution (probe generation,
// sanitization or sandbox failure).
type PatternResult struct {
	Pattern Pattern           `json:"pattern"`
	Probe   *Probe            `json:"probe,omitempty"`
	Outcome *ExecutionOutcome `json:"outcome,omitempty"`
	Err     error             `json:"-"`
}

// ValidationMode controls how many patterns must pass for an attempt to be
// accepted.
type ValidationMode string

const (
	ValidationExhaustive ValidationMode = "exhaustive"
	ValidationAdaptive   ValidationMode = "adaptive"
	ValidationMinimal    ValidationMode = "minimal"
)

// Valid reports whether m is a known mode.
func (m ValidationMode) Valid() bool {
	switch m {
	case ValidationExhaustive, ValidationAdaptive, ValidationMinimal:
		return true
	}
	return false
}

// PatternFailure explains why a pattern did not pass.
type PatternFailure struct {
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// ValidationVerdict summarizes one validation pass. OverallPass is true only
// if every pattern required by Mode passed.
type ValidationVerdict struct {
	Mode           ValidationMode   `json:"mode"`
	PatternsTested int              `json:"patterns_tested"`
	PatternsPassed int              `json:"patterns_passed"`
	Failures       []PatternFailure `json:"failures,omitempty"`
	Waived         []string         `json:"waived,omitempty"`
	Skipped        bool             `json:"skipped,omitempty"`
	OverallPass    bool             `json:"overall_pass"`
}
