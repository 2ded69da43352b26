// Package validate turns probe outcomes into a verdict for one attempt and
// renders the failures as feedback for the next synthesis.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/sanitize"
)

const maxReasonLen = 400

// Check decides whether one pattern passed and, if not, why.
func Check(r model.PatternResult) (bool, string) {
	if r.Err != nil {
		if errors.Is(r.Err, sanitize.ErrRejected) {
			return false, "dependency rejected: " + r.Err.Error()
		}
		return false, "probe could not be run: " + r.Err.Error()
	}
	o := r.Outcome
	if o == nil {
		return false, "probe produced no outcome"
	}
	if o.TimedOut {
		return false, fmt.Sprintf("timed out after %s", o.WallTime.Round(time.Millisecond))
	}
	if o.ExitStatus == nil {
		return false, "exit status unknown"
	}
	if *o.ExitStatus != 0 {
		return false, fmt.Sprintf("exited with status %d: %s", *o.ExitStatus, tail(o.Stderr, o.Stdout))
	}
	if r.Probe != nil && r.Probe.SuccessMarker != "" && !strings.Contains(o.Stdout, r.Probe.SuccessMarker) {
		return false, fmt.Sprintf("exited 0 but did not print success marker %q", r.Probe.SuccessMarker)
	}
	return true, ""
}

// tail returns the last meaningful output lines, preferring stderr.
func tail(stderr, stdout string) string {
	out := strings.TrimSpace(stderr)
	if out == "" {
		out = strings.TrimSpace(stdout)
	}
	if out == "" {
		return "no output"
	}
	lines := strings.Split(out, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	s := strings.Join(lines, " | ")
	if len(s) > maxReasonLen {
		s = "..." + s[len(s)-maxReasonLen:]
	}
	return s
}

// FailureHistory counts consecutive failed attempts per pattern name across
// the attempts of one run. It is safe for concurrent use.
type FailureHistory struct {
	mu          sync.Mutex
	threshold   int
	consecutive map[string]int
}

// NewFailureHistory creates an empty history. In adaptive mode a pattern
// that failed threshold consecutive attempts is no longer required.
func NewFailureHistory(threshold int) *FailureHistory {
	if threshold < 1 {
		threshold = 1
	}
	return &FailureHistory{threshold: threshold, consecutive: map[string]int{}}
}

// Record updates the history with one attempt's results. A pattern absent
// from the attempt keeps its count.
func (h *FailureHistory) Record(results []model.PatternResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range results {
		if ok, _ := Check(r); ok {
			h.consecutive[r.Pattern.Name] = 0
		} else {
			h.consecutive[r.Pattern.Name]++
		}
	}
}

// Consecutive returns the number of consecutive failed attempts for name.
func (h *FailureHistory) Consecutive(name string) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive[name]
}

// Waived reports whether name has failed often enough to stop being required.
func (h *FailureHistory) Waived(name string) bool {
	if h == nil {
		return false
	}
	return h.Consecutive(name) >= h.threshold
}

// Evaluate computes the verdict for one attempt. In adaptive mode patterns
// the history marks as waived are not required, though never every pattern.
// history may be nil.
func Evaluate(mode model.ValidationMode, results []model.PatternResult, history *FailureHistory) model.ValidationVerdict {
	v := model.ValidationVerdict{Mode: mode, PatternsTested: len(results)}

	passed := make([]bool, len(results))
	reasons := make([]string, len(results))
	for i, r := range results {
		passed[i], reasons[i] = Check(r)
		if passed[i] {
			v.PatternsPassed++
		}
	}

	required := requiredSet(mode, results, history)
	v.OverallPass = true
	for i, r := range results {
		switch {
		case passed[i]:
		case required[i]:
			v.OverallPass = false
			v.Failures = append(v.Failures, model.PatternFailure{Pattern: r.Pattern.Name, Reason: reasons[i]})
		case mode == model.ValidationAdaptive:
			v.Waived = append(v.Waived, r.Pattern.Name)
		}
	}

	if mode == model.ValidationMinimal && len(results) > 1 {
		v.OverallPass = minimalPass(results, passed)
		v.Failures = nil
		if !v.OverallPass {
			p := primary(results)
			otherPassed := v.PatternsPassed > 0 && !(v.PatternsPassed == 1 && passed[p])
			for i, r := range results {
				if passed[i] || (i != p && otherPassed) {
					continue
				}
				v.Failures = append(v.Failures, model.PatternFailure{Pattern: r.Pattern.Name, Reason: reasons[i]})
			}
		}
	}
	return v
}

// requiredSet marks the patterns that must pass. Minimal mode is handled
// separately because its second requirement is "any one other".
func requiredSet(mode model.ValidationMode, results []model.PatternResult, history *FailureHistory) []bool {
	req := make([]bool, len(results))
	switch mode {
	case model.ValidationMinimal:
		if len(results) > 0 {
			req[primary(results)] = true
		}
	case model.ValidationAdaptive:
		some := false
		for i, r := range results {
			req[i] = !history.Waived(r.Pattern.Name)
			some = some || req[i]
		}
		if !some && len(results) > 0 {
			req[primary(results)] = true
		}
	default:
		for i := range req {
			req[i] = true
		}
	}
	return req
}

// minimalPass requires the primary pattern and at least one other to pass.
func minimalPass(results []model.PatternResult, passed []bool) bool {
	p := primary(results)
	if !passed[p] {
		return false
	}
	for i := range results {
		if i != p && passed[i] {
			return true
		}
	}
	return false
}

// primary is the first pattern that declares an import, else the first.
func primary(results []model.PatternResult) int {
	for i, r := range results {
		if strings.TrimSpace(r.Pattern.ImportStatement) != "" {
			return i
		}
	}
	return 0
}

// Feedback renders the verdict as concise lines for the next synthesis.
// It is empty when the verdict passed.
func Feedback(v model.ValidationVerdict) string {
	if v.OverallPass || v.Skipped {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Code example validation failed (%d of %d examples ran successfully, mode %s).\n",
		v.PatternsPassed, v.PatternsTested, v.Mode)
	for _, f := range v.Failures {
		fmt.Fprintf(&b, "- Example %q: %s. Fix the example so it runs as written, or replace it with one that does.\n", f.Pattern, f.Reason)
	}
	for _, w := range v.Waived {
		fmt.Fprintf(&b, "- Example %q keeps failing and is no longer required; rewrite it or remove it.\n", w)
	}
	return strings.TrimRight(b.String(), "\n")
}
