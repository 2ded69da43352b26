package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/skillgen/internal/model"
)

// detector is one deterministic safety rule.
type detector struct {
	name string
	re   *regexp.Regexp
}

var safetyDetectors = []detector{
	{"destructive command: recursive delete of root or home", regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|--recursive\s+--force|--force\s+--recursive)\s+(--no-preserve-root\s+)?("?/"?(\s|$|\*)|~/?(\s|$)|\$HOME\b)`)},
	{"destructive command: filesystem format", regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\s+\S*/dev/`)},
	{"destructive command: raw device write", regexp.MustCompile(`(?i)\bdd\s+[^\n]*\bof=/dev/(sd|hd|nvme|xvd|vd|disk|mmcblk)`)},
	{"destructive command: fork bomb", regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"credential exfiltration", regexp.MustCompile(`(?i)(\benv\b|\bprintenv\b|\.env\b|\.aws/credentials|\.ssh/id_[a-z0-9]+|\.netrc|/etc/shadow|\.npmrc|\.pypirc)[^\n|]*\|\s*(curl|wget|nc|ncat|netcat)\b`)},
	{"credential exfiltration", regexp.MustCompile(`(?i)\b(curl|wget)\b[^\n]*(--data(-binary|-raw)?|-d|--post-file|-T|--upload-file)\s+@?\S*(\.env\b|\.aws/credentials|\.ssh/id_[a-z0-9]+|\.netrc|/etc/shadow)`)},
	{"remote script piped to a shell", regexp.MustCompile(`(?i)\b(curl|wget)\b[^\n|]*\|\s*(sudo\s+)?(ba|z|da|k)?sh\b`)},
	{"instruction injection", regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+|any\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|directions|rules)`)},
	{"instruction injection", regexp.MustCompile(`(?im)^\s*(</?(system|assistant|user)>|\[/?INST\]|<\|im_start\|>|<\|im_end\|>)`)},
}

// ScanSafety runs the deterministic safety detectors over an artifact. Each
// detector reports at most once, at its first match.
func ScanSafety(text string) []model.ReviewIssue {
	var issues []model.ReviewIssue
	seen := map[string]bool{}
	for _, d := range safetyDetectors {
		loc := d.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		line := strings.Count(text[:loc[0]], "\n") + 1
		detail := fmt.Sprintf("%s at line %d: %q", d.name, line, excerpt(text[loc[0]:loc[1]]))
		if seen[detail] {
			continue
		}
		seen[detail] = true
		issues = append(issues, model.ReviewIssue{Class: model.IssueSafety, Detail: detail, Source: "scan"})
	}
	return issues
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// SafetyViolationError ends a run: the artifact contains content that must
// never be emitted or retried.
type SafetyViolationError struct {
	Attempt int
	Issues  []model.ReviewIssue
}

func (e *SafetyViolationError) Error() string {
	details := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		details = append(details, is.Detail)
	}
	return fmt.Sprintf("pipeline: safety violation in attempt %d: %s", e.Attempt, strings.Join(details, "; "))
}
