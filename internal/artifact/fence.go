// Package artifact handles the text of a generated skill document: removing
// wrapping code fences, maintaining the metadata block and extracting the
// usage patterns it contains.
package artifact

import (
	"regexp"
	"strings"
)

// fenceRe matches a fence line: up to three spaces of indent, a run of at
// least three backticks or tildes, then an optional info string.
var fenceRe = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})[ \t]*(.*?)[ \t]*$")

type fence struct {
	marker string
	info   string
}

func parseFence(line string) (fence, bool) {
	m := fenceRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return fence{}, false
	}
	// Backtick fences may not carry backticks in the info string.
	if m[1][0] == '`' && strings.Contains(m[2], "`") {
		return fence{}, false
	}
	return fence{marker: m[1], info: m[2]}, true
}

// closes reports whether f is a valid closing fence for open.
func (f fence) closes(open fence) bool {
	return f.info == "" && f.marker[0] == open.marker[0] && len(f.marker) >= len(open.marker)
}

// wrapperLangs are info strings a model uses when it wraps a whole document.
var wrapperLangs = map[string]bool{"": true, "markdown": true, "md": true, "skill": true, "text": true}

// StripFences removes fences enclosing the entire document, repeatedly, and
// trims surrounding whitespace. Applying it to its own output is a no-op.
func StripFences(text string) string {
	cur := strings.TrimSpace(text)
	for {
		next, ok := stripOnce(cur)
		if !ok {
			return cur
		}
		cur = strings.TrimSpace(next)
	}
}

// stripOnce removes one wrapping fence if the first line opens it and the
// last line is its matching closer. Inner fences that carry a language are
// treated as nested blocks so their closers are not mistaken for the
// wrapper's.
func stripOnce(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text, false
	}
	open, ok := parseFence(lines[0])
	if !ok || !wrapperLangs[strings.ToLower(open.info)] {
		return text, false
	}
	depth := 0
	for i := 1; i < len(lines); i++ {
		f, ok := parseFence(lines[i])
		if !ok {
			continue
		}
		if f.info != "" {
			depth++
			continue
		}
		if depth > 0 {
			depth--
			continue
		}
		if !f.closes(open) || i != len(lines)-1 {
			return text, false
		}
		return strings.Join(lines[1:i], "\n"), true
	}
	return text, false
}
