package artifact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/runtimes"
)

var headingRe = regexp.MustCompile(`^ {0,3}#{1,6}[ \t]+(.+?)[ \t#]*$`)

// ParsePatterns extracts the fenced code examples written in a runtime the
// registry knows, paired with the nearest heading and the prose paragraph
// preceding each block. It never fails: an unterminated fence ends parsing
// and contributes nothing, and a document without examples yields none.
func ParsePatterns(text string, reg *runtimes.Registry) []model.Pattern {
	_, body, hasFM := SplitFrontMatter(text)
	offset := 0
	if hasFM {
		offset = strings.Count(text, "\n") - strings.Count(body, "\n")
	}
	lines := strings.Split(body, "\n")

	var (
		patterns  []model.Pattern
		heading   string
		current   []string
		lastPara  []string
		nameCount = map[string]int{}
	)

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if open, ok := parseFence(line); ok {
			end := -1
			for j := i + 1; j < len(lines); j++ {
				if f, ok := parseFence(lines[j]); ok && f.closes(open) {
					end = j
					break
				}
			}
			if end < 0 {
				break
			}

			para := current
			if len(para) == 0 {
				para = lastPara
			}
			code := strings.Join(lines[i+1:end], "\n")
			if rt, ok := reg.Lookup(fenceLanguage(open.info)); ok && strings.TrimSpace(code) != "" {
				patterns = append(patterns, model.Pattern{
					Name:             patternName(heading, nameCount, len(patterns)+1),
					Language:         rt.ID(),
					ImportStatement:  importLines(code),
					Code:             code,
					ExpectedBehavior: collapse(para),
					Line:             offset + i + 1,
				})
			}
			current, lastPara = nil, nil
			i = end
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			heading = strings.TrimSpace(m[1])
			current, lastPara = nil, nil
			continue
		}

		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				lastPara, current = current, nil
			}
			continue
		}
		current = append(current, strings.TrimSpace(line))
	}
	return patterns
}

// fenceLanguage normalizes an info string such as "{.python title=x}" to
// "python".
func fenceLanguage(info string) string {
	info = strings.TrimSpace(info)
	info = strings.Trim(info, "{}")
	if f := strings.Fields(info); len(f) > 0 {
		info = f[0]
	} else {
		return ""
	}
	info = strings.TrimPrefix(info, ".")
	if i := strings.IndexAny(info, ",;"); i >= 0 {
		info = info[:i]
	}
	return strings.ToLower(info)
}

func patternName(heading string, seen map[string]int, ordinal int) string {
	if heading == "" {
		return fmt.Sprintf("pattern-%d", ordinal)
	}
	seen[heading]++
	if n := seen[heading]; n > 1 {
		return fmt.Sprintf("%s #%d", heading, n)
	}
	return heading
}

func collapse(lines []string) string {
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}

// importLines returns the lines of code that declare imports.
func importLines(code string) string {
	var out []string
	inBlock := false
	for _, l := range strings.Split(code, "\n") {
		t := strings.TrimSpace(l)
		switch {
		case inBlock:
			out = append(out, l)
			if t == ")" {
				inBlock = false
			}
		case strings.HasPrefix(t, "import ("), t == "import(":
			out = append(out, l)
			inBlock = true
		case strings.HasPrefix(t, "import "), strings.HasPrefix(t, "from ") && strings.Contains(t, " import "):
			out = append(out, l)
		case strings.Contains(t, "require(") && (strings.HasPrefix(t, "const ") || strings.HasPrefix(t, "let ") || strings.HasPrefix(t, "var ")):
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
