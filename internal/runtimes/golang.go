package runtimes

import (
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	goSingleImportRe = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w.]+\s+)?"([^"]+)"`)
	goBlockImportRe  = regexp.MustCompile(`(?s)\bimport\s*\((.*?)\)`)
	goBlockLineRe    = regexp.MustCompile(`(?m)^\s*(?:[\w.]+\s+)?"([^"]+)"`)
)

// Go runs probes with the go toolchain in module mode.
type Go struct{}

func (Go) ID() string { return "go" }

func (Go) Aliases() []string { return []string{"golang"} }

func (Go) FileName(string) string { return "main.go" }

func (Go) DefaultImage() string { return "golang:1.25" }

func (Go) Imports(code string) []string {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, m := range goSingleImportRe.FindAllStringSubmatchIndex(code, -1) {
		hits = append(hits, hit{m[2], code[m[2]:m[3]]})
	}
	for _, b := range goBlockImportRe.FindAllStringSubmatchIndex(code, -1) {
		block := code[b[2]:b[3]]
		for _, m := range goBlockLineRe.FindAllStringSubmatchIndex(block, -1) {
			hits = append(hits, hit{b[2] + m[2], block[m[2]:m[3]]})
		}
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.name
	}
	return uniq(names)
}

// IsStdlib treats any import whose first element has no dot as standard
// library, which is how the go command distinguishes them.
func (Go) IsStdlib(imp string) bool {
	first, _, _ := strings.Cut(imp, "/")
	return !strings.Contains(first, ".")
}

func (Go) Pin(name, version string) string {
	if version == "" {
		return name
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return name + "@" + version
}

// modulePath trims well-known hosts to their owner/repo module root.
func (Go) modulePath(imp string) string {
	parts := strings.Split(imp, "/")
	switch parts[0] {
	case "github.com", "gitlab.com", "bitbucket.org":
		if len(parts) > 3 {
			return strings.Join(parts[:3], "/")
		}
	case "golang.org":
		if len(parts) > 3 && parts[1] == "x" {
			return strings.Join(parts[:3], "/")
		}
	}
	return imp
}

func (Go) ContainerScript(file string, deps []string) string {
	lines := []string{"set -e", "cp -r /probe /work", "cd /work", "go mod init probe >/dev/null 2>&1"}
	if len(deps) > 0 {
		args := append([]string{"go", "get"}, deps...)
		lines = append(lines, shellquote.Join(args...)+" >&2")
	}
	lines = append(lines, shellquote.Join("exec", "go", "run", file))
	return strings.Join(lines, "\n")
}

func (Go) LocalSteps(_, file string, deps []string) [][]string {
	steps := [][]string{{"go", "mod", "init", "probe"}}
	if len(deps) > 0 {
		steps = append(steps, append([]string{"go", "get"}, deps...))
	}
	return append(steps, []string{"go", "run", file})
}
