package runtimes

import (
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	jsImportRe  = regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*?\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequireRe = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
	jsDynamicRe = regexp.MustCompile(`\bimport\(\s*['"]([^'"]+)['"]\s*\)`)
)

var nodeBuiltins = setOf(
	"assert", "async_hooks", "buffer", "child_process", "cluster", "console", "crypto", "dgram",
	"dns", "events", "fs", "http", "http2", "https", "module", "net", "os", "path", "perf_hooks",
	"process", "querystring", "readline", "stream", "string_decoder", "test", "timers", "tls",
	"tty", "url", "util", "v8", "vm", "worker_threads", "zlib",
)

// Node runs probes with node and npm.
type Node struct{}

func (Node) ID() string { return "node" }

func (Node) Aliases() []string {
	return []string{"javascript", "js", "mjs", "cjs", "nodejs", "npm"}
}

// FileName picks CommonJS when the code uses require and ESM otherwise.
func (Node) FileName(code string) string {
	if jsRequireRe.MatchString(code) && !jsImportRe.MatchString(code) {
		return "main.cjs"
	}
	return "main.mjs"
}

func (Node) DefaultImage() string { return "node:22-slim" }

func (Node) Imports(code string) []string {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, re := range []*regexp.Regexp{jsImportRe, jsRequireRe, jsDynamicRe} {
		for _, m := range re.FindAllStringSubmatchIndex(code, -1) {
			spec := code[m[2]:m[3]]
			if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
				continue
			}
			hits = append(hits, hit{m[2], packageRoot(spec)})
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

func packageRoot(spec string) string {
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func (Node) IsStdlib(imp string) bool {
	return strings.HasPrefix(imp, "node:") || nodeBuiltins[imp]
}

func (Node) Pin(name, version string) string {
	if version == "" {
		return name
	}
	return name + "@" + version
}

func (Node) ContainerScript(file string, deps []string) string {
	lines := []string{"set -e", "cp -r /probe /work", "cd /work"}
	if len(deps) > 0 {
		args := append([]string{"npm", "install", "--silent", "--no-audit", "--no-fund"}, deps...)
		lines = append(lines, shellquote.Join(args...)+" >&2")
	}
	lines = append(lines, shellquote.Join("exec", "node", file))
	return strings.Join(lines, "\n")
}

func (Node) LocalSteps(workDir, file string, deps []string) [][]string {
	var steps [][]string
	if len(deps) > 0 {
		steps = append(steps, append([]string{"npm", "install", "--prefix", workDir, "--silent", "--no-audit", "--no-fund"}, deps...))
	}
	return append(steps, []string{"node", file})
}
