package runtimes

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	pyImportRe = regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][\w.]*(?:\s+as\s+\w+)?(?:\s*,\s*[A-Za-z_][\w.]*(?:\s+as\s+\w+)?)*)`)
	pyFromRe   = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
)

var pythonStdlib = setOf(
	"__future__", "abc", "argparse", "array", "ast", "asyncio", "base64", "bisect", "builtins",
	"calendar", "collections", "concurrent", "contextlib", "contextvars", "copy", "csv", "ctypes",
	"dataclasses", "datetime", "decimal", "difflib", "email", "enum", "errno", "fnmatch",
	"fractions", "functools", "gc", "getpass", "glob", "gzip", "hashlib", "heapq", "hmac", "html",
	"http", "importlib", "inspect", "io", "ipaddress", "itertools", "json", "logging", "math",
	"mimetypes", "multiprocessing", "operator", "os", "pathlib", "pickle", "platform", "pprint",
	"queue", "random", "re", "secrets", "select", "shlex", "shutil", "signal", "socket", "sqlite3",
	"ssl", "statistics", "string", "struct", "subprocess", "sys", "tempfile", "textwrap",
	"threading", "time", "timeit", "tomllib", "traceback", "types", "typing", "unicodedata",
	"unittest", "urllib", "uuid", "warnings", "weakref", "xml", "zipfile", "zlib", "zoneinfo",
)

// Python runs probes with CPython and pip.
type Python struct{}

func (Python) ID() string { return "python" }

func (Python) Aliases() []string { return []string{"py", "python3", "pypi"} }

func (Python) FileName(string) string { return "main.py" }

func (Python) DefaultImage() string { return "python:3.12-slim" }

func (Python) Imports(code string) []string {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, m := range pyImportRe.FindAllStringSubmatchIndex(code, -1) {
		for _, part := range strings.Split(code[m[2]:m[3]], ",") {
			name := strings.Fields(strings.TrimSpace(part))
			if len(name) > 0 {
				hits = append(hits, hit{m[2], rootModule(name[0])})
			}
		}
	}
	for _, m := range pyFromRe.FindAllStringSubmatchIndex(code, -1) {
		hits = append(hits, hit{m[2], rootModule(code[m[2]:m[3]])})
	}
	// Keep source order across both forms.
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

func rootModule(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func (Python) IsStdlib(imp string) bool { return pythonStdlib[imp] }

func (Python) Pin(name, version string) string {
	if version == "" {
		return name
	}
	return name + "==" + version
}

func (Python) ContainerScript(file string, deps []string) string {
	lines := []string{"set -e", "cp -r /probe /work", "cd /work"}
	if len(deps) > 0 {
		args := append([]string{"pip", "install", "--quiet", "--disable-pip-version-check", "--no-input", "--root-user-action=ignore"}, deps...)
		lines = append(lines, shellquote.Join(args...)+" >&2")
	}
	lines = append(lines, shellquote.Join("exec", "python", file))
	return strings.Join(lines, "\n")
}

func (Python) LocalSteps(workDir, file string, deps []string) [][]string {
	venv := filepath.Join(workDir, ".venv")
	steps := [][]string{{"python3", "-m", "venv", venv}}
	if len(deps) > 0 {
		steps = append(steps, append([]string{filepath.Join(venv, "bin", "pip"), "install", "--quiet", "--disable-pip-version-check", "--no-input"}, deps...))
	}
	return append(steps, []string{filepath.Join(venv, "bin", "python"), file})
}
