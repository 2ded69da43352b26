// Package runtimes defines the probe runtimes: how code in a language is
// recognized, which imports it declares, and how it is installed and run.
package runtimes

import (
	"sort"
	"strings"

	"github.com/sells-group/skillgen/internal/model"
)

// Runtime describes one probe execution environment.
type Runtime interface {
	// ID is the canonical identifier, e.g. "python".
	ID() string
	// Aliases are fence language tags and ecosystem names mapping to this runtime.
	Aliases() []string
	// FileName is the probe file name for the given code.
	FileName(code string) string
	// DefaultImage is the container image used when none is configured.
	DefaultImage() string
	// Imports returns the imported module paths in order of appearance.
	Imports(code string) []string
	// IsStdlib reports whether an import needs no installation.
	IsStdlib(imp string) bool
	// Pin renders an install spec for name at version.
	Pin(name, version string) string
	// ContainerScript is the shell script run inside the container. The
	// probe directory is mounted read-only at /probe.
	ContainerScript(file string, deps []string) string
	// LocalSteps are the argv steps run on the host inside workDir.
	LocalSteps(workDir, file string, deps []string) [][]string
}

// Registry maps identifiers and aliases to runtimes.
type Registry struct {
	byID    map[string]Runtime
	byAlias map[string]Runtime
}

// NewRegistry builds a registry from the given runtimes. Later entries win on
// alias conflicts.
func NewRegistry(rs ...Runtime) *Registry {
	r := &Registry{byID: map[string]Runtime{}, byAlias: map[string]Runtime{}}
	for _, rt := range rs {
		r.Register(rt)
	}
	return r
}

// Default returns a registry with the built-in python, node and go runtimes.
func Default() *Registry {
	return NewRegistry(Python{}, Node{}, Go{})
}

// Register adds rt to the registry.
func (r *Registry) Register(rt Runtime) {
	r.byID[rt.ID()] = rt
	r.byAlias[rt.ID()] = rt
	for _, a := range rt.Aliases() {
		r.byAlias[strings.ToLower(a)] = rt
	}
}

// Get returns the runtime with the given identifier.
func (r *Registry) Get(id string) (Runtime, bool) {
	rt, ok := r.byID[id]
	return rt, ok
}

// Lookup resolves an identifier, fence tag or ecosystem name.
func (r *Registry) Lookup(name string) (Runtime, bool) {
	rt, ok := r.byAlias[strings.ToLower(strings.TrimSpace(name))]
	return rt, ok
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies derives the install specs for a set of imports. The library
// under documentation is pinned to its metadata version; other third-party
// imports are installed by name. Standard library imports are dropped.
func Dependencies(rt Runtime, imports []string, lib model.LibraryMetadata) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, imp := range imports {
		if rt.IsStdlib(imp) {
			continue
		}
		if belongsTo(rt, imp, lib.Import()) {
			add(rt.Pin(lib.Package(), lib.Version))
			continue
		}
		add(rt.Pin(installName(rt, imp), ""))
	}
	return out
}

func belongsTo(rt Runtime, imp, libImport string) bool {
	if libImport == "" {
		return false
	}
	if imp == libImport {
		return true
	}
	if rt.ID() == "go" {
		return strings.HasPrefix(imp, libImport+"/")
	}
	return false
}

func installName(rt Runtime, imp string) string {
	if g, ok := rt.(Go); ok {
		return g.modulePath(imp)
	}
	return imp
}

func uniq(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
