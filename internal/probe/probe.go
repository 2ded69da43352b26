// Package probe turns a documented usage pattern into a small runnable
// program that exercises it and prints a marker on success.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/llm"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sanitize"
)

// ErrUnparseable is returned when the collaborator's reply holds neither the
// expected JSON object nor a code block.
var ErrUnparseable = eris.New("probe: unparseable response")

const systemPrompt = `You write probe programs that check whether a documented code example works.
A probe is a single self-contained file that runs the example's essential calls with tiny inputs,
uses no network access unless the example requires it, finishes within a few seconds, and prints
a unique success marker on its own line as its last action. If any step fails it must exit non-zero.
Do not install packages and do not import third-party modules other than the ones listed.
Reply with only a JSON object: {"code": "<full file contents>", "success_marker": "<marker>"}`

// Generator builds probes with the generation collaborator.
type Generator struct {
	gen   llm.Generator
	reg   *runtimes.Registry
	model string
}

// New creates a probe generator. modelID may be empty to use the backend default.
func New(gen llm.Generator, reg *runtimes.Registry, modelID string) *Generator {
	return &Generator{gen: gen, reg: reg, model: modelID}
}

// Generate produces a probe for p. Its dependencies are the pattern's own,
// derived from its imports; anything else the collaborator asks for is
// dropped.
func (g *Generator) Generate(ctx context.Context, p model.Pattern, runtimeID string, lib model.LibraryMetadata) (*model.Probe, error) {
	rt, ok := g.reg.Get(runtimeID)
	if !ok {
		return nil, eris.Errorf("probe: unsupported runtime %q", runtimeID)
	}

	deps := PatternDependencies(rt, p, lib)
	if err := sanitize.Dependencies(runtimeID, deps); err != nil {
		return nil, eris.Wrapf(err, "probe: pattern %q", p.Name)
	}

	resp, err := g.gen.Generate(ctx, llm.Request{
		Stage:   llm.StageProbe,
		Label:   p.Name,
		Model:   g.model,
		System:  systemPrompt,
		Context: libraryContext(lib, runtimeID),
		Prompt:  probePrompt(p, runtimeID, deps),
		JSON:    true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "probe: generate for %q", p.Name)
	}

	code, marker, proposed, err := parseReply(resp.Text)
	if err != nil {
		return nil, eris.Wrapf(err, "probe: pattern %q", p.Name)
	}

	if extra := extras(proposed, deps); len(extra) > 0 {
		zap.L().Warn("probe: dropping undeclared dependencies",
			zap.String("pattern", p.Name),
			zap.Strings("dropped", extra),
		)
	}

	return &model.Probe{
		Pattern:       p.Name,
		Runtime:       runtimeID,
		Code:          code,
		Dependencies:  deps,
		SuccessMarker: marker,
	}, nil
}

// PatternDependencies returns the install specs a pattern needs: the ones it
// declares, or else the ones derived from its imports.
func PatternDependencies(rt runtimes.Runtime, p model.Pattern, lib model.LibraryMetadata) []string {
	if len(p.Dependencies) > 0 {
		return p.Dependencies
	}
	src := p.Code
	if p.ImportStatement != "" && !strings.Contains(p.Code, p.ImportStatement) {
		src = p.ImportStatement + "\n" + p.Code
	}
	return runtimes.Dependencies(rt, rt.Imports(src), lib)
}

func libraryContext(lib model.LibraryMetadata, runtimeID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Library: %s", lib.Name)
	if lib.Version != "" {
		fmt.Fprintf(&b, " %s", lib.Version)
	}
	fmt.Fprintf(&b, "\nImport name: %s\nRuntime: %s", lib.Import(), runtimeID)
	return b.String()
}

func probePrompt(p model.Pattern, runtimeID string, deps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pattern: %s\n", p.Name)
	if p.ExpectedBehavior != "" {
		fmt.Fprintf(&b, "Expected behavior: %s\n", p.ExpectedBehavior)
	}
	if len(deps) > 0 {
		fmt.Fprintf(&b, "Available third-party modules: %s\n", strings.Join(deps, ", "))
	} else {
		b.WriteString("Available third-party modules: none\n")
	}
	fmt.Fprintf(&b, "\nExample (%s):\n```%s\n%s\n```\n", runtimeID, runtimeID, p.Code)
	return b.String()
}

type reply struct {
	Code          string   `json:"code"`
	SuccessMarker string   `json:"success_marker"`
	Dependencies  []string `json:"dependencies"`
}

var (
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
	codeBlockRe  = regexp.MustCompile("(?s)(?:```|~~~)[^\n]*\n(.*?)\n[ \t]*(?:```|~~~)")
)

// parseReply extracts the probe from a reply. A JSON object is preferred,
// possibly wrapped in prose or a fence; otherwise the first fenced block
// is used without a marker.
func parseReply(text string) (code, marker string, deps []string, err error) {
	candidates := []string{strings.TrimSpace(text)}
	if m := jsonObjectRe.FindString(text); m != "" {
		candidates = append(candidates, m)
	}
	for _, c := range candidates {
		var r reply
		if json.Unmarshal([]byte(c), &r) == nil && strings.TrimSpace(r.Code) != "" {
			return r.Code, strings.TrimSpace(r.SuccessMarker), r.Dependencies, nil
		}
	}
	if m := codeBlockRe.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return m[1], "", nil, nil
	}
	return "", "", nil, ErrUnparseable
}

func extras(proposed, declared []string) []string {
	have := make(map[string]bool, len(declared))
	for _, d := range declared {
		have[d] = true
	}
	var out []string
	for _, p := range proposed {
		if !have[p] {
			out = append(out, p)
		}
	}
	return out
}
