package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/llm"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/sandbox/mocks"
)

var requestsLib = model.LibraryMetadata{
	Name:        "requests",
	Version:     "2.31.0",
	Ecosystem:   "python",
	Description: "HTTP for humans.",
}

func testData() *model.CollectedData {
	return &model.CollectedData{
		Metadata:  requestsLib,
		Sources:   []model.Excerpt{{Path: "requests/api.py", Content: "def get(url, params=None, **kwargs): ..."}},
		Tests:     []model.Excerpt{{Path: "tests/test_api.py", Content: "def test_get(): requests.get('http://x')"}},
		Docs:      []model.Excerpt{{Path: "README.md", Content: "Requests is an HTTP library."}},
		Changelog: "2.31.0: removed support for Python 3.6",
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Generation: config.GenerationConfig{Provider: "anthropic"},
		Pipeline: config.PipelineConfig{
			MaxRetries:         3,
			ParallelExtraction: true,
			Review:             true,
		},
		Validation: config.ValidationConfig{
			Enabled:           true,
			Mode:              string(model.ValidationExhaustive),
			AdaptiveThreshold: 2,
			Concurrency:       2,
		},
	}
}

// skillDoc renders a document with passing and failing python examples. A
// failing example prints FAIL, which the fake executor turns into exit 1.
func skillDoc(passing, failing int) string {
	var b strings.Builder
	b.WriteString("# requests\n\nHTTP for humans.\n")
	n := 0
	for i := 0; i < passing; i++ {
		n++
		fmt.Fprintf(&b, "\n## Example %d\n\nPrints a value.\n\n```python\nimport requests\nprint('ok %d')\n```\n", n, n)
	}
	for i := 0; i < failing; i++ {
		n++
		fmt.Fprintf(&b, "\n## Example %d\n\nPrints a value.\n\n```python\nimport requests\nprint('FAIL %d')\n```\n", n, n)
	}
	return b.String()
}

// scripted is a Generator returning canned text per stage. Synthesis and
// review replies are consumed in order; the last one repeats.
type scripted struct {
	mu         sync.Mutex
	synth      []string
	reviews    []string
	extractErr error
	synthErrs  map[int]error
	calls      map[llm.Stage]int
	prompts    []string
}

func newScripted(synth ...string) *scripted {
	return &scripted{synth: synth, reviews: []string{`{"verdict": "pass", "issues": []}`}, calls: map[llm.Stage]int{}}
}

func (s *scripted) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[req.Stage]
	s.calls[req.Stage]++

	switch req.Stage {
	case llm.StageExtract:
		if s.extractErr != nil && req.Label == string(model.RoleUsageExamples) {
			return nil, s.extractErr
		}
		return &llm.Response{Text: "notes for " + req.Label, Model: "claude-haiku-4-5-20251001", Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 10, Calls: 1}}, nil
	case llm.StageSynthesize:
		s.prompts = append(s.prompts, req.Prompt)
		if err := s.synthErrs[n]; err != nil {
			return nil, err
		}
		return &llm.Response{Text: pick(s.synth, n), Model: "claude-sonnet-4-5-20250929", Usage: model.TokenUsage{InputTokens: 1000, OutputTokens: 500, Calls: 1}}, nil
	case llm.StageReview:
		return &llm.Response{Text: pick(s.reviews, n), Model: "claude-sonnet-4-5-20250929", Usage: model.TokenUsage{InputTokens: 800, OutputTokens: 40, Calls: 1}}, nil
	}
	return nil, fmt.Errorf("unexpected stage %s", req.Stage)
}

func (s *scripted) count(stage llm.Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func pick(items []string, n int) string {
	if len(items) == 0 {
		return ""
	}
	if n >= len(items) {
		n = len(items) - 1
	}
	return items[n]
}

// echoProbes turns each pattern into a probe running the pattern's own code.
type echoProbes struct{}

func (echoProbes) Generate(_ context.Context, p model.Pattern, runtimeID string, _ model.LibraryMetadata) (*model.Probe, error) {
	return &model.Probe{Pattern: p.Name, Runtime: runtimeID, Code: p.Code, Dependencies: []string{"requests==2.31.0"}}, nil
}

// fakeExecutor returns a mock executor that fails any probe printing FAIL.
func fakeExecutor(t *testing.T) *mocks.MockExecutor {
	exec := mocks.NewMockExecutor(t)
	exec.On("CheckAvailable", mock.Anything, "python").Return(nil).Maybe()
	exec.On("Execute", mock.Anything, mock.Anything).Return(
		func(_ context.Context, p *model.Probe) (*model.ExecutionOutcome, error) {
			code, stdout, stderr := 0, "ok\n", ""
			if strings.Contains(p.Code, "FAIL") {
				code, stdout, stderr = 1, "", "AssertionError: boom\n"
			}
			return &model.ExecutionOutcome{
				ExitStatus: &code,
				Stdout:     stdout,
				Stderr:     stderr,
				WallTime:   10 * time.Millisecond,
				Command:    []string{"docker", "run"},
			}, nil
		},
	).Maybe()
	return exec
}
