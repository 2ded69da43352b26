package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skillgen/internal/llm"
	"github.com/sells-group/skillgen/internal/llm/mocks"
	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sanitize"
)

var requests = model.LibraryMetadata{Name: "requests", Version: "2.31.0", Ecosystem: "python"}

func pattern() model.Pattern {
	return model.Pattern{
		Name:             "GET a URL",
		Language:         "python",
		ImportStatement:  "import requests",
		Code:             "import requests\nimport json\nimport yaml\nr = requests.get('https://example.com')",
		ExpectedBehavior: "Prints the status code.",
	}
}

func replyResp(text string) *llm.Response {
	return &llm.Response{Text: text, Model: "m", Usage: model.TokenUsage{Calls: 1}}
}

func TestGenerate(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Stage == llm.StageProbe && r.JSON && r.Label == "GET a URL" && r.Model == "probe-model"
	})).Return(replyResp(`{"code": "import requests\nprint('OK-1')", "success_marker": "OK-1", "dependencies": ["requests==2.31.0", "rich"]}`), nil)

	g := New(gen, runtimes.Default(), "probe-model")
	p, err := g.Generate(context.Background(), pattern(), "python", requests)
	require.NoError(t, err)

	assert.Equal(t, "GET a URL", p.Pattern)
	assert.Equal(t, "python", p.Runtime)
	assert.Equal(t, "OK-1", p.SuccessMarker)
	assert.Contains(t, p.Code, "print('OK-1')")
	// json is stdlib; yaml is a third-party import of the pattern; rich is
	// the model's own addition and is dropped.
	assert.Equal(t, []string{"requests==2.31.0", "yaml"}, p.Dependencies)
}

func TestGenerate_PromptCarriesPattern(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			r := args.Get(1).(llm.Request)
			assert.Contains(t, r.Prompt, "Expected behavior: Prints the status code.")
			assert.Contains(t, r.Prompt, "requests==2.31.0")
			assert.Contains(t, r.Prompt, "```python\n")
			assert.Contains(t, r.Context, "Library: requests 2.31.0")
		}).
		Return(replyResp(`{"code": "print(1)", "success_marker": "M"}`), nil)

	_, err := New(gen, runtimes.Default(), "").Generate(context.Background(), pattern(), "python", requests)
	require.NoError(t, err)
}

func TestGenerate_FencedFallback(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(replyResp("Here you go:\n```python\nimport requests\nprint('done')\n```\n"), nil)

	p, err := New(gen, runtimes.Default(), "").Generate(context.Background(), pattern(), "python", requests)
	require.NoError(t, err)
	assert.Equal(t, "import requests\nprint('done')", p.Code)
	assert.Empty(t, p.SuccessMarker)
}

func TestGenerate_Unparseable(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, mock.Anything).Return(replyResp("I cannot help with that."), nil)

	_, err := New(gen, runtimes.Default(), "").Generate(context.Background(), pattern(), "python", requests)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestGenerate_CollaboratorError(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("backend down"))

	_, err := New(gen, runtimes.Default(), "").Generate(context.Background(), pattern(), "python", requests)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestGenerate_HostileDependencyRejectedBeforeCall(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p := pattern()
	p.Dependencies = []string{"requests==2.31.0; rm -rf /"}

	_, err := New(gen, runtimes.Default(), "").Generate(context.Background(), p, "python", requests)
	require.Error(t, err)
	assert.True(t, sanitize.IsRejected(err))
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerate_UnsupportedRuntime(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	_, err := New(gen, runtimes.Default(), "").Generate(context.Background(), pattern(), "ruby", requests)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported runtime")
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		code   string
		marker string
		err    bool
	}{
		{"plain json", `{"code": "x()", "success_marker": "M"}`, "x()", "M", false},
		{"json in fence", "```json\n{\"code\": \"y()\", \"success_marker\": \" M2 \"}\n```", "y()", "M2", false},
		{"json with prose", "Sure! {\"code\": \"z()\"} hope it helps", "z()", "", false},
		{"empty code json falls back to fence", "{\"code\": \"\"}\n```go\npackage main\n```", "package main", "", false},
		{"tilde fence", "~~~\nw()\n~~~", "w()", "", false},
		{"nothing", "no code here", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, marker, _, err := parseReply(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnparseable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.marker, marker)
		})
	}
}

func TestPatternDependencies(t *testing.T) {
	rt, _ := runtimes.Default().Get("python")

	p := model.Pattern{Code: "r = requests.get(u)", ImportStatement: "import requests"}
	assert.Equal(t, []string{"requests==2.31.0"}, PatternDependencies(rt, p, requests))

	p = model.Pattern{Code: "import os\nos.getcwd()"}
	assert.Empty(t, PatternDependencies(rt, p, requests))

	p = model.Pattern{Code: "import requests", Dependencies: []string{"requests==1.0"}}
	assert.Equal(t, []string{"requests==1.0"}, PatternDependencies(rt, p, requests))
}
