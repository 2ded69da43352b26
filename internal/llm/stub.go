package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sells-group/skillgen/internal/model"
)

// StubMarker is printed by every probe the stub writes.
const StubMarker = "SKILLGEN_STUB_OK"

var stubSnippets = map[string]string{
	"python": "import sys\n\nsys.stdout.write(\"" + StubMarker + "\\n\")",
	"node":   "const os = require('node:os');\n\nconsole.log('" + StubMarker + "', os.EOL === '\\n');",
	"go":     "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"" + StubMarker + "\")\n}",
}

// Stub is an offline Generator with canned, deterministic responses. It
// drives the pipeline end to end without a network connection.
type Stub struct {
	// Runtime selects the language of generated examples: python, node or go.
	Runtime string
}

func (s Stub) snippet() string {
	if code, ok := stubSnippets[s.Runtime]; ok {
		return code
	}
	return stubSnippets["python"]
}

// Generate implements Generator.
func (s Stub) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text string
	switch req.Stage {
	case StageExtract:
		text = fmt.Sprintf("## %s\n\nStub notes derived from %d bytes of input.", req.Label, len(req.Prompt))
	case StageSynthesize:
		lang := s.Runtime
		if _, ok := stubSnippets[lang]; !ok {
			lang = "python"
		}
		text = "# Overview\n\nOffline draft generated without a model.\n\n" +
			"## Writing to standard output\n\nPrints a fixed marker line.\n\n" +
			"```" + lang + "\n" + s.snippet() + "\n```\n"
	case StageReview:
		text = `{"verdict": "pass", "issues": []}`
	case StageProbe:
		b, _ := json.Marshal(map[string]string{"code": s.snippet(), "success_marker": StubMarker})
		text = string(b)
	default:
		text = "ok"
	}
	return &Response{Text: text, Model: "stub", Usage: model.TokenUsage{Calls: 1}}, nil
}
