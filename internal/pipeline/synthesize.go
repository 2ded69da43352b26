package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/artifact"
	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/llm"
	"github.com/sells-group/skillgen/internal/model"
)

// ErrEmptyArtifact is returned when synthesis yields no text after fence
// stripping.
var ErrEmptyArtifact = eris.New("synthesize: empty artifact")

// Synthesize drafts the skill document from extraction notes. existing puts
// the call in update mode; feedback carries the previous attempt's problems.
// The returned text has wrapper fences stripped and front matter filled in.
func Synthesize(ctx context.Context, gen llm.Generator, cfg *config.Config, meta model.LibraryMetadata,
	notes []model.ExtractionResult, existing, feedback string) (string, error) {
	resp, err := gen.Generate(ctx, llm.Request{
		Stage:   llm.StageSynthesize,
		Model:   cfg.Generation.ModelFor(string(llm.StageSynthesize)),
		System:  instruction(synthesizeSystem, cfg.Pipeline.Instructions[string(llm.StageSynthesize)]),
		Context: libraryContext(meta),
		Prompt:  synthesisPrompt(notes, existing, feedback),
	})
	if err != nil {
		return "", eris.Wrap(err, "synthesize: generate")
	}

	text := strings.TrimSpace(artifact.StripFences(resp.Text))
	if text == "" {
		return "", ErrEmptyArtifact
	}
	text, err = artifact.EnsureFrontMatter(text, meta)
	if err != nil {
		return "", eris.Wrap(err, "synthesize: front matter")
	}
	return text, nil
}

// Review asks the collaborator to check the draft against the notes. A reply
// that cannot be parsed is logged and treated as carrying no issues. A
// collaborator error becomes a retryable accuracy issue.
func Review(ctx context.Context, gen llm.Generator, cfg *config.Config, meta model.LibraryMetadata,
	notes []model.ExtractionResult, doc string) *model.ReviewVerdict {
	resp, err := gen.Generate(ctx, llm.Request{
		Stage:   llm.StageReview,
		Model:   cfg.Generation.ModelFor(string(llm.StageReview)),
		System:  instruction(reviewSystem, cfg.Pipeline.Instructions[string(llm.StageReview)]),
		Context: libraryContext(meta),
		Prompt:  reviewPrompt(notes, doc),
		JSON:    true,
	})
	if err != nil {
		zap.L().Warn("review: collaborator unavailable", zap.Error(err))
		return &model.ReviewVerdict{Issues: []model.ReviewIssue{{
			Class:  model.IssueAccuracy,
			Detail: "review unavailable: " + err.Error(),
			Source: "review",
		}}}
	}

	v, err := ParseReview(resp.Text)
	if err != nil {
		zap.L().Warn("review: malformed verdict, treating as no issues", zap.Error(err))
		return &model.ReviewVerdict{Passed: true, Malformed: true}
	}
	return v
}

type reviewReply struct {
	Verdict string `json:"verdict"`
	Issues  []struct {
		Class  string `json:"class"`
		Detail string `json:"detail"`
	} `json:"issues"`
}

var reviewObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ParseReview decodes a review reply. The JSON object may be wrapped in prose
// or a fence. Issues with an unknown class count as accuracy issues, and any
// issue fails the verdict regardless of what the reply claims.
func ParseReview(text string) (*model.ReviewVerdict, error) {
	raw := reviewObjectRe.FindString(text)
	if raw == "" {
		return nil, eris.New("review: no JSON object in reply")
	}
	var r reviewReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, eris.Wrap(err, "review: decode reply")
	}

	verdict := strings.ToLower(strings.TrimSpace(r.Verdict))
	if verdict != "pass" && verdict != "fail" {
		return nil, eris.Errorf("review: unknown verdict %q", r.Verdict)
	}

	v := &model.ReviewVerdict{}
	for _, is := range r.Issues {
		detail := strings.TrimSpace(is.Detail)
		if detail == "" {
			continue
		}
		class := model.IssueAccuracy
		if strings.EqualFold(strings.TrimSpace(is.Class), string(model.IssueSafety)) {
			class = model.IssueSafety
		}
		v.Issues = append(v.Issues, model.ReviewIssue{Class: class, Detail: detail, Source: "review"})
	}
	v.Passed = verdict == "pass" && len(v.Issues) == 0
	if verdict == "fail" && len(v.Issues) == 0 {
		v.Issues = append(v.Issues, model.ReviewIssue{
			Class:  model.IssueAccuracy,
			Detail: "reviewer rejected the document without listing issues",
			Source: "review",
		})
	}
	return v, nil
}
