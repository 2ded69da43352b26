package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skillgen/internal/config"
	"github.com/sells-group/skillgen/internal/model"
)

const snapshot = `{
  "metadata": {"name": "requests", "version": "2.31.0", "ecosystem": "python"},
  "sources": [{"path": "requests/api.py", "content": "def get(url, params=None, **kwargs): ..."}],
  "tests": [],
  "docs": [{"path": "README.md", "content": "Requests is an HTTP library."}]
}`

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	c, err := config.Load()
	require.NoError(t, err)
	c.Store.Driver = "none"
	return c
}

func newFlagCmd(t *testing.T, args ...string) (*cobra.Command, generateOptions) {
	t.Helper()
	var o generateOptions
	cmd := &cobra.Command{Use: "generate"}
	f := cmd.Flags()
	f.IntVar(&o.MaxRetries, "max-retries", 3, "")
	f.DurationVar(&o.Timeout, "timeout", time.Minute, "")
	f.StringVar(&o.Mode, "mode", "adaptive", "")
	f.StringVar(&o.Strategy, "strategy", "container", "")
	f.BoolVar(&o.Sequential, "sequential", false, "")
	f.BoolVar(&o.NoReview, "no-review", false, "")
	f.BoolVar(&o.DryRun, "dry-run", false, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, o
}

func TestApplyGenerateFlags(t *testing.T) {
	c := loadTestConfig(t)
	cmd, o := newFlagCmd(t, "--max-retries", "0", "--timeout", "5s", "--mode", "minimal", "--strategy", "local", "--sequential", "--no-review", "--dry-run")

	applyGenerateFlags(cmd, c, o)
	assert.Equal(t, 0, c.Pipeline.MaxRetries)
	assert.Equal(t, 5*time.Second, c.Sandbox.Timeout)
	assert.Equal(t, "minimal", c.Validation.Mode)
	assert.Equal(t, "local", c.Sandbox.Strategy)
	assert.False(t, c.Pipeline.ParallelExtraction)
	assert.False(t, c.Pipeline.Review)
	assert.False(t, c.Validation.Enabled)
}

func TestApplyGenerateFlags_UnsetKeepsConfig(t *testing.T) {
	c := loadTestConfig(t)
	c.Pipeline.MaxRetries = 7
	c.Sandbox.Timeout = 90 * time.Second
	cmd, o := newFlagCmd(t)

	applyGenerateFlags(cmd, c, o)
	assert.Equal(t, 7, c.Pipeline.MaxRetries)
	assert.Equal(t, 90*time.Second, c.Sandbox.Timeout)
	assert.True(t, c.Pipeline.Review)
	assert.True(t, c.Validation.Enabled)
}

func TestRunGenerate_DryRun(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "requests.json")
	output := filepath.Join(dir, "SKILL.md")
	require.NoError(t, os.WriteFile(input, []byte(snapshot), 0o600))

	c := loadTestConfig(t)
	c.Validation.Enabled = false
	var out bytes.Buffer
	err := runGenerate(context.Background(), c, generateOptions{Input: input, Output: output, DryRun: true}, &out)
	require.NoError(t, err)

	doc, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "---")
	assert.Contains(t, string(doc), "requests")
	assert.Contains(t, out.String(), "disposition: succeeded")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp file should not be left behind")
}

func TestRunGenerate_BadInput(t *testing.T) {
	c := loadTestConfig(t)
	err := runGenerate(context.Background(), c, generateOptions{Input: filepath.Join(t.TempDir(), "missing.json"), DryRun: true}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

func TestRunGenerate_InvalidConfig(t *testing.T) {
	c := loadTestConfig(t)
	c.Validation.Mode = "strict"
	err := runGenerate(context.Background(), c, generateOptions{Input: "x.json"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation.mode")
}

func TestWriteArtifact_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SKILL.md")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	require.NoError(t, writeArtifact(path, "new content"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(b))
}

func TestWriteArtifact_MissingDir(t *testing.T) {
	err := writeArtifact(filepath.Join(t.TempDir(), "nope", "SKILL.md"), "x")
	require.Error(t, err)
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, &model.RunOutcome{
		RunID:       "run-1",
		Disposition: model.ExhaustedRetries,
		Attempts:    4,
		Final: &model.Attempt{Index: 2, Validation: &model.ValidationVerdict{
			PatternsTested: 6, PatternsPassed: 5, Waived: []string{"Example 4"},
		}},
		Reason:  "retries exhausted after 4 attempts; best attempt 3 passed 5 patterns",
		Usage:   model.TokenUsage{InputTokens: 10, OutputTokens: 5, Calls: 2},
		CostUSD: 0.001,
	})

	out := buf.String()
	assert.Contains(t, out, "exhausted_retries")
	assert.Contains(t, out, "attempt 3, 5 patterns passed")
	assert.Contains(t, out, "waived:      1 patterns")
	assert.Contains(t, out, "10 in / 5 out over 2 calls")
}
