package collect

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sanitize"
)

const jsonSnapshot = `{
  "metadata": {"name": "requests", "version": "2.31.0", "ecosystem": "python", "urls": {"source": "https://github.com/psf/requests"}},
  "sources": [{"path": "requests/api.py", "content": "def get(url): ..."}],
  "tests": [],
  "docs": [{"path": "README.md", "content": "Requests"}],
  "changelog": "2.31.0"
}`

const yamlSnapshot = `metadata:
  name: lodash
  version: 4.17.21
  ecosystem: javascript
sources:
  - path: lodash.js
    content: "module.exports = {}"
tests: []
docs: []
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_JSON(t *testing.T) {
	data, err := Load(writeFile(t, "data.json", jsonSnapshot), runtimes.Default())
	require.NoError(t, err)
	assert.Equal(t, "requests", data.Metadata.Name)
	assert.Equal(t, "https://github.com/psf/requests", data.Metadata.URLs["source"])
	require.Len(t, data.Sources, 1)
	assert.Empty(t, data.Tests)
	assert.Equal(t, "2.31.0", data.Changelog)
}

func TestLoad_YAML(t *testing.T) {
	data, err := Load(writeFile(t, "data.yml", yamlSnapshot), runtimes.Default())
	require.NoError(t, err)
	assert.Equal(t, "lodash", data.Metadata.Name)
	assert.Equal(t, "4.17.21", data.Metadata.Version)
	assert.Equal(t, "lodash.js", data.Sources[0].Path)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), runtimes.Default())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"metadata": {"name": "x"}, "extra": 1}`), FormatJSON)
	require.Error(t, err)

	_, err = Decode(strings.NewReader("metadata:\n  name: x\nextra: 1\n"), FormatYAML)
	require.Error(t, err)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("a/b.YAML"))
	assert.Equal(t, FormatYAML, FormatFor("x.yml"))
	assert.Equal(t, FormatJSON, FormatFor("x.json"))
	assert.Equal(t, FormatJSON, FormatFor("-"))
}

func TestCheck(t *testing.T) {
	reg := runtimes.Default()
	tests := []struct {
		name    string
		meta    model.LibraryMetadata
		wantErr string
		reject  bool
	}{
		{name: "ok", meta: model.LibraryMetadata{Name: "requests", Version: "2.31.0", Ecosystem: "python"}},
		{name: "go module", meta: model.LibraryMetadata{Name: "github.com/google/uuid", Version: "v1.6.0", Ecosystem: "go"}},
		{name: "unknown ecosystem", meta: model.LibraryMetadata{Name: "serde", Version: "1.0.0", Ecosystem: "rust"}},
		{name: "missing name", meta: model.LibraryMetadata{Ecosystem: "python"}, wantErr: "metadata.name is required"},
		{name: "shell in package", meta: model.LibraryMetadata{Name: "requests", PackageName: "requests;rm -rf ~", Ecosystem: "python"}, reject: true},
		{name: "shell in version", meta: model.LibraryMetadata{Name: "requests", Version: "1.0$(id)", Ecosystem: "python"}, reject: true},
		{name: "leading dash import", meta: model.LibraryMetadata{Name: "requests", ImportName: "--index-url", Ecosystem: "python"}, reject: true},
		{name: "fullwidth", meta: model.LibraryMetadata{Name: "ｒequests", Ecosystem: "python"}, reject: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(&model.CollectedData{Metadata: tt.meta}, reg)
			switch {
			case tt.reject:
				require.Error(t, err)
				assert.True(t, errors.Is(err, sanitize.ErrRejected), err)
			case tt.wantErr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheck_ExcerptWithoutPath(t *testing.T) {
	data := &model.CollectedData{
		Metadata: model.LibraryMetadata{Name: "requests", Ecosystem: "python"},
		Docs:     []model.Excerpt{{Content: "orphan"}},
	}
	err := Check(data, runtimes.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no path")
}
