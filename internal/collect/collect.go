// Package collect loads the collected-data snapshot a run starts from and
// checks the fields that later reach a command line.
package collect

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/runtimes"
	"github.com/sells-group/skillgen/internal/sanitize"
)

// Format is the encoding of a snapshot.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor infers the format from a file name. Anything that is not
// .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads a snapshot from path, or from stdin when path is "-".
func Load(path string, reg *runtimes.Registry) (*model.CollectedData, error) {
	var (
		r      io.Reader
		format = FormatFor(path)
	)
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "collect: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	data, err := Decode(r, format)
	if err != nil {
		return nil, eris.Wrapf(err, "collect: %s", path)
	}
	if err := Check(data, reg); err != nil {
		return nil, err
	}
	zap.L().Info("collect: loaded snapshot",
		zap.String("path", path),
		zap.String("library", data.Metadata.Name),
		zap.String("version", data.Metadata.Version),
		zap.Int("sources", len(data.Sources)),
		zap.Int("tests", len(data.Tests)),
		zap.Int("docs", len(data.Docs)),
	)
	return data, nil
}

// Decode parses a snapshot. Unknown fields are rejected.
func Decode(r io.Reader, format Format) (*model.CollectedData, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "collect: read")
	}

	var data model.CollectedData
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&data); err != nil {
			return nil, eris.Wrap(err, "collect: decode yaml")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&data); err != nil {
			return nil, eris.Wrap(err, "collect: decode json")
		}
	}
	return &data, nil
}

// Check validates the metadata of a snapshot. The package and import names
// end up in probe install commands, so they pass through the sanitizer here
// and again in the sandbox.
func Check(data *model.CollectedData, reg *runtimes.Registry) error {
	meta := data.Metadata
	if strings.TrimSpace(meta.Name) == "" {
		return eris.New("collect: metadata.name is required")
	}

	runtimeID := ""
	spec := meta.Package()
	if rt, ok := reg.Lookup(meta.Ecosystem); ok {
		runtimeID = rt.ID()
		if meta.Version != "" {
			spec = rt.Pin(meta.Package(), meta.Version)
		}
	} else if meta.Ecosystem != "" {
		zap.L().Warn("collect: unknown ecosystem, probes will use each example's language",
			zap.String("ecosystem", meta.Ecosystem),
		)
	}

	if err := sanitize.DependencyName(runtimeID, spec); err != nil {
		return eris.Wrap(err, "collect: metadata package")
	}
	if err := sanitize.DependencyName(runtimeID, meta.Import()); err != nil {
		return eris.Wrap(err, "collect: metadata import_name")
	}

	for _, group := range [][]model.Excerpt{data.Sources, data.Tests, data.Docs} {
		for i, e := range group {
			if strings.TrimSpace(e.Path) == "" {
				return eris.Errorf("collect: excerpt %d has no path", i)
			}
		}
	}
	return nil
}
