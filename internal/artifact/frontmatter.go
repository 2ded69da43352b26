package artifact

import (
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/skillgen/internal/model"
)

const frontMatterDelim = "---"

// FrontMatter is the leading metadata block of a skill document.
type FrontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	Ecosystem   string `yaml:"ecosystem"`
	License     string `yaml:"license"`
}

// SplitFrontMatter separates the raw metadata block from the body. ok is
// false when the document does not start with a delimited block.
func SplitFrontMatter(text string) (raw, body string, ok bool) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelim {
		return "", text, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelim {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), true
		}
	}
	return "", text, false
}

// ParseFrontMatter decodes the metadata block of text.
func ParseFrontMatter(text string) (*FrontMatter, error) {
	raw, _, ok := SplitFrontMatter(text)
	if !ok {
		return nil, eris.New("artifact: no front matter")
	}
	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, eris.Wrap(err, "artifact: decode front matter")
	}
	return &fm, nil
}

// EnsureFrontMatter fills missing metadata keys from the library metadata.
// Keys already present keep their values and unknown keys are preserved.
// A block that cannot be decoded is replaced.
func EnsureFrontMatter(text string, meta model.LibraryMetadata) (string, error) {
	defaults := [][2]string{
		{"name", meta.Name},
		{"description", meta.Description},
		{"version", meta.Version},
		{"ecosystem", meta.Ecosystem},
		{"license", meta.License},
	}

	raw, body, ok := SplitFrontMatter(text)
	doc := &yaml.Node{Kind: yaml.MappingNode}
	if ok {
		var parsed yaml.Node
		if err := yaml.Unmarshal([]byte(raw), &parsed); err == nil &&
			len(parsed.Content) == 1 && parsed.Content[0].Kind == yaml.MappingNode {
			doc = parsed.Content[0]
		}
	} else {
		body = text
	}

	present := map[string]*yaml.Node{}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		present[doc.Content[i].Value] = doc.Content[i+1]
	}
	for _, kv := range defaults {
		if kv[1] == "" {
			continue
		}
		if v, ok := present[kv[0]]; ok && strings.TrimSpace(v.Value) != "" {
			continue
		} else if ok {
			v.Kind, v.Tag, v.Value = yaml.ScalarNode, "!!str", kv[1]
			continue
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv[0]},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv[1]},
		)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", eris.Wrap(err, "artifact: encode front matter")
	}
	return frontMatterDelim + "\n" + string(out) + frontMatterDelim + "\n" + strings.TrimLeft(body, "\n"), nil
}
