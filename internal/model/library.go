package model

// LibraryMetadata identifies the library a skill document describes.
type LibraryMetadata struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version" yaml:"version"`
	License     string            `json:"license,omitempty" yaml:"license,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Ecosystem   string            `json:"ecosystem" yaml:"ecosystem"`
	ImportName  string            `json:"import_name,omitempty" yaml:"import_name,omitempty"`
	PackageName string            `json:"package_name,omitempty" yaml:"package_name,omitempty"`
	URLs        map[string]string `json:"urls,omitempty" yaml:"urls,omitempty"`
}

// Import returns the name used to import the library in code.
func (m LibraryMetadata) Import() string {
	if m.ImportName != "" {
		return m.ImportName
	}
	return m.Name
}

// Package returns the name used to install the library.
func (m LibraryMetadata) Package() string {
	if m.PackageName != "" {
		return m.PackageName
	}
	return m.Name
}

// Excerpt is one file (or fragment) of collected library input.
type Excerpt struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
}

// CollectedData is the immutable input snapshot for one generation run.
// It is produced by an external collector and never mutated afterward.
type CollectedData struct {
	Metadata  LibraryMetadata `json:"metadata" yaml:"metadata"`
	Sources   []Excerpt       `json:"sources" yaml:"sources"`
	Tests     []Excerpt       `json:"tests" yaml:"tests"`
	Docs      []Excerpt       `json:"docs" yaml:"docs"`
	Changelog string          `json:"changelog,omitempty" yaml:"changelog,omitempty"`
}
