// Package sanitize validates externally influenced tokens before they reach a
// command line or a file path. Every check rejects; nothing is rewritten.
package sanitize

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Kind names the class of token being checked.
type Kind string

const (
	KindDependency    Kind = "dependency"
	KindRuntime       Kind = "runtime"
	KindPath          Kind = "path"
	KindContainerName Kind = "container_name"
	KindImage         Kind = "image"
)

// ErrRejected matches any *RejectError via errors.Is.
var ErrRejected = eris.New("sanitize: rejected")

// RejectError reports a token that failed validation.
type RejectError struct {
	Kind   Kind
	Value  string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("sanitize: rejected %s %q: %s", e.Kind, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrRejected) match.
func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}

// IsRejected reports whether err carries a *RejectError.
func IsRejected(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

const maxTokenLen = 214

// shellMeta holds characters that change meaning when a token reaches a shell.
const shellMeta = "`$;|&<>()\\'\"*?{}!#^\n\r"

var (
	runtimeRe   = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)
	versionPart = `[A-Za-z0-9][A-Za-z0-9.+_-]*`
	pythonDepRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(\[[A-Za-z0-9._-]+(,[A-Za-z0-9._-]+)*\])?(==` + versionPart + `)?$`)
	nodeDepRe   = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-z0-9][a-z0-9._-]*(@` + versionPart + `)?$`)
	goDepRe     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._~-]*(/[A-Za-z0-9][A-Za-z0-9._~-]*)*(@` + versionPart + `)?$`)
	genericDep  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/@=-]*$`)
	segmentRe   = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)
	containerRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)
	imageRe     = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*(:[0-9]+)?(/[a-z0-9][a-z0-9._-]*)*(:[A-Za-z0-9_][A-Za-z0-9_.-]{0,127})?(@sha256:[a-f0-9]{64})?$`)
)

func reject(kind Kind, value, reason string) error {
	return &RejectError{Kind: kind, Value: value, Reason: reason}
}

// common applies the checks every token kind shares.
func common(kind Kind, s string) error {
	if s == "" {
		return reject(kind, s, "empty")
	}
	if len(s) > maxTokenLen {
		return reject(kind, s, "too long")
	}
	if !norm.NFKC.IsNormalString(s) {
		return reject(kind, s, "not in canonical unicode form")
	}
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
			return reject(kind, s, "contains control character")
		case unicode.IsSpace(r):
			return reject(kind, s, "contains whitespace")
		case r > unicode.MaxASCII:
			return reject(kind, s, "contains non-ascii character")
		case strings.ContainsRune(shellMeta, r):
			return reject(kind, s, fmt.Sprintf("contains shell metacharacter %q", r))
		}
	}
	if strings.HasPrefix(s, "-") {
		return reject(kind, s, "leading dash")
	}
	return nil
}

// RuntimeID validates a runtime identifier such as "python".
func RuntimeID(s string) error {
	if err := common(KindRuntime, s); err != nil {
		return err
	}
	if !runtimeRe.MatchString(s) {
		return reject(KindRuntime, s, "invalid runtime identifier")
	}
	return nil
}

// DependencyName validates one declared dependency for the given runtime.
// Only exact version pins are accepted.
func DependencyName(runtimeID, s string) error {
	if err := common(KindDependency, s); err != nil {
		return err
	}
	if strings.Contains(s, "..") {
		return reject(KindDependency, s, "contains path traversal")
	}
	var re *regexp.Regexp
	switch runtimeID {
	case "python":
		re = pythonDepRe
	case "node":
		re = nodeDepRe
	case "go":
		re = goDepRe
	default:
		re = genericDep
	}
	if !re.MatchString(s) {
		return reject(KindDependency, s, "not a valid "+runtimeID+" package spec")
	}
	return nil
}

// Dependencies validates every entry and returns the first rejection.
func Dependencies(runtimeID string, deps []string) error {
	for _, d := range deps {
		if err := DependencyName(runtimeID, d); err != nil {
			return err
		}
	}
	return nil
}

// RelPath validates a relative path that will be joined under a work
// directory.
func RelPath(s string) error {
	if err := common(KindPath, s); err != nil {
		return err
	}
	if path.IsAbs(s) || strings.HasPrefix(s, "/") {
		return reject(KindPath, s, "absolute path")
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			return reject(KindPath, s, "contains path traversal")
		}
		if !segmentRe.MatchString(seg) {
			return reject(KindPath, s, "invalid path segment")
		}
	}
	return nil
}

// ContainerName validates a container name passed to the runtime CLI.
func ContainerName(s string) error {
	if err := common(KindContainerName, s); err != nil {
		return err
	}
	if !containerRe.MatchString(s) {
		return reject(KindContainerName, s, "invalid container name")
	}
	return nil
}

// ImageRef validates an OCI image reference.
func ImageRef(s string) error {
	if err := common(KindImage, s); err != nil {
		return err
	}
	if !imageRe.MatchString(s) {
		return reject(KindImage, s, "invalid image reference")
	}
	return nil
}
