// Package pathtree implements the dot-separated materialized paths that key
// the taxonomy tables. A path like "cat.small.wild" encodes the node's full
// position in the tree; ancestry checks are label-prefix checks, never
// substring checks.
package pathtree

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrInvalidPath = errors.New("invalid path")

var (
	labelPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	nonWord      = regexp.MustCompile(`[^a-z0-9_\s.-]+`)
	separators   = regexp.MustCompile(`[\s_-]+`)
	underscores  = regexp.MustCompile(`_+`)
)

// stripMarks removes combining marks after canonical decomposition, so
// accented letters fold to their ASCII base ("Théâtre" -> "Theatre").
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Path is an ordered, non-empty sequence of normalized labels. The zero
// value is the empty path, standing in for "no parent" or "no prefix".
type Path struct {
	labels []string
}

// Normalize derives a path label from a human-readable name: transliterate
// to ASCII, lowercase, trim, collapse whitespace and hyphens to underscores,
// strip leading/trailing separators, squeeze repeated underscores. Dots are
// preserved as label boundaries. Normalize(Normalize(x)) == Normalize(x).
func Normalize(name string) string {
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWord.ReplaceAllString(s, "")
	s = separators.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	return s
}

// Parse splits text on "." and validates every component.
func Parse(text string) (Path, error) {
	if text == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(text, ".")
	labels := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return Path{}, fmt.Errorf("%w: empty label in %q", ErrInvalidPath, text)
		}
		if !labelPattern.MatchString(part) {
			return Path{}, fmt.Errorf("%w: label %q in %q", ErrInvalidPath, part, text)
		}
		labels = append(labels, part)
	}
	return Path{labels: labels}, nil
}

// MustParse is Parse for compile-time-known paths; it panics on error.
func MustParse(text string) Path {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Join concatenates parent and child. A zero parent returns child unchanged.
func Join(parent, child Path) Path {
	if parent.IsZero() {
		return child
	}
	labels := make([]string, 0, len(parent.labels)+len(child.labels))
	labels = append(labels, parent.labels...)
	labels = append(labels, child.labels...)
	return Path{labels: labels}
}

// String renders the path with dot separators. parse(render(p)) == p.
func (p Path) String() string {
	return strings.Join(p.labels, ".")
}

// IsZero reports whether the path has no labels.
func (p Path) IsZero() bool {
	return len(p.labels) == 0
}

// Len is the number of labels (the node's depth, root = 1).
func (p Path) Len() int {
	return len(p.labels)
}

// Labels returns a copy of the label sequence.
func (p Path) Labels() []string {
	out := make([]string, len(p.labels))
	copy(out, p.labels)
	return out
}

// Last returns the final label, the node's own name component.
func (p Path) Last() string {
	if len(p.labels) == 0 {
		return ""
	}
	return p.labels[len(p.labels)-1]
}

// Parent drops the last label. ok is false for roots and the zero path.
func (p Path) Parent() (Path, bool) {
	if len(p.labels) <= 1 {
		return Path{}, false
	}
	labels := make([]string, len(p.labels)-1)
	copy(labels, p.labels[:len(p.labels)-1])
	return Path{labels: labels}, true
}

// Equal reports label-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p.labels) != len(other.labels) {
		return false
	}
	for i, label := range p.labels {
		if other.labels[i] != label {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether other's labels are a proper or equal prefix
// of p's labels. "cat" is not an ancestor of "category".
func (p Path) IsDescendantOf(other Path) bool {
	if other.IsZero() || len(other.labels) > len(p.labels) {
		return false
	}
	for i, label := range other.labels {
		if p.labels[i] != label {
			return false
		}
	}
	return true
}

// LCA returns the longest common label prefix of a and b. ok is false when
// the paths share no root.
func LCA(a, b Path) (Path, bool) {
	n := len(a.labels)
	if len(b.labels) < n {
		n = len(b.labels)
	}
	common := 0
	for common < n && a.labels[common] == b.labels[common] {
		common++
	}
	if common == 0 {
		return Path{}, false
	}
	labels := make([]string, common)
	copy(labels, a.labels[:common])
	return Path{labels: labels}, true
}

// MarshalText renders the path for JSON and request/response bodies.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses and validates a rendered path.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
