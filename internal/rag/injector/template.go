package injector

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrInvalidTemplate is returned for malformed placeholders.
	ErrInvalidTemplate = errors.New("invalid prompt template")

	// ErrMissingVariable is returned by Apply when a placeholder has no value.
	ErrMissingVariable = errors.New("missing template variable")

	// ErrUnknownPlaceholder is returned when a template references a name
	// the injector cannot fill.
	ErrUnknownPlaceholder = errors.New("unknown template placeholder")
)

// PromptTemplate is text with {{name}} placeholders.
type PromptTemplate struct {
	text  string
	parts []part
}

type part struct {
	literal string
	name    string
}

// ParseTemplate parses text. Placeholder names are identifiers; whitespace
// inside the braces is ignored.
func ParseTemplate(text string) (*PromptTemplate, error) {
	t := &PromptTemplate{text: text}
	rest := text
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				t.parts = append(t.parts, part{literal: rest})
			}
			return t, nil
		}
		if open > 0 {
			t.parts = append(t.parts, part{literal: rest[:open]})
		}
		rest = rest[open+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed placeholder at offset %d", ErrInvalidTemplate, len(text)-len(rest)-2)
		}
		name := strings.TrimSpace(rest[:end])
		if !isIdentifier(name) {
			return nil, fmt.Errorf("%w: bad placeholder name %q", ErrInvalidTemplate, name)
		}
		t.parts = append(t.parts, part{name: name})
		rest = rest[end+2:]
	}
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(text string) *PromptTemplate {
	t, err := ParseTemplate(text)
	if err != nil {
		panic(err)
	}
	return t
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// Placeholders returns the distinct placeholder names in order of first use.
func (t *PromptTemplate) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range t.parts {
		if p.name != "" && !seen[p.name] {
			seen[p.name] = true
			names = append(names, p.name)
		}
	}
	return names
}

// Has reports whether the template references name.
func (t *PromptTemplate) Has(name string) bool {
	for _, p := range t.parts {
		if p.name == name {
			return true
		}
	}
	return false
}

// Apply substitutes vars. Values are inserted verbatim and never re-parsed.
func (t *PromptTemplate) Apply(vars map[string]string) (string, error) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.name == "" {
			b.WriteString(p.literal)
			continue
		}
		v, ok := vars[p.name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingVariable, p.name)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// String returns the template source.
func (t *PromptTemplate) String() string {
	return t.text
}
