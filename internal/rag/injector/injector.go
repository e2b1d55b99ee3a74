// Package injector merges retrieved content into the user prompt.
package injector

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/ragline/internal/rag/retriever"
)

// DefaultTemplate places the question before the retrieved information.
const DefaultTemplate = "{{question}}\n\nAnswer using the following information:\n{{information}}"

// Placeholder names understood by every injector.
const (
	QuestionPlaceholder    = "question"
	InformationPlaceholder = "information"
)

// Config configures an Injector.
type Config struct {
	// Template defaults to DefaultTemplate.
	Template string

	// Placeholder receives the joined contents. Default: "information"
	Placeholder string

	// MetadataKeys selects metadata printed above each block.
	MetadataKeys []string

	// Variables fill any further placeholders.
	Variables map[string]string
}

// Injector renders a question and its supporting contents as one prompt.
type Injector struct {
	template     *PromptTemplate
	placeholder  string
	metadataKeys []string
	variables    map[string]string
}

// New parses and checks the template.
func New(cfg Config) (*Injector, error) {
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = InformationPlaceholder
	}

	tmpl, err := ParseTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	if !tmpl.Has(cfg.Placeholder) {
		return nil, fmt.Errorf("%w: template lacks {{%s}}", ErrInvalidTemplate, cfg.Placeholder)
	}
	for _, name := range tmpl.Placeholders() {
		if name == QuestionPlaceholder || name == cfg.Placeholder {
			continue
		}
		if _, ok := cfg.Variables[name]; !ok {
			return nil, fmt.Errorf("%w: {{%s}}", ErrUnknownPlaceholder, name)
		}
	}

	vars := make(map[string]string, len(cfg.Variables))
	for k, v := range cfg.Variables {
		vars[k] = v
	}
	return &Injector{
		template:     tmpl,
		placeholder:  cfg.Placeholder,
		metadataKeys: append([]string(nil), cfg.MetadataKeys...),
		variables:    vars,
	}, nil
}

// Inject renders question with contents. Without contents the question is
// returned unchanged.
func (i *Injector) Inject(question string, contents []retriever.Content) (string, error) {
	if len(contents) == 0 {
		return question, nil
	}

	blocks := make([]string, len(contents))
	for n, c := range contents {
		blocks[n] = i.block(c)
	}

	vars := make(map[string]string, len(i.variables)+2)
	for k, v := range i.variables {
		vars[k] = v
	}
	vars[QuestionPlaceholder] = question
	vars[i.placeholder] = strings.Join(blocks, "\n\n")
	return i.template.Apply(vars)
}

func (i *Injector) block(c retriever.Content) string {
	var pairs []string
	for _, key := range i.metadataKeys {
		if v, ok := c.Segment.Metadata[key]; ok {
			pairs = append(pairs, key+": "+v)
		}
	}
	if len(pairs) == 0 {
		return c.Segment.Text
	}
	return strings.Join(pairs, "; ") + "\n" + c.Segment.Text
}
