package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/pkg/models"
	schemagen "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultExtractPrompt is the user prompt for Extract. {{it}} is the input
// text.
const DefaultExtractPrompt = "Extract information about a person from {{it}}"

const extractPlaceholder = "it"

const extractSystemPrompt = `You extract structured data from text.
Reply with a single JSON object that conforms to this JSON schema:
%s
Use null for any value the text does not state.`

var formatJSON = json.RawMessage(`"json"`)

// ExtractionError reports model output that could not fill the target.
type ExtractionError struct {
	// Missing lists required fields, as dotted paths, that were absent or null.
	Missing []string

	// Raw is the model output after fence stripping.
	Raw string

	Cause error
}

func (e *ExtractionError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("extraction failed: missing fields %s", strings.Join(e.Missing, ", "))
	case e.Cause != nil:
		return fmt.Sprintf("extraction failed: %v", e.Cause)
	default:
		return "extraction failed"
	}
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// IsExtractionError reports whether err is or wraps an *ExtractionError.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// ExtractInto extracts a T from text.
func ExtractInto[T any](ctx context.Context, a *Assistant, text string) (T, error) {
	var out T
	err := a.Extract(ctx, text, &out)
	return out, err
}

// Extract asks the model to describe text as JSON matching out's type and
// decodes the reply into out, which must be a non-nil pointer to a struct.
// Fields without omitempty are required.
func (a *Assistant) Extract(ctx context.Context, text string, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("extract target must be a non-nil pointer, got %T", out)
	}

	schema, err := schemaFor(rv.Elem().Type())
	if err != nil {
		return err
	}

	prompt, err := a.extractPrompt.Apply(map[string]string{extractPlaceholder: text})
	if err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, observability.ScopeAssistant, "assistant.extract",
		"type", rv.Elem().Type().String())
	defer span.End()

	temperature := 0.0
	if a.temperature != nil {
		temperature = *a.temperature
	}

	resp, err := a.provider.Complete(ctx, &agent.CompletionRequest{
		Model: a.model,
		Messages: []models.ChatMessage{
			models.SystemMessage(fmt.Sprintf(extractSystemPrompt, schema.text)),
			models.UserMessage(prompt),
		},
		Format:      formatJSON,
		Temperature: &temperature,
	})
	if err != nil {
		a.metrics.RecordChat("extract", observability.Status(err))
		observability.RecordError(span, err)
		return err
	}

	err = schema.decode(resp.Content, out)
	a.metrics.RecordChat("extract", observability.Status(err))
	if err != nil {
		observability.RecordError(span, err)
		a.logger.Warn("extraction failed", "error", err)
	}
	return err
}

type extractSchema struct {
	text     string
	compiled *jsonschema.Schema
	doc      map[string]any
}

var schemaCache sync.Map

func schemaFor(typ reflect.Type) (*extractSchema, error) {
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(*extractSchema), nil
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("extract target must point to a struct, got %s", typ)
	}

	r := &schemagen.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	reflected := r.ReflectFromType(typ)
	reflected.Version = ""

	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction schema: %w", err)
	}
	compiled, err := jsonschema.CompileString(typ.String()+".schema.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode extraction schema: %w", err)
	}

	s := &extractSchema{text: string(data), compiled: compiled, doc: doc}
	actual, _ := schemaCache.LoadOrStore(typ, s)
	return actual.(*extractSchema), nil
}

// decode strips fences, drops nulls, checks required fields and the schema,
// then unmarshals into out.
func (s *extractSchema) decode(content string, out any) error {
	raw := StripCodeFences(content)

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return &ExtractionError{Raw: raw, Cause: fmt.Errorf("reply is not JSON: %w", err)}
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return &ExtractionError{Raw: raw, Cause: errors.New("reply is not a JSON object")}
	}
	pruneNulls(obj)

	if missing := missingFields(s.doc, obj, ""); len(missing) > 0 {
		return &ExtractionError{Missing: missing, Raw: raw}
	}
	if err := s.compiled.Validate(obj); err != nil {
		return &ExtractionError{Raw: raw, Cause: err}
	}

	cleaned, err := json.Marshal(obj)
	if err != nil {
		return &ExtractionError{Raw: raw, Cause: err}
	}
	if err := json.Unmarshal(cleaned, out); err != nil {
		return &ExtractionError{Raw: raw, Cause: err}
	}
	return nil
}

// StripCodeFences removes a surrounding ``` fence, with or without a
// language tag, and trims whitespace.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func pruneNulls(v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if child == nil {
				delete(val, k)
				continue
			}
			pruneNulls(child)
		}
	case []any:
		for _, child := range val {
			pruneNulls(child)
		}
	}
}

// missingFields walks schema and reports required properties absent from
// obj. Nested objects are checked only when present.
func missingFields(schema map[string]any, obj map[string]any, prefix string) []string {
	var missing []string
	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				missing = append(missing, prefix+name)
			}
		}
	}

	for name, p := range props {
		child, ok := obj[name].(map[string]any)
		if !ok {
			continue
		}
		if sub, ok := p.(map[string]any); ok {
			missing = append(missing, missingFields(sub, child, prefix+name+".")...)
		}
	}
	sort.Strings(missing)
	return missing
}
