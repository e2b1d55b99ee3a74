package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/haasonsaas/ragline/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// MaxToolParamsSize is the maximum size of tool arguments JSON (1MB).
const MaxToolParamsSize = 1 << 20

// ToolDescriptor describes a tool to the model. It is the source of truth
// for the tool's name and parameter schema.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`

	// SideEffectFree tools may run concurrently with each other.
	SideEffectFree bool `json:"side_effect_free,omitempty"`
}

// ToolHandler runs a tool on validated JSON object arguments. Strings and
// json.RawMessage values are returned to the model as is; anything else is
// encoded as JSON.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

type registeredTool struct {
	desc    ToolDescriptor
	handler ToolHandler
	schema  *jsonschema.Schema
	types   map[string]string
}

// ToolRegistry manages available tools with thread-safe registration and lookup.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*registeredTool)}
}

// Register validates desc, compiles its parameter schema and adds the tool.
// A tool with the same name is replaced.
func (r *ToolRegistry) Register(desc ToolDescriptor, handler ToolHandler) error {
	if !toolNamePattern.MatchString(desc.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidToolName, desc.Name)
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is nil", desc.Name)
	}
	if len(bytes.TrimSpace(desc.Parameters)) == 0 {
		desc.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}

	schema, err := jsonschema.CompileString(desc.Name+".schema.json", string(desc.Parameters))
	if err != nil {
		return fmt.Errorf("tool %s: compile parameter schema: %w", desc.Name, err)
	}

	tool := &registeredTool{
		desc:    desc,
		handler: handler,
		schema:  schema,
		types:   propertyTypes(desc.Parameters),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = tool
	return nil
}

// RegisterTool adds a tool built by NewFuncTool.
func (r *ToolRegistry) RegisterTool(t Tool) error {
	return r.Register(t.Descriptor, t.Handler)
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool descriptor by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return tool.desc, true
}

// Descriptors returns every tool descriptor sorted by name.
func (r *ToolRegistry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SideEffectFree reports whether every named tool is registered and marked
// side-effect free.
func (r *ToolRegistry) SideEffectFree(names ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok || !t.desc.SideEffectFree {
			return false
		}
	}
	return true
}

// Execute runs one tool call. Every failure is reported in the result,
// never as a Go error, so the model can see it.
func (r *ToolRegistry) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	result := models.ToolResult{ToolCallID: call.ID, Name: call.Name}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(result, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name))
	}

	args, err := tool.normalizeArgs(call.Input)
	if err != nil {
		return errorResult(result, err)
	}

	value, err := runHandler(ctx, tool.handler, args)
	if err != nil {
		return errorResult(result, err)
	}

	content, err := encodeValue(value)
	if err != nil {
		return errorResult(result, fmt.Errorf("encode result: %w", err))
	}
	result.Content = content
	return result
}

// normalizeArgs decodes raw into an object, coerces primitive strings to
// the declared property types and validates against the schema.
func (t *registeredTool) normalizeArgs(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) > MaxToolParamsSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidArguments, MaxToolParamsSize)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	// Some models send the object encoded as a JSON string.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		raw = []byte(strings.TrimSpace(inner))
		if len(raw) == 0 {
			raw = []byte("{}")
		}
	}

	var args map[string]any
	if err := decodeExact(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON object: %v", ErrInvalidArguments, err)
	}
	if args == nil {
		args = map[string]any{}
	}

	for name, typ := range t.types {
		s, ok := args[name].(string)
		if !ok {
			continue
		}
		if v, ok := coerce(strings.TrimSpace(s), typ); ok {
			args[name] = v
		}
	}

	out, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	var doc any
	if err := decodeExact(out, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := t.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return out, nil
}

// decodeExact decodes a single JSON value, keeping numbers as json.Number
// so integers beyond 2^53 survive re-encoding.
func decodeExact(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func coerce(s, typ string) (any, bool) {
	switch typ {
	case "integer":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case "number":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	case "boolean":
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return nil, false
}

// propertyTypes maps each top-level property to its primitive JSON type.
// A type list such as ["integer","null"] yields its first non-null entry.
func propertyTypes(schema json.RawMessage) map[string]string {
	var doc struct {
		Properties map[string]struct {
			Type json.RawMessage `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil
	}

	types := make(map[string]string, len(doc.Properties))
	for name, prop := range doc.Properties {
		var single string
		if json.Unmarshal(prop.Type, &single) == nil {
			types[name] = single
			continue
		}
		var many []string
		if json.Unmarshal(prop.Type, &many) == nil {
			for _, t := range many {
				if t != "null" {
					types[name] = t
					break
				}
			}
		}
	}
	return types
}

// runHandler calls h, converting a panic into ErrToolPanic, and returns
// early when ctx ends first.
func runHandler(ctx context.Context, h ToolHandler, args json.RawMessage) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrToolPanic, p)}
			}
		}()
		v, err := h(ctx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrToolTimeout, o.err)
		}
		return o.value, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrToolTimeout
		}
		return nil, ctx.Err()
	}
}

func encodeValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return val, nil
	case json.RawMessage:
		return string(val), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func errorResult(result models.ToolResult, err error) models.ToolResult {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	result.Content = string(data)
	result.IsError = true
	return result
}
