package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	schemagen "github.com/invopop/jsonschema"
)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor ToolDescriptor
	Handler    ToolHandler
}

// FuncToolOption configures NewFuncTool.
type FuncToolOption func(*ToolDescriptor)

// SideEffectFree marks the tool safe to run alongside other side-effect
// free tools.
func SideEffectFree() FuncToolOption {
	return func(d *ToolDescriptor) { d.SideEffectFree = true }
}

// WithParameters replaces the reflected schema.
func WithParameters(schema json.RawMessage) FuncToolOption {
	return func(d *ToolDescriptor) { d.Parameters = schema }
}

// NewFuncTool builds a tool from a typed function. The parameter schema is
// reflected from Args, which must be a struct; json and jsonschema tags are
// honored.
func NewFuncTool[Args, Result any](name, description string, fn func(context.Context, Args) (Result, error), opts ...FuncToolOption) (Tool, error) {
	if fn == nil {
		return Tool{}, fmt.Errorf("tool %s: function is nil", name)
	}
	if !toolNamePattern.MatchString(name) {
		return Tool{}, fmt.Errorf("%w: %q", ErrInvalidToolName, name)
	}

	params, err := reflectParameters[Args]()
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: %w", name, err)
	}

	desc := ToolDescriptor{
		Name:        name,
		Description: description,
		Parameters:  params,
	}
	for _, opt := range opts {
		opt(&desc)
	}

	handler := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args Args
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return fn(ctx, args)
	}

	return Tool{Descriptor: desc, Handler: handler}, nil
}

func reflectParameters[Args any]() (json.RawMessage, error) {
	typ := reflect.TypeOf((*Args)(nil)).Elem()
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("arguments must be a struct, got %s", typ.Kind())
	}

	r := &schemagen.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.ReflectFromType(typ)
	schema.Version = ""
	schema.ID = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal parameter schema: %w", err)
	}
	return data, nil
}
