package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/ragline/pkg/models"
)

const addSchema = `{
	"type": "object",
	"properties": {
		"a": {"type": "integer"},
		"b": {"type": "integer"}
	},
	"required": ["a", "b"]
}`

func addHandler(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args.A + args.B, nil
}

func newAddRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	r := NewToolRegistry()
	err := r.Register(ToolDescriptor{
		Name:        "add",
		Description: "Adds two integers",
		Parameters:  json.RawMessage(addSchema),
	}, addHandler)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

func TestToolRegistry_RegisterValidatesName(t *testing.T) {
	r := NewToolRegistry()
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"add", false},
		{"count_characters", false},
		{"kebab-case-1", false},
		{"", true},
		{"has space", true},
		{"dotted.name", true},
		{strings.Repeat("x", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(ToolDescriptor{Name: tt.name}, addHandler)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidToolName) {
				t.Errorf("error = %v, want ErrInvalidToolName", err)
			}
		})
	}
}

func TestToolRegistry_RegisterRejectsBadSchema(t *testing.T) {
	r := NewToolRegistry()
	err := r.Register(ToolDescriptor{
		Name:       "broken",
		Parameters: json.RawMessage(`{"type": 42}`),
	}, addHandler)
	if err == nil {
		t.Fatal("expected schema compile error")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestToolRegistry_Descriptors(t *testing.T) {
	r := NewToolRegistry()
	for _, name := range []string{"multiply", "add", "count_characters"} {
		if err := r.Register(ToolDescriptor{Name: name}, addHandler); err != nil {
			t.Fatal(err)
		}
	}

	got := r.Descriptors()
	want := []string{"add", "count_characters", "multiply"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Errorf("Descriptors()[%d] = %s, want %s", i, got[i].Name, want[i])
		}
	}

	r.Unregister("add")
	if _, ok := r.Get("add"); ok {
		t.Error("add still registered after Unregister")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestToolRegistry_Execute(t *testing.T) {
	r := newAddRegistry(t)

	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
	}{
		{name: "plain object", input: `{"a": 2, "b": 3}`, want: "5"},
		{name: "string numbers coerced", input: `{"a": "2", "b": " 40 "}`, want: "42"},
		{name: "string wrapped object", input: `"{\"a\": 1, \"b\": 1}"`, want: "2"},
		{name: "missing required", input: `{"a": 1}`, wantError: true},
		{name: "not a number", input: `{"a": "two", "b": 1}`, wantError: true},
		{name: "array", input: `[1, 2]`, wantError: true},
		{name: "empty input", input: ``, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), models.ToolCall{
				ID:    "call-1",
				Name:  "add",
				Input: json.RawMessage(tt.input),
			})
			if res.ToolCallID != "call-1" || res.Name != "add" {
				t.Errorf("result ids = %q/%q", res.ToolCallID, res.Name)
			}
			if res.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v (content %s)", res.IsError, tt.wantError, res.Content)
			}
			if tt.wantError {
				var body map[string]string
				if err := json.Unmarshal([]byte(res.Content), &body); err != nil {
					t.Fatalf("error content is not JSON: %s", res.Content)
				}
				if body["error"] == "" {
					t.Errorf("error content = %s, want error field", res.Content)
				}
				return
			}
			if res.Content != tt.want {
				t.Errorf("Content = %s, want %s", res.Content, tt.want)
			}
		})
	}
}

func TestToolRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewToolRegistry()
	res := r.Execute(context.Background(), models.ToolCall{ID: "x", Name: "missing"})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(res.Content), &body); err != nil {
		t.Fatalf("error content is not JSON: %s", res.Content)
	}
	if body["error"] != "tool not found: missing" {
		t.Errorf("Content = %s", res.Content)
	}
}

func TestToolRegistry_ExecuteKeepsLargeIntegers(t *testing.T) {
	r := NewToolRegistry()
	err := r.Register(ToolDescriptor{
		Name:       "echo",
		Parameters: json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"},"ref":{"type":"integer"}}}`),
	}, func(_ context.Context, args json.RawMessage) (any, error) {
		return args, nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res := r.Execute(context.Background(), models.ToolCall{
		Name:  "echo",
		Input: json.RawMessage(`{"id": 9007199254740993, "ref": "9007199254740995"}`),
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if res.Content != `{"id":9007199254740993,"ref":9007199254740995}` {
		t.Errorf("Content = %s", res.Content)
	}
}

func TestToolRegistry_ExecuteRejectsTrailingData(t *testing.T) {
	r := newAddRegistry(t)
	res := r.Execute(context.Background(), models.ToolCall{
		Name:  "add",
		Input: json.RawMessage(`{"a": 1, "b": 2} {"a": 3}`),
	})
	if !res.IsError {
		t.Fatalf("expected error result, got %s", res.Content)
	}
}

func TestToolRegistry_ExecuteHandlerError(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(ToolDescriptor{Name: "fail"}, func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("disk full")
	})

	res := r.Execute(context.Background(), models.ToolCall{Name: "fail", Input: json.RawMessage(`{}`)})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if res.Content != `{"error":"disk full"}` {
		t.Errorf("Content = %s", res.Content)
	}
}

func TestToolRegistry_ExecuteRecoversPanic(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(ToolDescriptor{Name: "boom"}, func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})

	res := r.Execute(context.Background(), models.ToolCall{Name: "boom"})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(res.Content, "kaboom") || !strings.Contains(res.Content, ErrToolPanic.Error()) {
		t.Errorf("Content = %s", res.Content)
	}
}

func TestToolRegistry_ExecuteResultEncoding(t *testing.T) {
	r := NewToolRegistry()
	values := map[string]any{
		"text":   "plain text",
		"raw":    json.RawMessage(`{"ok":true}`),
		"struct": struct{ Count int }{Count: 3},
		"nil":    nil,
	}
	for name, v := range values {
		v := v
		_ = r.Register(ToolDescriptor{Name: name}, func(context.Context, json.RawMessage) (any, error) {
			return v, nil
		})
	}

	want := map[string]string{
		"text":   "plain text",
		"raw":    `{"ok":true}`,
		"struct": `{"Count":3}`,
		"nil":    "null",
	}
	for name, w := range want {
		t.Run(name, func(t *testing.T) {
			res := r.Execute(context.Background(), models.ToolCall{Name: name, Input: json.RawMessage("null")})
			if res.IsError {
				t.Fatalf("unexpected error: %s", res.Content)
			}
			if res.Content != w {
				t.Errorf("Content = %s, want %s", res.Content, w)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   string
		typ  string
		want any
		ok   bool
	}{
		{"42", "integer", int64(42), true},
		{"42.0", "integer", int64(42), true},
		{"42.5", "integer", nil, false},
		{"2.5", "number", 2.5, true},
		{"true", "boolean", true, true},
		{"yes", "boolean", nil, false},
		{"hello", "string", nil, false},
	}
	for _, tt := range tests {
		got, ok := coerce(tt.in, tt.typ)
		if ok != tt.ok || got != tt.want {
			t.Errorf("coerce(%q, %s) = %v, %v; want %v, %v", tt.in, tt.typ, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPropertyTypes(t *testing.T) {
	schema := json.RawMessage(`{"properties": {
		"a": {"type": "integer"},
		"b": {"type": ["null", "number"]},
		"c": {}
	}}`)
	got := propertyTypes(schema)
	if got["a"] != "integer" || got["b"] != "number" {
		t.Errorf("propertyTypes() = %v", got)
	}
	if _, ok := got["c"]; ok {
		t.Errorf("untyped property should be absent: %v", got)
	}
}
