package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/rag/store/memory"
	"github.com/haasonsaas/ragline/pkg/models"
)

// vectorModel maps known texts to fixed vectors; anything else embeds to
// the x axis.
type vectorModel struct {
	vectors map[string][]float32
	err     error
}

func (m vectorModel) Embed(_ context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (m vectorModel) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (vectorModel) Dimension() int { return 2 }
func (vectorModel) Name() string   { return "vector" }

func newSearchTool(t *testing.T, model vectorModel, cfg *SearchToolConfig) *SearchTool {
	t.Helper()
	st := memory.New(2)
	ctx := context.Background()
	seed := []struct {
		vec  []float32
		text string
		file string
	}{
		{[]float32{1, 0}, "Nelly was born in 1987.", "nelly.txt"},
		{[]float32{0.9, 0.1}, "Nelly lives in Hamburg.", "nelly.txt"},
		{[]float32{0, 1}, "Unrelated content.", "other.txt"},
	}
	for i, s := range seed {
		seg := models.NewTextSegment(s.text, map[string]string{
			models.MetaFileName: s.file,
			models.MetaFilePath: "/docs/" + s.file,
			models.MetaIndex:    string(rune('0' + i)),
		})
		if _, err := st.Add(ctx, s.vec, seg); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	tool, err := NewSearchTool(model, st, cfg)
	if err != nil {
		t.Fatalf("NewSearchTool() error = %v", err)
	}
	return tool
}

func decodeOutput(t *testing.T, s string) searchOutput {
	t.Helper()
	var out searchOutput
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, s)
	}
	return out
}

func TestSearch(t *testing.T) {
	tool := newSearchTool(t, vectorModel{}, nil)

	got, err := tool.Search(context.Background(), SearchArgs{Query: "when was Nelly born?"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	out := decodeOutput(t, got)
	if out.Count != 2 || len(out.Results) != 2 {
		t.Fatalf("count = %d, results = %+v", out.Count, out.Results)
	}
	if out.Results[0].Content != "Nelly was born in 1987." {
		t.Errorf("first result = %q", out.Results[0].Content)
	}
	if out.Results[0].Score < out.Results[1].Score {
		t.Errorf("results not ordered by score: %+v", out.Results)
	}
	if out.Results[0].FileName != "nelly.txt" || out.Results[0].Source != "/docs/nelly.txt" {
		t.Errorf("metadata not carried: %+v", out.Results[0])
	}
}

func TestSearch_LimitThresholdFilter(t *testing.T) {
	tool := newSearchTool(t, vectorModel{}, &SearchToolConfig{MaxLimit: 2})
	ctx := context.Background()

	t.Run("limit clamped", func(t *testing.T) {
		zero := 0.0
		got, err := tool.Search(ctx, SearchArgs{Query: "q", Limit: 10, Threshold: &zero})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if out := decodeOutput(t, got); out.Count != 2 {
			t.Errorf("count = %d, want 2", out.Count)
		}
	})

	t.Run("filter", func(t *testing.T) {
		zero := 0.0
		got, err := tool.Search(ctx, SearchArgs{
			Query:     "q",
			Threshold: &zero,
			Filter:    map[string]string{models.MetaFileName: "other.txt"},
		})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		out := decodeOutput(t, got)
		if out.Count != 1 || out.Results[0].FileName != "other.txt" {
			t.Errorf("results = %+v", out.Results)
		}
	})

	t.Run("no match", func(t *testing.T) {
		got, err := tool.Search(ctx, SearchArgs{
			Query:  "q",
			Filter: map[string]string{models.MetaFileName: "missing.txt"},
		})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if !strings.HasPrefix(got, "No relevant documents found") {
			t.Errorf("Search() = %q", got)
		}
	})
}

func TestSearch_Errors(t *testing.T) {
	tool := newSearchTool(t, vectorModel{err: errors.New("backend down")}, nil)

	if _, err := tool.Search(context.Background(), SearchArgs{Query: "  "}); err == nil {
		t.Error("expected error for empty query")
	}
	_, err := tool.Search(context.Background(), SearchArgs{Query: "q"})
	if err == nil || !strings.Contains(err.Error(), "backend down") {
		t.Errorf("Search() error = %v, want embed failure", err)
	}
}

func TestSearchTool_Registered(t *testing.T) {
	tool := newSearchTool(t, vectorModel{}, &SearchToolConfig{MaxContentLength: 5})
	at, err := tool.Tool()
	if err != nil {
		t.Fatalf("Tool() error = %v", err)
	}
	reg := agent.NewToolRegistry()
	if err := reg.RegisterTool(at); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}

	res := reg.Execute(context.Background(), models.ToolCall{
		ID:    "call-1",
		Name:  SearchToolName,
		Input: json.RawMessage(`{"query":"Nelly","limit":"1"}`),
	})
	if res.IsError {
		t.Fatalf("Execute() error result: %s", res.Content)
	}
	out := decodeOutput(t, res.Content)
	if out.Count != 1 || out.Results[0].Content != "Nelly..." {
		t.Errorf("results = %+v", out.Results)
	}

	res = reg.Execute(context.Background(), models.ToolCall{ID: "call-2", Name: SearchToolName, Input: json.RawMessage(`{}`)})
	if !res.IsError {
		t.Errorf("missing query accepted: %s", res.Content)
	}
}

func TestNewSearchTool_RequiresDependencies(t *testing.T) {
	if _, err := NewSearchTool(nil, memory.New(2), nil); err == nil {
		t.Error("expected error without a model")
	}
}
