// Package rag provides the document_search tool, which lets the model query
// the embedding store directly instead of relying on automatic injection.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/embeddings"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/pkg/models"
)

// SearchToolName is the registered tool name.
const SearchToolName = "document_search"

// SearchToolConfig configures result limits, similarity thresholds and
// content formatting.
type SearchToolConfig struct {
	// DefaultLimit is the default number of results to return.
	// Default: 5
	DefaultLimit int

	// MaxLimit is the maximum number of results allowed.
	// Default: 20
	MaxLimit int

	// DefaultThreshold is the default similarity threshold. Nil means 0.7;
	// use a pointer to zero to keep everything.
	DefaultThreshold *float64

	// MaxContentLength truncates content to this many bytes. 0 means no
	// truncation.
	// Default: 500
	MaxContentLength int

	Logger *slog.Logger
}

// DefaultThreshold is the similarity threshold used when none is configured.
const DefaultThreshold = 0.7

// DefaultSearchToolConfig returns 5 results, a 0.7 threshold and a 500 byte
// content limit.
func DefaultSearchToolConfig() SearchToolConfig {
	threshold := DefaultThreshold
	return SearchToolConfig{
		DefaultLimit:     5,
		MaxLimit:         20,
		DefaultThreshold: &threshold,
		MaxContentLength: 500,
	}
}

// SearchArgs are the tool parameters.
type SearchArgs struct {
	Query     string            `json:"query" jsonschema:"description=The search query to find relevant documents"`
	Limit     int               `json:"limit,omitempty" jsonschema:"description=Maximum number of results to return (default 5; max 20)"`
	Threshold *float64          `json:"threshold,omitempty" jsonschema:"description=Minimum similarity score from 0 to 1 (default 0.7)"`
	Filter    map[string]string `json:"filter,omitempty" jsonschema:"description=Only return segments whose metadata has every key/value pair (e.g. file_name)"`
}

// SearchHit is one formatted result.
type SearchHit struct {
	FileName string  `json:"file_name,omitempty"`
	Source   string  `json:"source,omitempty"`
	Index    string  `json:"index,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

type searchOutput struct {
	Query   string      `json:"query"`
	Count   int         `json:"count"`
	Results []SearchHit `json:"results"`
}

// SearchTool embeds a query and searches a store.
type SearchTool struct {
	model  embeddings.Model
	store  store.Store
	config SearchToolConfig
}

// NewSearchTool creates a search tool, applying defaults for unset values.
func NewSearchTool(model embeddings.Model, st store.Store, cfg *SearchToolConfig) (*SearchTool, error) {
	if model == nil || st == nil {
		return nil, fmt.Errorf("%s requires an embedding model and a store", SearchToolName)
	}
	config := DefaultSearchToolConfig()
	if cfg != nil {
		if cfg.DefaultLimit > 0 {
			config.DefaultLimit = cfg.DefaultLimit
		}
		if cfg.MaxLimit > 0 {
			config.MaxLimit = cfg.MaxLimit
		}
		if cfg.DefaultThreshold != nil {
			if *cfg.DefaultThreshold < 0 || *cfg.DefaultThreshold > 1 {
				return nil, fmt.Errorf("default threshold must be in [0, 1], got %v", *cfg.DefaultThreshold)
			}
			config.DefaultThreshold = cfg.DefaultThreshold
		}
		if cfg.MaxContentLength > 0 {
			config.MaxContentLength = cfg.MaxContentLength
		}
		config.Logger = cfg.Logger
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &SearchTool{model: model, store: st, config: config}, nil
}

// Tool returns the agent tool backed by Search.
func (t *SearchTool) Tool() (agent.Tool, error) {
	return agent.NewFuncTool(SearchToolName,
		"Searches indexed documents for relevant information using semantic similarity. Use this to find information from ingested documents.",
		func(ctx context.Context, args SearchArgs) (string, error) {
			return t.Search(ctx, args)
		},
		agent.SideEffectFree(),
	)
}

// Search runs the query and returns indented JSON, or a plain sentence when
// nothing matched.
func (t *SearchTool) Search(ctx context.Context, args SearchArgs) (string, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	limit := args.Limit
	if limit <= 0 {
		limit = t.config.DefaultLimit
	}
	limit = min(limit, t.config.MaxLimit)

	threshold := *t.config.DefaultThreshold
	if args.Threshold != nil {
		threshold = min(max(*args.Threshold, 0), 1)
	}

	vec, err := t.model.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	res, err := t.store.Search(ctx, &store.SearchRequest{
		QueryEmbedding: vec,
		MaxResults:     limit,
		MinScore:       threshold,
		Filter:         store.Filter(args.Filter),
	})
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	t.config.Logger.Debug("document search", "query", query, "limit", limit, "threshold", threshold, "hits", len(res.Matches))
	if len(res.Matches) == 0 {
		return fmt.Sprintf("No relevant documents found for query: %q", query), nil
	}

	hits := make([]SearchHit, 0, len(res.Matches))
	for _, m := range res.Matches {
		seg := m.Entry.Segment
		hits = append(hits, SearchHit{
			FileName: seg.Metadata[models.MetaFileName],
			Source:   seg.Metadata[models.MetaFilePath],
			Index:    seg.Metadata[models.MetaIndex],
			Content:  truncate(seg.Text, t.config.MaxContentLength),
			Score:    m.Score,
		})
	}

	out, err := json.MarshalIndent(searchOutput{Query: query, Count: len(hits), Results: hits}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format results: %w", err)
	}
	return string(out), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
