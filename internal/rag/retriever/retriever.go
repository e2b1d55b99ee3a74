// Package retriever finds the stored segments most relevant to a query.
package retriever

import (
	"context"
	"fmt"

	"github.com/haasonsaas/ragline/internal/embeddings"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/pkg/models"
)

// Defaults applied by New.
const (
	DefaultMaxResults = 3
	DefaultMinScore   = 0.7
)

// Content is a retrieved segment with its relevance score.
type Content struct {
	Segment models.TextSegment
	Score   float64
}

// Config configures retrieval.
type Config struct {
	// MaxResults bounds the returned contents. Default: 3
	MaxResults int

	// MinScore drops contents scoring below it. Nil means 0.7; use a
	// pointer to zero to keep everything.
	MinScore *float64

	// Filter restricts retrieval to matching metadata.
	Filter store.Filter

	Metrics *observability.Metrics
}

// Retriever embeds queries and searches a store.
type Retriever struct {
	model      embeddings.Model
	store      store.Store
	maxResults int
	minScore   float64
	filter     store.Filter
	metrics    *observability.Metrics
}

// New creates a retriever over st using model for queries.
func New(model embeddings.Model, st store.Store, cfg Config) (*Retriever, error) {
	if model == nil || st == nil {
		return nil, fmt.Errorf("retriever requires an embedding model and a store")
	}
	r := &Retriever{
		model:      model,
		store:      st,
		maxResults: cfg.MaxResults,
		minScore:   DefaultMinScore,
		filter:     cfg.Filter,
		metrics:    cfg.Metrics,
	}
	if r.maxResults == 0 {
		r.maxResults = DefaultMaxResults
	}
	if r.maxResults < 0 {
		return nil, fmt.Errorf("maxResults must be positive, got %d", cfg.MaxResults)
	}
	if cfg.MinScore != nil {
		r.minScore = *cfg.MinScore
	}
	if r.minScore < 0 || r.minScore > 1 {
		return nil, fmt.Errorf("minScore must be in [0, 1], got %v", r.minScore)
	}
	return r, nil
}

// Retrieve returns the best matching contents in score order. No match is
// an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Content, error) {
	ctx, span := observability.StartSpan(ctx, observability.ScopeRetriever, "retriever.retrieve",
		"max_results", r.maxResults, "min_score", r.minScore)
	defer span.End()

	vec, err := r.model.Embed(ctx, query)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("embed query: %w", err)
	}

	res, err := r.store.Search(ctx, &store.SearchRequest{
		QueryEmbedding: vec,
		MaxResults:     r.maxResults,
		MinScore:       r.minScore,
		Filter:         r.filter,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("search store: %w", err)
	}

	contents := make([]Content, len(res.Matches))
	for i, m := range res.Matches {
		contents[i] = Content{Segment: m.Entry.Segment, Score: m.Score}
	}
	r.metrics.RecordRetrieval(len(contents))
	return contents, nil
}
