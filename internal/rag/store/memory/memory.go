// Package memory provides an in-process embedding store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/pkg/models"
)

const backendName = "memory"

// Store keeps entries in process memory. Normalized vectors live in one
// contiguous slice so a search is a single linear scan. Readers share the
// lock; writers hold it exclusively.
type Store struct {
	mu        sync.RWMutex
	dimension int
	ids       []string
	raw       [][]float32
	unit      []float32
	segments  []models.TextSegment
	index     map[string]int

	metrics *observability.Metrics
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMetrics records operation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates an empty store. A zero dimension is fixed by the first insert.
func New(dimension int, opts ...Option) *Store {
	s := &Store{dimension: dimension, index: make(map[string]int)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimension returns the vector length, or 0 before the first insert.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Add stores one embedding.
func (s *Store) Add(ctx context.Context, embedding []float32, segment models.TextSegment) (string, error) {
	ids, err := s.AddAll(ctx, [][]float32{embedding}, []models.TextSegment{segment})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddAll stores embeddings paired with segments. Nothing is stored if any
// embedding is invalid.
func (s *Store) AddAll(ctx context.Context, embeddings [][]float32, segments []models.TextSegment) (ids []string, err error) {
	start := time.Now()
	defer func() { s.observe("add", start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidatePair(embeddings, segments); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 && len(embeddings) > 0 {
		dim = len(embeddings[0])
	}
	for i, vec := range embeddings {
		if err := store.ValidateEmbedding(vec, dim); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}
	s.dimension = dim

	ids = make([]string, len(embeddings))
	for i, vec := range embeddings {
		id := uuid.NewString()
		s.appendLocked(id, vec, segments[i])
		ids[i] = id
	}
	return ids, nil
}

func (s *Store) appendLocked(id string, vec []float32, segment models.TextSegment) {
	s.index[id] = len(s.ids)
	s.ids = append(s.ids, id)
	s.raw = append(s.raw, append([]float32(nil), vec...))
	s.unit = append(s.unit, store.Normalize(vec)...)
	s.segments = append(s.segments, models.NewTextSegment(segment.Text, segment.Metadata))
}

// Search scans every entry and returns the best matches.
func (s *Store) Search(ctx context.Context, req *store.SearchRequest) (result *store.SearchResult, err error) {
	start := time.Now()
	defer func() { s.observe("search", start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := req.Validate(s.dimension); err != nil {
		return nil, err
	}
	query := store.Normalize(req.QueryEmbedding)
	dim := s.dimension

	var matches []models.Match
	for i, id := range s.ids {
		if len(req.Filter) > 0 && !models.MatchesFilter(s.segments[i].Metadata, req.Filter) {
			continue
		}
		row := s.unit[i*dim : (i+1)*dim]
		var dot float64
		for j, v := range row {
			dot += float64(v) * float64(query[j])
		}
		score := store.RelevanceScore(dot)
		if score < req.MinScore {
			continue
		}
		matches = append(matches, models.Match{
			Entry: models.StoreEntry{
				ID:        id,
				Embedding: append([]float32(nil), s.raw[i]...),
				Segment:   models.NewTextSegment(s.segments[i].Text, s.segments[i].Metadata),
			},
			Score: score,
		})
	}

	store.SortMatches(matches)
	if len(matches) > req.MaxResults {
		matches = matches[:req.MaxResults]
	}
	return &store.SearchResult{Matches: matches}, nil
}

// Remove deletes one entry.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil
	}
	s.removeAtLocked(i)
	return nil
}

// RemoveAll deletes entries matching filter; an empty filter clears the store.
func (s *Store) RemoveAll(ctx context.Context, filter store.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(filter) == 0 {
		s.ids, s.raw, s.unit, s.segments = nil, nil, nil, nil
		s.index = make(map[string]int)
		return nil
	}
	for i := len(s.ids) - 1; i >= 0; i-- {
		if models.MatchesFilter(s.segments[i].Metadata, filter) {
			s.removeAtLocked(i)
		}
	}
	return nil
}

// removeAtLocked moves the last entry into slot i.
func (s *Store) removeAtLocked(i int) {
	last := len(s.ids) - 1
	dim := s.dimension
	delete(s.index, s.ids[i])
	if i != last {
		s.ids[i] = s.ids[last]
		s.raw[i] = s.raw[last]
		s.segments[i] = s.segments[last]
		copy(s.unit[i*dim:(i+1)*dim], s.unit[last*dim:(last+1)*dim])
		s.index[s.ids[i]] = i
	}
	s.ids = s.ids[:last]
	s.raw = s.raw[:last]
	s.segments = s.segments[:last]
	s.unit = s.unit[:last*dim]
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

type snapshot struct {
	Dimension int                 `json:"dimension"`
	Entries   []models.StoreEntry `json:"entries"`
}

// SaveFile writes the store to path as JSON, replacing it atomically.
func (s *Store) SaveFile(path string) error {
	s.mu.RLock()
	snap := snapshot{Dimension: s.dimension, Entries: make([]models.StoreEntry, len(s.ids))}
	for i, id := range s.ids {
		snap.Entries[i] = models.StoreEntry{ID: id, Embedding: s.raw[i], Segment: s.segments[i]}
	}
	data, err := json.Marshal(snap)
	s.mu.RUnlock()
	if err != nil {
		return store.Wrap(backendName, "save", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ragline-store-*")
	if err != nil {
		return store.Wrap(backendName, "save", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return store.Wrap(backendName, "save", err)
	}
	if err := tmp.Close(); err != nil {
		return store.Wrap(backendName, "save", err)
	}
	return store.Wrap(backendName, "save", os.Rename(tmp.Name(), path))
}

// LoadFile reads a store written by SaveFile.
func LoadFile(path string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, store.Wrap(backendName, "load", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, store.Wrap(backendName, "load", fmt.Errorf("decode %s: %w", path, err))
	}

	s := New(snap.Dimension, opts...)
	for _, e := range snap.Entries {
		if err := store.ValidateEmbedding(e.Embedding, s.dimension); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		if s.dimension == 0 {
			s.dimension = len(e.Embedding)
		}
		s.appendLocked(e.ID, e.Embedding, e.Segment)
	}
	return s, nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.RecordStoreOperation(backendName, op, observability.Status(err), time.Since(start).Seconds())
}
