// Package ollama provides an embedding model served by a local Ollama.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/ragline/internal/embeddings"
	backend "github.com/haasonsaas/ragline/internal/ollama"
)

// DefaultConcurrency bounds parallel embed requests in EmbedAll.
const DefaultConcurrency = 4

// Embedder is the subset of the inference client this model needs.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Config contains configuration for the Ollama model.
type Config struct {
	Client Embedder
	Model  string // all-minilm, nomic-embed-text, mxbai-embed-large

	// Dimension overrides the known-model table.
	Dimension int

	// Concurrency bounds EmbedAll fan-out.
	Concurrency int
}

// Model implements embeddings.Model using Ollama.
type Model struct {
	client      Embedder
	model       string
	dimension   atomic.Int64
	concurrency int
}

var _ embeddings.Model = (*Model)(nil)

// New creates a new Ollama embedding model.
func New(cfg Config) (*Model, error) {
	if cfg.Client == nil {
		return nil, errors.New("ollama embeddings: client is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "all-minilm"
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("ollama embeddings: invalid dimension %d", cfg.Dimension)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	m := &Model{client: cfg.Client, model: model, concurrency: concurrency}
	dim := cfg.Dimension
	if dim == 0 {
		dim = embeddings.KnownDimension(model)
	}
	m.dimension.Store(int64(dim))
	return m, nil
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.model
}

// Dimension returns the embedding dimension, or 0 before the first call
// for models missing from the known table.
func (m *Model) Dimension() int {
	return int(m.dimension.Load())
}

// Probe embeds a short text to learn the dimension of an unknown model.
func (m *Model) Probe(ctx context.Context) (int, error) {
	if dim := m.Dimension(); dim > 0 {
		return dim, nil
	}
	if _, err := m.Embed(ctx, "dimension probe"); err != nil {
		return 0, err
	}
	return m.Dimension(), nil
}

// Embed generates an embedding for a single text.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := m.client.Embed(ctx, m.model, text)
	if err != nil {
		return nil, err
	}
	want := m.Dimension()
	if want == 0 {
		m.dimension.CompareAndSwap(0, int64(len(vec)))
		want = m.Dimension()
	}
	if err := embeddings.CheckDimension(m.model, vec, want); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedAll embeds texts with bounded concurrency. The first failure
// cancels outstanding requests.
func (m *Model) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	sem := make(chan struct{}, m.concurrency)

	for i, text := range texts {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errOnce.Do(func() { firstErr = ctx.Err() })
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()

			vec, err := m.Embed(ctx, text)
			if err != nil {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("embed text %d: %w", i, err)
					cancel()
				})
				return
			}
			out[i] = vec
		}(i, text)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

var _ Embedder = (*backend.Client)(nil)
