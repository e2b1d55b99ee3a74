// Package hashing provides a deterministic, offline embedding model based on
// feature hashing of word tokens. It needs no backend and is used for tests
// and for running the pipeline without an embedding server.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/haasonsaas/ragline/internal/embeddings"
)

// DefaultDimension matches the small English models commonly used with Ollama.
const DefaultDimension = 384

// Model hashes lower-cased word tokens into a fixed number of buckets and
// L2-normalizes the result. Texts sharing words point in similar directions.
type Model struct {
	dimension int
}

var _ embeddings.Model = (*Model)(nil)

// New creates a hashing model. A zero dimension selects DefaultDimension.
func New(dimension int) (*Model, error) {
	if dimension < 0 {
		return nil, fmt.Errorf("hashing embeddings: invalid dimension %d", dimension)
	}
	if dimension == 0 {
		dimension = DefaultDimension
	}
	return &Model{dimension: dimension}, nil
}

// Name returns the model name.
func (m *Model) Name() string {
	return fmt.Sprintf("hashing-%d", m.dimension)
}

// Dimension returns the vector length.
func (m *Model) Dimension() int {
	return m.dimension
}

// Embed hashes text into a unit vector. Text without word characters maps
// to the zero vector.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, m.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		bucket := int(sum % uint64(m.dimension))
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// EmbedAll embeds each text in order.
func (m *Model) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
