// Package embeddings defines the embedding model contract shared by the
// ingestion pipeline and the retriever.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// Model maps text to fixed-length vectors. Implementations must be safe for
// concurrent use.
type Model interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedAll generates embeddings for texts, preserving order.
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector length, or 0 while still unknown.
	Dimension() int

	// Name identifies the model in logs and metrics.
	Name() string
}

// ErrUnexpectedDimension is returned when a model produces a vector whose
// length differs from its declared dimension.
var ErrUnexpectedDimension = errors.New("unexpected embedding dimension")

// CheckDimension validates vec against want. A zero want accepts anything.
func CheckDimension(model string, vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%w: model %s returned %d values, expected %d", ErrUnexpectedDimension, model, len(vec), want)
	}
	return nil
}

// KnownDimension returns the output size of well-known Ollama embedding
// models, or 0 when the model is not recognized.
func KnownDimension(model string) int {
	switch baseName(model) {
	case "all-minilm", "bge-small", "paraphrase-multilingual":
		return 384
	case "nomic-embed-text", "bge-base", "granite-embedding":
		return 768
	case "mxbai-embed-large", "bge-large", "snowflake-arctic-embed", "bge-m3":
		return 1024
	default:
		return 0
	}
}

func baseName(model string) string {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i]
		}
	}
	return model
}
