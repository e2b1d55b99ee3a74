// Package store defines the embedding store used for similarity search
// over text segments, with in-memory, pgvector and SQLite back-ends.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/haasonsaas/ragline/pkg/models"
)

// Store persists embeddings with their segments and answers k-nearest
// queries by cosine similarity. Implementations are safe for concurrent use.
type Store interface {
	// Add stores one embedding and returns its generated ID.
	Add(ctx context.Context, embedding []float32, segment models.TextSegment) (string, error)

	// AddAll stores embeddings paired pointwise with segments. The call is
	// all or nothing.
	AddAll(ctx context.Context, embeddings [][]float32, segments []models.TextSegment) ([]string, error)

	// Search returns matches ordered by score descending, ties by ID.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// Remove deletes one entry. Removing an unknown ID is not an error.
	Remove(ctx context.Context, id string) error

	// RemoveAll deletes entries whose metadata matches filter. An empty
	// filter deletes everything.
	RemoveAll(ctx context.Context, filter Filter) error

	// Dimension returns the fixed vector length, or 0 if not yet fixed.
	Dimension() int

	// Close releases resources.
	Close() error
}

// Filter selects entries whose metadata contains every key/value pair.
type Filter map[string]string

// SearchRequest configures a similarity search.
type SearchRequest struct {
	// QueryEmbedding is the query vector.
	QueryEmbedding []float32

	// MaxResults bounds the number of matches returned.
	MaxResults int

	// MinScore drops matches scoring below it. Must be in [0, 1].
	MinScore float64

	// Filter restricts the search to matching metadata.
	Filter Filter
}

// SearchResult holds ordered matches.
type SearchResult struct {
	Matches []models.Match
}

var (
	// ErrDimensionMismatch is matched by every DimensionMismatchError.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrLengthMismatch is returned when AddAll inputs differ in length.
	ErrLengthMismatch = errors.New("embeddings and segments differ in length")

	// ErrInvalidEmbedding is returned for empty vectors or NaN/Inf values.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrInvalidRequest is returned for malformed search requests.
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrTimeout is matched by store errors caused by an expired deadline
	// or a statement the database canceled.
	ErrTimeout = errors.New("store operation timed out")
)

// DimensionMismatchError reports a vector whose length differs from the
// store dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: store has %d, got %d", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrDimensionMismatch) succeed.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// StoreError wraps a database or I/O failure.
type StoreError struct {
	Backend string
	Op      string
	Err     error
	// Timeout marks failures caused by an expired deadline.
	Timeout bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTimeout) succeed for timeouts.
func (e *StoreError) Is(target error) bool {
	return e.Timeout && target == ErrTimeout
}

// IsTimeout reports whether err is a store timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Wrap returns nil for a nil err and a *StoreError otherwise. Validation
// errors pass through unchanged. Deadline and network timeouts are marked
// as timeouts.
func Wrap(backend, op string, err error) error {
	return wrap(backend, op, err, isTimeout(err))
}

// WrapContext is Wrap for an operation bound to ctx. A failure after the
// deadline of ctx passed is a timeout whatever error the driver returned.
func WrapContext(ctx context.Context, backend, op string, err error) error {
	return wrap(backend, op, err, isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded))
}

// WrapTimeout is Wrap for failures the caller already knows are timeouts.
func WrapTimeout(backend, op string, err error) error {
	return wrap(backend, op, err, true)
}

func wrap(backend, op string, err error, timeout bool) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		if timeout && !se.Timeout {
			return &StoreError{Backend: se.Backend, Op: se.Op, Err: se.Err, Timeout: true}
		}
		return err
	}
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrInvalidEmbedding) ||
		errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrLengthMismatch) {
		return err
	}
	return &StoreError{Backend: backend, Op: op, Err: err, Timeout: timeout}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// ValidateEmbedding checks vec against dimension (0 skips the length
// check) and rejects NaN and Inf values.
func ValidateEmbedding(vec []float32, dimension int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	if dimension > 0 && len(vec) != dimension {
		return &DimensionMismatchError{Expected: dimension, Actual: len(vec)}
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: contains NaN or Inf", ErrInvalidEmbedding)
		}
	}
	return nil
}

// ValidatePair checks AddAll inputs.
func ValidatePair(embeddings [][]float32, segments []models.TextSegment) error {
	if len(embeddings) != len(segments) {
		return fmt.Errorf("%w: %d embeddings, %d segments", ErrLengthMismatch, len(embeddings), len(segments))
	}
	return nil
}

// Validate checks the request against the store dimension.
func (r *SearchRequest) Validate(dimension int) error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if r.MaxResults <= 0 {
		return fmt.Errorf("%w: maxResults must be positive, got %d", ErrInvalidRequest, r.MaxResults)
	}
	if r.MinScore < 0 || r.MinScore > 1 || math.IsNaN(r.MinScore) {
		return fmt.Errorf("%w: minScore must be in [0, 1], got %v", ErrInvalidRequest, r.MinScore)
	}
	return ValidateEmbedding(r.QueryEmbedding, dimension)
}

// RelevanceScore maps cosine similarity in [-1, 1] onto [0, 1].
func RelevanceScore(cosine float64) float64 {
	score := (1 + cosine) / 2
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector has zero length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize returns a unit-length copy of vec. The zero vector stays zero.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}

// SortMatches orders by score descending, then ID ascending.
func SortMatches(matches []models.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.ID < matches[j].Entry.ID
	})
}
