package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/haasonsaas/ragline/pkg/models"
)

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		vec     []float32
		dim     int
		wantErr error
	}{
		{"valid", []float32{1, 2, 3}, 3, nil},
		{"any dimension", []float32{1, 2}, 0, nil},
		{"empty", nil, 3, ErrInvalidEmbedding},
		{"mismatch", []float32{1, 2}, 3, ErrDimensionMismatch},
		{"nan", []float32{1, float32(math.NaN()), 3}, 3, ErrInvalidEmbedding},
		{"inf", []float32{1, float32(math.Inf(1)), 3}, 3, ErrInvalidEmbedding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmbedding(tt.vec, tt.dim)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDimensionMismatchErrorAs(t *testing.T) {
	err := ValidateEmbedding([]float32{1}, 4)
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("error = %v, want *DimensionMismatchError", err)
	}
	if dm.Expected != 4 || dm.Actual != 1 {
		t.Errorf("got %+v", dm)
	}
}

func TestSearchRequestValidate(t *testing.T) {
	q := []float32{1, 0}
	tests := []struct {
		name    string
		req     *SearchRequest
		wantErr bool
	}{
		{"valid", &SearchRequest{QueryEmbedding: q, MaxResults: 3, MinScore: 0.7}, false},
		{"nil", nil, true},
		{"zero results", &SearchRequest{QueryEmbedding: q, MaxResults: 0}, true},
		{"score too high", &SearchRequest{QueryEmbedding: q, MaxResults: 1, MinScore: 1.5}, true},
		{"negative score", &SearchRequest{QueryEmbedding: q, MaxResults: 1, MinScore: -0.1}, true},
		{"wrong dimension", &SearchRequest{QueryEmbedding: []float32{1}, MaxResults: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(2)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRelevanceScore(t *testing.T) {
	tests := []struct {
		cos, want float64
	}{
		{1, 1},
		{0, 0.5},
		{-1, 0},
		{0.4, 0.7},
		{1.0000001, 1},
	}
	for _, tt := range tests {
		if got := RelevanceScore(tt.cos); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("RelevanceScore(%v) = %v, want %v", tt.cos, got, tt.want)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{2, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("parallel = %v, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 3}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float32{3, 4})
	if math.Abs(float64(out[0])-0.6) > 1e-6 || math.Abs(float64(out[1])-0.8) > 1e-6 {
		t.Errorf("Normalize = %v", out)
	}
}

func TestSortMatchesBreaksTiesByID(t *testing.T) {
	matches := []models.Match{
		{Entry: models.StoreEntry{ID: "c"}, Score: 0.8},
		{Entry: models.StoreEntry{ID: "b"}, Score: 0.9},
		{Entry: models.StoreEntry{ID: "a"}, Score: 0.8},
	}
	SortMatches(matches)
	want := []string{"b", "a", "c"}
	for i, id := range want {
		if matches[i].Entry.ID != id {
			t.Errorf("matches[%d] = %s, want %s", i, matches[i].Entry.ID, id)
		}
	}
}

func TestWrapPassesValidationErrors(t *testing.T) {
	if Wrap("memory", "add", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	dm := &DimensionMismatchError{Expected: 2, Actual: 1}
	if got := Wrap("memory", "add", dm); got != error(dm) {
		t.Errorf("Wrap changed validation error: %v", got)
	}
	var se *StoreError
	if !errors.As(Wrap("pgvector", "search", errors.New("boom")), &se) {
		t.Error("expected *StoreError")
	}
}

func TestWrapMarksTimeouts(t *testing.T) {
	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	driverErr := errors.New("canceling query due to user request")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "plain failure", err: Wrap("sqlite", "search", driverErr), want: false},
		{name: "deadline exceeded", err: Wrap("sqlite", "search", fmt.Errorf("query: %w", context.DeadlineExceeded)), want: true},
		{name: "expired context", err: WrapContext(expired, "pgvector", "search", driverErr), want: true},
		{name: "live context", err: WrapContext(context.Background(), "pgvector", "search", driverErr), want: false},
		{name: "known timeout", err: WrapTimeout("pgvector", "add", driverErr), want: true},
		{name: "rewrapped store error", err: WrapContext(expired, "pgvector", "search", Wrap("pgvector", "search", driverErr)), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(tt.err, driverErr) && !errors.Is(tt.err, context.DeadlineExceeded) {
				t.Errorf("cause lost: %v", tt.err)
			}
		})
	}
}
