package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/pkg/models"
)

// getTestDB returns a database connection for integration tests.
// If TEST_POSTGRES_DSN is not set, the test is skipped.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Fatalf("ping database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newIntegrationStore(t *testing.T, dimension int) *Store {
	t.Helper()
	db := getTestDB(t)
	table := fmt.Sprintf("ragline_test_%d", time.Now().UnixNano())

	s, err := New(context.Background(), Config{
		DB:             db,
		Table:          table,
		Dimension:      dimension,
		DropTableFirst: true,
		Logger:         observability.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec("DROP TABLE IF EXISTS " + s.quoted)
	})
	return s
}

func TestIntegrationRoundTrip(t *testing.T) {
	s := newIntegrationStore(t, 3)
	ctx := context.Background()

	ids, err := s.AddAll(ctx,
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
		[]models.TextSegment{
			models.NewTextSegment("x axis", map[string]string{"file_name": "a.txt"}),
			models.NewTextSegment("y axis", map[string]string{"file_name": "b.txt"}),
			models.NewTextSegment("mostly x", map[string]string{"file_name": "a.txt"}),
		})
	if err != nil {
		t.Fatalf("AddAll: %v", err)
	}

	res, err := s.Search(ctx, &store.SearchRequest{QueryEmbedding: []float32{1, 0, 0}, MaxResults: 2, MinScore: 0.7})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(res.Matches))
	}
	if res.Matches[0].Entry.ID != ids[0] {
		t.Errorf("top match = %s, want %s", res.Matches[0].Entry.ID, ids[0])
	}
	if res.Matches[0].Score < 0.999 {
		t.Errorf("top score = %v, want ~1", res.Matches[0].Score)
	}

	res, err = s.Search(ctx, &store.SearchRequest{
		QueryEmbedding: []float32{0, 1, 0},
		MaxResults:     5,
		Filter:         store.Filter{"file_name": "a.txt"},
	})
	if err != nil {
		t.Fatalf("filtered Search: %v", err)
	}
	for _, m := range res.Matches {
		if m.Entry.Segment.Metadata["file_name"] != "a.txt" {
			t.Errorf("filter leaked %v", m.Entry.Segment.Metadata)
		}
	}

	if err := s.RemoveAll(ctx, store.Filter{"file_name": "a.txt"}); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := s.Remove(ctx, ids[1]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	res, err = s.Search(ctx, &store.SearchRequest{QueryEmbedding: []float32{1, 0, 0}, MaxResults: 5})
	if err != nil {
		t.Fatalf("Search after remove: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Errorf("got %d matches after removal, want 0", len(res.Matches))
	}
}

func TestIntegrationAdoptsExistingDimension(t *testing.T) {
	s := newIntegrationStore(t, 4)
	ctx := context.Background()
	if _, err := s.Add(ctx, []float32{1, 2, 3, 4}, models.NewTextSegment("seed", nil)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := New(ctx, Config{DB: s.db, Table: s.table, Logger: observability.DiscardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := reopened.Search(ctx, &store.SearchRequest{QueryEmbedding: []float32{1, 0, 0, 0}, MaxResults: 1}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if reopened.Dimension() != 4 {
		t.Errorf("Dimension() = %d, want 4", reopened.Dimension())
	}
}
