// Package sqlite provides an embedding store in a local SQLite file.
// Vectors are stored as little-endian float32 blobs and searched by a full
// scan.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const backendName = "sqlite"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config contains configuration for the SQLite store.
type Config struct {
	// Path is the database file. Defaults to an in-memory database.
	Path string

	// Table defaults to "embeddings".
	Table string

	// Dimension fixes the vector length. Zero adopts the stored rows'
	// dimension, or the first insert's.
	Dimension int

	Metrics *observability.Metrics
}

// Store implements store.Store on SQLite.
type Store struct {
	db      *sql.DB
	table   string
	metrics *observability.Metrics

	mu        sync.RWMutex
	dimension int
}

var _ store.Store = (*Store)(nil)

// New opens or creates the database at cfg.Path.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.Table == "" {
		cfg.Table = "embeddings"
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, store.Wrap(backendName, "open", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, table: cfg.Table, dimension: cfg.Dimension, metrics: cfg.Metrics}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, store.Wrap(backendName, "init", err)
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			segment TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)
	`, s.table))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	var size sql.NullInt64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT length(embedding) FROM %s LIMIT 1", s.table)).Scan(&size)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read dimension: %w", err)
	}
	if size.Valid && size.Int64 > 0 {
		existing := int(size.Int64 / 4)
		if s.dimension > 0 && s.dimension != existing {
			return &store.DimensionMismatchError{Expected: existing, Actual: s.dimension}
		}
		s.dimension = existing
	}
	return nil
}

// Dimension returns the vector length, or 0 before the first insert.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores one embedding.
func (s *Store) Add(ctx context.Context, embedding []float32, segment models.TextSegment) (string, error) {
	ids, err := s.AddAll(ctx, [][]float32{embedding}, []models.TextSegment{segment})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddAll inserts the batch in one transaction.
func (s *Store) AddAll(ctx context.Context, embeddings [][]float32, segments []models.TextSegment) (ids []string, err error) {
	start := time.Now()
	defer func() { s.observe("add", start, err) }()

	if err := store.ValidatePair(embeddings, segments); err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return []string{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 {
		dim = len(embeddings[0])
	}
	for i, vec := range embeddings {
		if err := store.ValidateEmbedding(vec, dim); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.WrapContext(ctx, backendName, "add", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, embedding, segment, metadata) VALUES (?, ?, ?, ?)", s.table))
	if err != nil {
		return nil, store.WrapContext(ctx, backendName, "add", err)
	}
	defer stmt.Close()

	ids = make([]string, len(embeddings))
	for i, vec := range embeddings {
		meta, err := json.Marshal(models.CloneMetadata(segments[i].Metadata))
		if err != nil {
			return nil, store.WrapContext(ctx, backendName, "add", err)
		}
		ids[i] = uuid.NewString()
		if _, err := stmt.ExecContext(ctx, ids[i], encodeEmbedding(vec), segments[i].Text, string(meta)); err != nil {
			return nil, store.WrapContext(ctx, backendName, "add", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, store.WrapContext(ctx, backendName, "add", err)
	}
	s.dimension = dim
	return ids, nil
}

// Search loads candidate rows and ranks them in process.
func (s *Store) Search(ctx context.Context, req *store.SearchRequest) (result *store.SearchResult, err error) {
	start := time.Now()
	defer func() { s.observe("search", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := req.Validate(s.dimension); err != nil {
		return nil, err
	}

	var args []any
	query := fmt.Sprintf("SELECT id, embedding, segment, metadata FROM %s WHERE 1 = 1", s.table) +
		filterClause(req.Filter, &args)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.WrapContext(ctx, backendName, "search", err)
	}
	defer rows.Close()

	query32 := store.Normalize(req.QueryEmbedding)
	var matches []models.Match
	for rows.Next() {
		var (
			id, text, meta string
			blob           []byte
		)
		if err := rows.Scan(&id, &blob, &text, &meta); err != nil {
			return nil, store.WrapContext(ctx, backendName, "search", err)
		}
		vec := decodeEmbedding(blob)
		score := store.RelevanceScore(store.CosineSimilarity(query32, vec))
		if score < req.MinScore {
			continue
		}
		metadata := map[string]string{}
		if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
			return nil, store.WrapContext(ctx, backendName, "search", fmt.Errorf("decode metadata of %s: %w", id, err))
		}
		matches = append(matches, models.Match{
			Entry: models.StoreEntry{ID: id, Embedding: vec, Segment: models.NewTextSegment(text, metadata)},
			Score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapContext(ctx, backendName, "search", err)
	}

	store.SortMatches(matches)
	if len(matches) > req.MaxResults {
		matches = matches[:req.MaxResults]
	}
	return &store.SearchResult{Matches: matches}, nil
}

// Remove deletes one row.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe("remove", start, err) }()

	_, err = s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table), id)
	return store.WrapContext(ctx, backendName, "remove", err)
}

// RemoveAll deletes rows matching filter, or every row for an empty filter.
func (s *Store) RemoveAll(ctx context.Context, filter store.Filter) (err error) {
	start := time.Now()
	defer func() { s.observe("remove_all", start, err) }()

	var args []any
	query := fmt.Sprintf("DELETE FROM %s WHERE 1 = 1", s.table) + filterClause(filter, &args)
	_, err = s.db.ExecContext(ctx, query, args...)
	return store.WrapContext(ctx, backendName, "remove_all", err)
}

func filterClause(filter store.Filter, args *[]any) string {
	var b strings.Builder
	for k, v := range filter {
		b.WriteString(" AND json_extract(metadata, ?) = ?")
		*args = append(*args, jsonPath(k), v)
	}
	return b.String()
}

// jsonPath quotes key as a single JSON path member.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec
}

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.RecordStoreOperation(backendName, op, observability.Status(err), time.Since(start).Seconds())
}
