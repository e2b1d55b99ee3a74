// Package pgvector provides an embedding store backed by PostgreSQL with the
// pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/internal/retry"
	"github.com/haasonsaas/ragline/pkg/models"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const backendName = "pgvector"

// queryCanceled is the SQLSTATE of a statement canceled by the server,
// either on request or by statement_timeout.
const queryCanceled pq.ErrorCode = "57014"

// Defaults applied by New.
const (
	DefaultTable        = "embeddings"
	DefaultMaxOpenConns = 16
	DefaultIndexLists   = 100
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config contains configuration for the pgvector store.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Table holds the embeddings. It is created on first use.
	Table string

	// Dimension fixes the vector length. Zero adopts the dimension of an
	// existing table or of the first insert.
	Dimension int

	MaxOpenConns int

	// CreateIndex builds an ivfflat cosine index with IndexLists lists.
	CreateIndex bool
	IndexLists  int

	// DropTableFirst drops Table before the schema is created.
	DropTableFirst bool

	// DB is an existing connection to reuse. The store does not close it.
	DB *sql.DB

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// DSN renders the connection settings as a postgres URL.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host,
		Path:   "/" + c.Database,
	}
	if c.Port > 0 {
		u.Host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Store implements store.Store on a single table.
type Store struct {
	db      *sql.DB
	ownsDB  bool
	table   string
	quoted  string
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	ready     bool
	dimension int
}

var _ store.Store = (*Store)(nil)

// New opens the store. Schema setup is deferred to the first operation.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative, got %d", cfg.Dimension)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.IndexLists <= 0 {
		cfg.IndexLists = DefaultIndexLists
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		table:     cfg.Table,
		quoted:    pq.QuoteIdentifier(cfg.Table),
		cfg:       cfg,
		dimension: cfg.Dimension,
		logger:    logger.With("component", "pgvector", "table", cfg.Table),
		metrics:   cfg.Metrics,
	}

	if cfg.DB != nil {
		s.db = cfg.DB
		return s, nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, store.Wrap(backendName, "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrapErr(pingCtx, "ping", err)
	}
	s.db = db
	s.ownsDB = true
	return s, nil
}

// Dimension returns the vector length, or 0 if not yet known.
func (s *Store) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimension
}

// Close closes the connection pool if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// ensureTable creates the extension, table and index once. With an unknown
// dimension and no existing table, creation waits for a vector to size it.
func (s *Store) ensureTable(ctx context.Context, sample int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	if s.cfg.DropTableFirst {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.quoted); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
		s.cfg.DropTableFirst = false
	}

	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}

	existing, err := s.tableDimension(ctx)
	if err != nil {
		return err
	}
	if existing > 0 {
		if s.dimension > 0 && s.dimension != existing {
			return &store.DimensionMismatchError{Expected: existing, Actual: s.dimension}
		}
		s.dimension = existing
		s.ready = true
		return nil
	}

	if s.dimension == 0 {
		if sample == 0 {
			return nil
		}
		s.dimension = sample
	}

	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id uuid PRIMARY KEY, embedding vector(%d), segment text, metadata jsonb)",
		s.quoted, s.dimension)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	if s.cfg.CreateIndex {
		index := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)",
			pq.QuoteIdentifier(s.table+"_ivfflat"), s.quoted, s.cfg.IndexLists)
		if _, err := s.db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.logger.Debug("table ready", "dimension", s.dimension, "index", s.cfg.CreateIndex)
	s.ready = true
	return nil
}

// tableDimension reads the declared vector length of an existing table, or
// 0 if the table does not exist.
func (s *Store) tableDimension(ctx context.Context) (int, error) {
	var typmod int
	err := s.db.QueryRowContext(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1)
			AND a.attname = 'embedding'
			AND NOT a.attisdropped
	`, s.quoted).Scan(&typmod)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read table dimension: %w", err)
	}
	if typmod < 0 {
		return 0, nil
	}
	return typmod, nil
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

	dim := s.Dimension()
	if dim == 0 {
		dim = len(embeddings[0])
	}
	for i, vec := range embeddings {
		if err := store.ValidateEmbedding(vec, dim); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}

	if err := s.withRetry(ctx, func() error { return s.ensureTable(ctx, dim) }); err != nil {
		return nil, wrapErr(ctx, "add", err)
	}
	if got := s.Dimension(); got != dim {
		return nil, &store.DimensionMismatchError{Expected: got, Actual: dim}
	}

	ids = make([]string, len(embeddings))
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	err = s.withRetry(ctx, func() error { return s.insert(ctx, ids, embeddings, segments) })
	if err != nil {
		return nil, wrapErr(ctx, "add", err)
	}
	return ids, nil
}

func (s *Store) insert(ctx context.Context, ids []string, embeddings [][]float32, segments []models.TextSegment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, embedding, segment, metadata) VALUES ($1, $2, $3, $4)", s.quoted))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		meta, err := json.Marshal(models.CloneMetadata(segments[i].Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(embeddings[i]), segments[i].Text, string(meta)); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}
	return tx.Commit()
}

// Search ranks rows by cosine distance in the database.
func (s *Store) Search(ctx context.Context, req *store.SearchRequest) (result *store.SearchResult, err error) {
	ctx, span := observability.StartSpan(ctx, observability.ScopeStore, "pgvector.search")
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordError(span, err)
		s.observe("search", start, err)
	}()

	if err := req.Validate(s.Dimension()); err != nil {
		return nil, err
	}
	if err := s.withRetry(ctx, func() error { return s.ensureTable(ctx, 0) }); err != nil {
		return nil, wrapErr(ctx, "search", err)
	}
	if !s.isReady() {
		return &store.SearchResult{}, nil
	}
	if err := store.ValidateEmbedding(req.QueryEmbedding, s.Dimension()); err != nil {
		return nil, err
	}

	query, args := s.searchQuery(req)
	var matches []models.Match
	err = s.withRetry(ctx, func() error {
		matches = matches[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMatch(rows)
			if err != nil {
				return err
			}
			matches = append(matches, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr(ctx, "search", err)
	}
	return &store.SearchResult{Matches: matches}, nil
}

func (s *Store) searchQuery(req *store.SearchRequest) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b,
		"SELECT id, embedding, segment, metadata, 1 - (embedding <=> $1) / 2 AS score FROM %s WHERE 1 - (embedding <=> $1) / 2 >= $2",
		s.quoted)
	args := []any{pgvector.NewVector(req.QueryEmbedding), req.MinScore}
	b.WriteString(filterClause(req.Filter, &args))
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1, id LIMIT $%d", len(args)+1)
	args = append(args, req.MaxResults)
	return b.String(), args
}

// filterClause renders one metadata equality per key, in key order.
func filterClause(filter store.Filter, args *[]any) string {
	if len(filter) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		n := len(*args)
		fmt.Fprintf(&b, " AND metadata->>$%d = $%d", n+1, n+2)
		*args = append(*args, k, filter[k])
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (models.Match, error) {
	var (
		id    string
		vec   pgvector.Vector
		text  sql.NullString
		meta  []byte
		score float64
	)
	if err := row.Scan(&id, &vec, &text, &meta, &score); err != nil {
		return models.Match{}, fmt.Errorf("scan: %w", err)
	}
	metadata := map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &metadata); err != nil {
			return models.Match{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return models.Match{
		Entry: models.StoreEntry{
			ID:        id,
			Embedding: vec.Slice(),
			Segment:   models.NewTextSegment(text.String, metadata),
		},
		Score: math.Max(0, math.Min(1, score)),
	}, nil
}

// Remove deletes one row. Malformed IDs match nothing.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe("remove", start, err) }()

	if _, perr := uuid.Parse(id); perr != nil {
		return nil
	}
	if err := s.withRetry(ctx, func() error { return s.ensureTable(ctx, 0) }); err != nil {
		return wrapErr(ctx, "remove", err)
	}
	if !s.isReady() {
		return nil
	}
	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.quoted), id)
		return err
	})
	return wrapErr(ctx, "remove", err)
}

// RemoveAll deletes rows matching filter, or every row for an empty filter.
func (s *Store) RemoveAll(ctx context.Context, filter store.Filter) (err error) {
	start := time.Now()
	defer func() { s.observe("remove_all", start, err) }()

	if err := s.withRetry(ctx, func() error { return s.ensureTable(ctx, 0) }); err != nil {
		return wrapErr(ctx, "remove_all", err)
	}
	if !s.isReady() {
		return nil
	}

	var args []any
	query := fmt.Sprintf("DELETE FROM %s WHERE TRUE", s.quoted) + filterClause(filter, &args)
	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	return wrapErr(ctx, "remove_all", err)
}

func (s *Store) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// withRetry runs fn and, after a connection-class failure, pings and runs
// it once more.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	policy := retry.Once(isConnectionError)
	policy.BeforeRetry = func(ctx context.Context, _ int, err error) error {
		s.logger.Warn("database connection lost, retrying", "error", err)
		return s.db.PingContext(ctx)
	}
	return retry.Do(ctx, policy, func(context.Context) error { return fn() })
}

// wrapErr maps a failed statement to a store error. Statements the server
// canceled (SQLSTATE 57014) are timeouts.
func wrapErr(ctx context.Context, op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == queryCanceled {
		return store.WrapTimeout(backendName, op, err)
	}
	return store.WrapContext(ctx, backendName, op, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.RecordStoreOperation(backendName, op, observability.Status(err), time.Since(start).Seconds())
}
