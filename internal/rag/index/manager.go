// Package index provides the ingestion pipeline for the RAG system.
// The manager coordinates splitting, embedding, and storage of documents.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/ragline/internal/embeddings"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/rag/loader"
	"github.com/haasonsaas/ragline/internal/rag/splitter"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/pkg/models"
)

// DefaultBatchSize is the number of segments embedded and stored together.
const DefaultBatchSize = 32

// ErrNoFilePath is returned by Reindex for documents not loaded from a file.
var ErrNoFilePath = errors.New("document has no file_path metadata")

// Manager coordinates the indexing pipeline.
type Manager struct {
	splitter splitter.Splitter
	model    embeddings.Model
	store    store.Store
	config   Config

	// mu serializes re-indexing so a remove and its re-ingest are not
	// interleaved with another change.
	mu sync.Mutex
}

// Config contains configuration for the index manager.
type Config struct {
	// BatchSize is the maximum segments per embedding batch.
	// Default: 32
	BatchSize int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Documents int
	Segments  int
	IDs       []string
	Duration  time.Duration
}

// NewManager creates a new index manager.
func NewManager(s splitter.Splitter, model embeddings.Model, st store.Store, cfg Config) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "index")
	return &Manager{splitter: s, model: model, store: st, config: cfg}
}

// Ingest splits, embeds and stores docs. Batches already stored before an
// error are kept; the returned result counts them.
func (m *Manager) Ingest(ctx context.Context, docs ...models.Document) (*IngestResult, error) {
	ctx, span := observability.StartSpan(ctx, observability.ScopeIndex, "index.ingest", "documents", len(docs))
	defer span.End()
	start := time.Now()

	segments, err := splitter.SplitAll(m.splitter, docs)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("split documents: %w", err)
	}

	result := &IngestResult{Documents: len(docs), IDs: make([]string, 0, len(segments))}
	for i := 0; i < len(segments); i += m.config.BatchSize {
		end := min(i+m.config.BatchSize, len(segments))
		batch := segments[i:end]

		texts := make([]string, len(batch))
		for j, seg := range batch {
			texts[j] = seg.Text
		}

		vectors, err := m.model.EmbedAll(ctx, texts)
		if err != nil {
			observability.RecordError(span, err)
			return result, fmt.Errorf("embed batch %d: %w", i/m.config.BatchSize, err)
		}

		ids, err := m.store.AddAll(ctx, vectors, batch)
		if err != nil {
			observability.RecordError(span, err)
			return result, fmt.Errorf("store batch %d: %w", i/m.config.BatchSize, err)
		}
		result.IDs = append(result.IDs, ids...)
		result.Segments += len(ids)
		m.config.Metrics.RecordIngest(len(ids))
	}

	result.Duration = time.Since(start)
	m.config.Logger.Info("documents ingested",
		"documents", result.Documents,
		"segments", result.Segments,
		"duration", result.Duration)
	return result, nil
}

// Reindex replaces every segment previously ingested from doc's file.
func (m *Manager) Reindex(ctx context.Context, doc models.Document) (*IngestResult, error) {
	path := doc.Metadata[models.MetaFilePath]
	if path == "" {
		return nil, ErrNoFilePath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.RemoveAll(ctx, store.Filter{models.MetaFilePath: path}); err != nil {
		return nil, fmt.Errorf("remove previous segments of %s: %w", path, err)
	}
	return m.Ingest(ctx, doc)
}

// Upsert ingests docs, replacing segments stored earlier for the same
// file. Running it again over unchanged files leaves the store as it was.
// Documents without file_path metadata are ingested as they are.
func (m *Manager) Upsert(ctx context.Context, docs ...models.Document) (*IngestResult, error) {
	start := time.Now()
	total := &IngestResult{}
	var loose []models.Document
	for _, doc := range docs {
		if doc.Metadata[models.MetaFilePath] == "" {
			loose = append(loose, doc)
			continue
		}
		res, err := m.Reindex(ctx, doc)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	if len(loose) > 0 {
		res, err := m.Ingest(ctx, loose...)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	total.Duration = time.Since(start)
	return total, nil
}

func (r *IngestResult) add(other *IngestResult) {
	if other == nil {
		return
	}
	r.Documents += other.Documents
	r.Segments += other.Segments
	r.IDs = append(r.IDs, other.IDs...)
}

// Remove deletes every segment ingested from the file at path.
func (m *Manager) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.RemoveAll(ctx, store.Filter{models.MetaFilePath: path}); err != nil {
		return fmt.Errorf("remove segments of %s: %w", path, err)
	}
	m.config.Logger.Info("document removed", "path", path)
	return nil
}

// WatchDir keeps the store in sync with dir until ctx is done.
func (m *Manager) WatchDir(ctx context.Context, dir string) error {
	m.config.Logger.Info("watching documents", "dir", dir)
	return loader.Watch(ctx, dir, loader.WatchOptions{Logger: m.config.Logger}, func(ev loader.Event) {
		switch ev.Op {
		case loader.Upsert:
			if _, err := m.Reindex(ctx, ev.Document); err != nil {
				m.config.Logger.Error("reindex failed", "path", ev.Path, "error", err)
			}
		case loader.Delete:
			if err := m.Remove(ctx, ev.Path); err != nil {
				m.config.Logger.Error("remove failed", "path", ev.Path, "error", err)
			}
		}
	})
}
