package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/agent/providers"
	"github.com/haasonsaas/ragline/internal/assistant"
	"github.com/haasonsaas/ragline/internal/config"
	"github.com/haasonsaas/ragline/internal/embeddings"
	"github.com/haasonsaas/ragline/internal/embeddings/hashing"
	ollamaembed "github.com/haasonsaas/ragline/internal/embeddings/ollama"
	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/haasonsaas/ragline/internal/ollama"
	"github.com/haasonsaas/ragline/internal/rag/index"
	"github.com/haasonsaas/ragline/internal/rag/injector"
	"github.com/haasonsaas/ragline/internal/rag/loader"
	"github.com/haasonsaas/ragline/internal/rag/retriever"
	"github.com/haasonsaas/ragline/internal/rag/splitter"
	"github.com/haasonsaas/ragline/internal/rag/store"
	"github.com/haasonsaas/ragline/internal/rag/store/memory"
	"github.com/haasonsaas/ragline/internal/rag/store/pgvector"
	"github.com/haasonsaas/ragline/internal/rag/store/sqlite"
	"github.com/haasonsaas/ragline/internal/tools/builtin"
	ragtool "github.com/haasonsaas/ragline/internal/tools/rag"
)

// defaultHashingDimension is used by the hashing embedder when no
// dimension is configured.
const defaultHashingDimension = 384

// runtime holds the components built from one configuration. Pieces are
// built lazily so commands such as "models list" never open a store.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	client  *ollama.Client

	embedder embeddings.Model
	store    store.Store
	manager  *index.Manager

	closers []func(context.Context) error
}

// newRuntime loads configuration and sets up logging, metrics, tracing and
// the backend client.
func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	rt.metrics = observability.NewMetrics(reg)
	if addr := strings.TrimSpace(cfg.Metrics.Addr); addr != "" {
		rt.serveMetrics(addr, reg)
	}

	shutdownTracer, err := observability.InstallTracing(ctx, observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "endpoint", cfg.Tracing.Endpoint, "error", err)
	}
	rt.closers = append(rt.closers, shutdownTracer)

	client, err := ollama.New(ollama.Config{
		BaseURL:  cfg.Backend.URL,
		Timeout:  cfg.Backend.Timeout,
		MaxConns: cfg.Backend.MaxConnections,
		Logger:   logger,
		Metrics:  rt.metrics,
	})
	if err != nil {
		return nil, &config.ConfigError{Path: "backend.url", Err: err}
	}
	rt.client = client

	if cfg.Backend.Model.AutoImport {
		models := cfg.Backend.Model
		client.EnsureModels(ctx, models.Chat, models.Image, models.Instruct)
		if cfg.RAG.Embedder == config.EmbedderOllama {
			client.EnsureModels(ctx, models.Embedding)
		}
	}
	return rt, nil
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv(configEnv))
}

func (rt *runtime) serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		rt.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()
	rt.closers = append(rt.closers, srv.Shutdown)
}

// Close releases everything in reverse order of acquisition.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Warn("shutdown", "error", err)
		}
	}
}

// provider builds the chat provider selected by backend.api.
func (rt *runtime) provider() agent.LLMProvider {
	if rt.cfg.Backend.API == config.APIOpenAI {
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			BaseURL:      rt.client.BaseURL(),
			DefaultModel: rt.cfg.Backend.Model.Chat,
			HTTPClient:   rt.client.HTTPClient(),
		})
	}
	return providers.NewOllamaProvider(rt.client, providers.OllamaConfig{
		DefaultModel: rt.cfg.Backend.Model.Chat,
	})
}

// embeddingModel builds the embedder selected by rag.embedder.
func (rt *runtime) embeddingModel(ctx context.Context) (embeddings.Model, error) {
	if rt.embedder != nil {
		return rt.embedder, nil
	}
	models := rt.cfg.Backend.Model
	switch rt.cfg.RAG.Embedder {
	case config.EmbedderHashing:
		dim := models.EmbeddingDimension
		if dim == 0 {
			dim = defaultHashingDimension
		}
		m, err := hashing.New(dim)
		if err != nil {
			return nil, &config.ConfigError{Path: "backend.model.embedding-dimension", Err: err}
		}
		rt.embedder = m
	default:
		m, err := ollamaembed.New(ollamaembed.Config{
			Client:    rt.client,
			Model:     models.Embedding,
			Dimension: models.EmbeddingDimension,
		})
		if err != nil {
			return nil, err
		}
		if _, err := m.Probe(ctx); err != nil {
			return nil, fmt.Errorf("probe embedding model %s: %w", models.Embedding, err)
		}
		rt.embedder = m
	}
	return rt.embedder, nil
}

// embeddingStore opens the store selected by store.type.
func (rt *runtime) embeddingStore(ctx context.Context) (store.Store, error) {
	if rt.store != nil {
		return rt.store, nil
	}
	model, err := rt.embeddingModel(ctx)
	if err != nil {
		return nil, err
	}
	sc := rt.cfg.Store
	dim := sc.Dimension
	if dim == 0 {
		dim = model.Dimension()
	}

	switch sc.Type {
	case config.StoreSQL:
		st, err := pgvector.New(ctx, pgvector.Config{
			Host:           sc.Host,
			Port:           sc.Port,
			Database:       sc.Database,
			User:           sc.User,
			Password:       sc.Password,
			SSLMode:        sc.SSLMode,
			Table:          sc.Table,
			Dimension:      dim,
			MaxOpenConns:   sc.MaxConnections,
			CreateIndex:    sc.CreateIndex,
			DropTableFirst: sc.DropTableFirst,
			Logger:         rt.logger,
			Metrics:        rt.metrics,
		})
		if err != nil {
			return nil, err
		}
		rt.store = st
	case config.StoreSQLite:
		st, err := sqlite.New(ctx, sqlite.Config{
			Path:      sc.Path,
			Table:     sc.Table,
			Dimension: dim,
			Metrics:   rt.metrics,
		})
		if err != nil {
			return nil, err
		}
		rt.store = st
	default:
		st, err := rt.memoryStore(dim)
		if err != nil {
			return nil, err
		}
		rt.store = st
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.store.Close() })

	if err := rt.ingestConfigured(ctx); err != nil {
		return nil, err
	}
	return rt.store, nil
}

// memoryStore restores the snapshot at store.path when one exists and
// saves it again on close.
func (rt *runtime) memoryStore(dim int) (*memory.Store, error) {
	path := strings.TrimSpace(rt.cfg.Store.Path)
	if path == "" {
		return memory.New(dim, memory.WithMetrics(rt.metrics)), nil
	}

	st, err := memory.LoadFile(path, memory.WithMetrics(rt.metrics))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st = memory.New(dim, memory.WithMetrics(rt.metrics))
	case err != nil:
		return nil, err
	default:
		rt.logger.Debug("restored memory store", "path", path, "entries", st.Len())
	}
	rt.closers = append(rt.closers, func(context.Context) error { return st.SaveFile(path) })
	return st, nil
}

// indexManager wires the splitter, embedder and store into a pipeline.
func (rt *runtime) indexManager(ctx context.Context) (*index.Manager, error) {
	if rt.manager != nil {
		return rt.manager, nil
	}
	if _, err := rt.embeddingStore(ctx); err != nil {
		return nil, err
	}
	mgr, err := rt.newManager()
	if err != nil {
		return nil, err
	}
	rt.manager = mgr
	return mgr, nil
}

func (rt *runtime) newManager() (*index.Manager, error) {
	sp, err := splitter.NewRecursive(rt.cfg.RAG.ChunkTokens, rt.cfg.RAG.ChunkOverlap, nil)
	if err != nil {
		return nil, &config.ConfigError{Path: "rag.chunkTokens", Err: err}
	}
	return index.NewManager(sp, rt.embedder, rt.store, index.Config{Logger: rt.logger, Metrics: rt.metrics}), nil
}

// ingestConfigured loads rag.documents, replacing segments already stored
// for the same files. A restored memory snapshot is used as it is.
func (rt *runtime) ingestConfigured(ctx context.Context) error {
	paths := rt.cfg.RAG.Documents
	if len(paths) == 0 {
		return nil
	}
	if mem, ok := rt.store.(*memory.Store); ok && mem.Len() > 0 {
		return nil
	}
	mgr, err := rt.newManager()
	if err != nil {
		return err
	}
	for _, path := range paths {
		docs, err := loader.LoadDocuments(ctx, path, loader.Options{Recursive: true, Logger: rt.logger})
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		res, err := mgr.Upsert(ctx, docs...)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		rt.logger.Info("ingested configured documents", "path", path, "documents", res.Documents, "segments", res.Segments)
	}
	return nil
}

// retriever builds a retriever over the configured store.
func (rt *runtime) retriever(ctx context.Context) (*retriever.Retriever, error) {
	model, err := rt.embeddingModel(ctx)
	if err != nil {
		return nil, err
	}
	st, err := rt.embeddingStore(ctx)
	if err != nil {
		return nil, err
	}
	return retriever.New(model, st, retriever.Config{
		MaxResults: rt.cfg.RAG.MaxResults,
		MinScore:   rt.cfg.RAG.MinScore,
		Metrics:    rt.metrics,
	})
}

// searchTool builds the document_search tool over the configured store.
func (rt *runtime) searchTool(ctx context.Context) (*ragtool.SearchTool, error) {
	model, err := rt.embeddingModel(ctx)
	if err != nil {
		return nil, err
	}
	st, err := rt.embeddingStore(ctx)
	if err != nil {
		return nil, err
	}
	cfg := ragtool.DefaultSearchToolConfig()
	cfg.Logger = rt.logger
	if rt.cfg.RAG.MinScore != nil {
		cfg.DefaultThreshold = rt.cfg.RAG.MinScore
	}
	return ragtool.NewSearchTool(model, st, &cfg)
}

// tools resolves tool names to tools. "all" selects every builtin plus
// document_search.
func (rt *runtime) tools(ctx context.Context, names []string) ([]agent.Tool, error) {
	var builtins []string
	withSearch := false
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ragtool.SearchToolName:
			withSearch = true
		case builtin.All:
			withSearch = true
			builtins = append(builtins, name)
		default:
			builtins = append(builtins, name)
		}
	}

	tools, err := builtin.Select(builtins, rt.logger)
	if err != nil {
		return nil, &config.ConfigError{Path: "tools.builtin", Err: err}
	}
	if withSearch {
		st, err := rt.searchTool(ctx)
		if err != nil {
			return nil, err
		}
		t, err := st.Tool()
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// assistantOptions selects retrieval and tools for one assistant.
type assistantOptions struct {
	Model string
	RAG   bool
	Tools []string
}

// assistant builds the facade for chat and ask.
func (rt *runtime) assistant(ctx context.Context, opts assistantOptions) (*assistant.Assistant, error) {
	cfg := rt.cfg
	model := opts.Model
	if model == "" {
		model = cfg.Backend.Model.Chat
	}

	loopCfg := agent.DefaultLoopConfig()
	loopCfg.MaxRounds = cfg.Tools.MaxRounds
	loopCfg.Exec.Concurrency = cfg.Tools.Concurrency
	loopCfg.Exec.PerToolTimeout = cfg.Tools.Timeout

	options := []assistant.Option{
		assistant.WithModel(model),
		assistant.WithMemorySize(cfg.Chat.MemorySize),
		assistant.WithLoopConfig(loopCfg),
		assistant.WithLogger(rt.logger),
		assistant.WithMetrics(rt.metrics),
	}
	if cfg.Chat.SystemMessage != "" {
		options = append(options, assistant.WithSystemMessage(cfg.Chat.SystemMessage))
	}
	if cfg.Backend.Temperature != nil {
		options = append(options, assistant.WithTemperature(*cfg.Backend.Temperature))
	}

	if opts.RAG {
		r, err := rt.retriever(ctx)
		if err != nil {
			return nil, err
		}
		inj, err := injector.New(injector.Config{
			Template:     cfg.RAG.PromptTemplate,
			MetadataKeys: cfg.RAG.MetadataKeys,
		})
		if err != nil {
			return nil, &config.ConfigError{Path: "rag.promptTemplate", Err: err}
		}
		options = append(options, assistant.WithRetriever(r), assistant.WithInjector(inj))
	}

	if len(opts.Tools) > 0 {
		tools, err := rt.tools(ctx, opts.Tools)
		if err != nil {
			return nil, err
		}
		options = append(options, assistant.WithTools(tools...))
	}

	return assistant.New(rt.provider(), options...)
}
