package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/haasonsaas/ragline/internal/rag/injector"
)

// Validate checks cfg after defaults have been applied. The first problem
// found is returned as a *ConfigError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Message: "config is nil"}
	}

	u, err := url.Parse(cfg.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Path: "backend.url", Message: fmt.Sprintf("%q must be an absolute URL", cfg.Backend.URL)}
	}
	if err := oneOf("backend.api", cfg.Backend.API, APINative, APIOpenAI); err != nil {
		return err
	}
	if cfg.Backend.Timeout < 0 {
		return &ConfigError{Path: "backend.timeout", Message: "must not be negative"}
	}
	if cfg.Backend.MaxConnections < 0 {
		return &ConfigError{Path: "backend.max-connections", Message: "must be positive"}
	}
	if t := cfg.Backend.Temperature; t != nil && (*t < 0 || *t > 2) {
		return &ConfigError{Path: "backend.temperature", Message: "must be between 0 and 2"}
	}
	if cfg.Backend.Model.EmbeddingDimension < 0 {
		return &ConfigError{Path: "backend.model.embedding-dimension", Message: "must not be negative"}
	}

	if err := oneOf("store.type", cfg.Store.Type, StoreMemory, StoreSQL, StoreSQLite); err != nil {
		return err
	}
	if cfg.Store.Dimension < 0 {
		return &ConfigError{Path: "store.dimension", Message: "must not be negative"}
	}
	if cfg.Store.Port < 0 || cfg.Store.Port > 65535 {
		return &ConfigError{Path: "store.port", Message: "must be a TCP port"}
	}
	if cfg.Store.MaxConnections < 0 {
		return &ConfigError{Path: "store.max-connections", Message: "must be positive"}
	}

	if cfg.RAG.MaxResults < 0 {
		return &ConfigError{Path: "rag.maxResults", Message: "must be positive"}
	}
	if s := cfg.RAG.MinScore; s != nil && (*s < 0 || *s > 1) {
		return &ConfigError{Path: "rag.minScore", Message: "must be between 0 and 1"}
	}
	if cfg.RAG.ChunkTokens < 0 {
		return &ConfigError{Path: "rag.chunkTokens", Message: "must be positive"}
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkTokens {
		return &ConfigError{Path: "rag.chunkOverlap", Message: "must be at least 0 and below chunkTokens"}
	}
	if err := oneOf("rag.embedder", cfg.RAG.Embedder, EmbedderOllama, EmbedderHashing); err != nil {
		return err
	}
	if cfg.RAG.PromptTemplate != "" {
		if _, err := injector.New(injector.Config{Template: cfg.RAG.PromptTemplate}); err != nil {
			return &ConfigError{Path: "rag.promptTemplate", Err: err}
		}
	}

	if cfg.Chat.MemorySize < 0 {
		return &ConfigError{Path: "chat.memorySize", Message: "must be positive"}
	}

	if cfg.Tools.MaxRounds < 0 {
		return &ConfigError{Path: "tools.maxRounds", Message: "must be positive"}
	}
	if cfg.Tools.Concurrency < 0 {
		return &ConfigError{Path: "tools.concurrency", Message: "must be positive"}
	}
	if cfg.Tools.Timeout < 0 {
		return &ConfigError{Path: "tools.timeout", Message: "must not be negative"}
	}

	if err := oneOf("logging.level", strings.ToLower(cfg.Logging.Level), "debug", "info", "warn", "warning", "error"); err != nil {
		return err
	}
	if err := oneOf("logging.format", cfg.Logging.Format, "json", "text"); err != nil {
		return err
	}

	if r := cfg.Tracing.SamplingRate; r < 0 || r > 1 {
		return &ConfigError{Path: "tracing.sampling-rate", Message: "must be between 0 and 1"}
	}
	return nil
}

func oneOf(path, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ConfigError{
		Path:    path,
		Message: fmt.Sprintf("%q is not one of %s", value, strings.Join(allowed, ", ")),
	}
}
