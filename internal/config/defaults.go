package config

import "time"

// Store types.
const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreSQLite = "sqlite"
)

// Chat APIs.
const (
	APINative = "native"
	APIOpenAI = "openai"
)

// Embedders.
const (
	EmbedderOllama  = "ollama"
	EmbedderHashing = "hashing"
)

func applyDefaults(cfg *Config) {
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = "http://localhost:11434"
	}
	if cfg.Backend.API == "" {
		cfg.Backend.API = APINative
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 5 * time.Minute
	}
	if cfg.Backend.MaxConnections == 0 {
		cfg.Backend.MaxConnections = 16
	}
	if cfg.Backend.Model.Chat == "" {
		cfg.Backend.Model.Chat = "llama3.1"
	}
	if cfg.Backend.Model.Image == "" {
		cfg.Backend.Model.Image = "llava"
	}
	if cfg.Backend.Model.Instruct == "" {
		cfg.Backend.Model.Instruct = cfg.Backend.Model.Chat
	}
	if cfg.Backend.Model.Embedding == "" {
		cfg.Backend.Model.Embedding = "all-minilm"
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = StoreMemory
	}
	if cfg.Store.Host == "" {
		cfg.Store.Host = "localhost"
	}
	if cfg.Store.Port == 0 {
		cfg.Store.Port = 5432
	}
	if cfg.Store.Database == "" {
		cfg.Store.Database = "postgres"
	}
	if cfg.Store.User == "" {
		cfg.Store.User = "postgres"
	}
	if cfg.Store.SSLMode == "" {
		cfg.Store.SSLMode = "disable"
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = "embeddings"
	}
	if cfg.Store.MaxConnections == 0 {
		cfg.Store.MaxConnections = 16
	}
	if cfg.Store.Type == StoreSQLite && cfg.Store.Path == "" {
		cfg.Store.Path = "ragline.db"
	}

	if cfg.RAG.MaxResults == 0 {
		cfg.RAG.MaxResults = 3
	}
	if cfg.RAG.MinScore == nil {
		minScore := 0.7
		cfg.RAG.MinScore = &minScore
	}
	if cfg.RAG.ChunkTokens == 0 {
		cfg.RAG.ChunkTokens = 300
	}
	if cfg.RAG.Embedder == "" {
		cfg.RAG.Embedder = EmbedderOllama
	}

	if cfg.Chat.MemorySize == 0 {
		cfg.Chat.MemorySize = 10
	}

	if cfg.Tools.MaxRounds == 0 {
		cfg.Tools.MaxRounds = 8
	}
	if cfg.Tools.Concurrency == 0 {
		cfg.Tools.Concurrency = 4
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "ragline"
	}
}
