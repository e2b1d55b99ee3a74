// Package config loads the ragline configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the main configuration structure for ragline. It is built once
// by Load and treated as read-only afterwards.
type Config struct {
	Version int           `yaml:"version,omitempty"`
	Backend BackendConfig `yaml:"backend"`
	Store   StoreConfig   `yaml:"store"`
	RAG     RAGConfig     `yaml:"rag"`
	Chat    ChatConfig    `yaml:"chat"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// BackendConfig locates the inference server.
type BackendConfig struct {
	URL string `yaml:"url"`

	// API selects the chat endpoint: "native" (/api/chat) or "openai"
	// (/v1/chat/completions).
	API string `yaml:"api" jsonschema:"enum=native,enum=openai"`

	Timeout        time.Duration `yaml:"timeout" jsonschema:"type=string"`
	MaxConnections int           `yaml:"max-connections"`
	Temperature    *float64      `yaml:"temperature"`
	Model          ModelConfig   `yaml:"model"`
}

// ModelConfig names the models used for each task.
type ModelConfig struct {
	Chat               string `yaml:"chat"`
	Image              string `yaml:"image"`
	Instruct           string `yaml:"instruct"`
	Embedding          string `yaml:"embedding"`
	EmbeddingDimension int    `yaml:"embedding-dimension"`
	AutoImport         bool   `yaml:"auto-import"`
}

// StoreConfig selects and configures the embedding store.
type StoreConfig struct {
	// Type is "memory", "sql" (postgres with pgvector) or "sqlite".
	Type           string `yaml:"type" jsonschema:"enum=memory,enum=sql,enum=sqlite"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"sslmode"`
	Table          string `yaml:"table"`
	Dimension      int    `yaml:"dimension"`
	MaxConnections int    `yaml:"max-connections"`
	CreateIndex    bool   `yaml:"create-index"`
	DropTableFirst bool   `yaml:"drop-table-first"`

	// Path is the sqlite database file, or the snapshot file of the
	// memory store.
	Path string `yaml:"path"`
}

// RAGConfig tunes ingestion and retrieval.
type RAGConfig struct {
	MaxResults     int      `yaml:"maxResults"`
	MinScore       *float64 `yaml:"minScore"`
	ChunkTokens    int      `yaml:"chunkTokens"`
	ChunkOverlap   int      `yaml:"chunkOverlap"`
	MetadataKeys   []string `yaml:"metadataKeys"`
	PromptTemplate string   `yaml:"promptTemplate"`

	// Embedder is "ollama" or "hashing".
	Embedder string `yaml:"embedder" jsonschema:"enum=ollama,enum=hashing"`

	// Documents are files or directories ingested before chatting.
	Documents []string `yaml:"documents"`
}

// ChatConfig configures conversation memory.
type ChatConfig struct {
	MemorySize    int    `yaml:"memorySize"`
	SystemMessage string `yaml:"systemMessage"`
}

// ToolsConfig configures function calling.
type ToolsConfig struct {
	MaxRounds   int           `yaml:"maxRounds"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout" jsonschema:"type=string"`

	// Builtin names the built-in tools to enable; "all" enables every one.
	Builtin []string `yaml:"builtin"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" jsonschema:"enum=json,enum=text"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, for example ":9090".
	Addr string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling-rate"`
	ServiceName  string  `yaml:"service-name"`
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	// Path is the dotted key, e.g. "store.type".
	Path    string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Path == "" && e.Err != nil:
		return fmt.Sprintf("config: %v", e.Err)
	case e.Path == "":
		return "config: " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads the configuration file at path, or only defaults and
// environment overrides when path is empty. A .env file in the working
// directory is loaded first without overriding the existing environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigError{Path: ".env", Err: err}
	}

	raw := map[string]any{}
	if strings.TrimSpace(path) != "" {
		loaded, err := LoadRaw(path)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		raw = loaded
	}
	if err := applyEnvOverrides(raw, os.Environ()); err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, &ConfigError{Path: "version", Err: err}
		}
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
