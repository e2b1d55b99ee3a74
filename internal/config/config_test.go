package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Backend.URL != "http://localhost:11434" || cfg.Backend.Timeout != 5*time.Minute {
		t.Errorf("backend defaults = %+v", cfg.Backend)
	}
	if cfg.Backend.Model.Chat != "llama3.1" || cfg.Backend.Model.Instruct != "llama3.1" || cfg.Backend.Model.Image != "llava" {
		t.Errorf("model defaults = %+v", cfg.Backend.Model)
	}
	if cfg.Store.Type != StoreMemory || cfg.Store.MaxConnections != 16 {
		t.Errorf("store defaults = %+v", cfg.Store)
	}
	if cfg.RAG.MaxResults != 3 || *cfg.RAG.MinScore != 0.7 || cfg.RAG.ChunkTokens != 300 {
		t.Errorf("rag defaults = %+v", cfg.RAG)
	}
	if cfg.Chat.MemorySize != 10 {
		t.Errorf("memory size = %d, want 10", cfg.Chat.MemorySize)
	}
	if cfg.Tools.MaxRounds != 8 || cfg.Tools.Concurrency != 4 || cfg.Tools.Timeout != 30*time.Second {
		t.Errorf("tools defaults = %+v", cfg.Tools)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "ragline.yaml", `
backend:
  url: http://ollama:11434
  timeout: 90s
  temperature: 0
  model:
    chat: llama3.2
    auto-import: true
store:
  type: sqlite
rag:
  minScore: 0
  metadataKeys: [file_name, index]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.URL != "http://ollama:11434" || cfg.Backend.Timeout != 90*time.Second {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.Temperature == nil || *cfg.Backend.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", cfg.Backend.Temperature)
	}
	if !cfg.Backend.Model.AutoImport || cfg.Backend.Model.Instruct != "llama3.2" {
		t.Errorf("model = %+v", cfg.Backend.Model)
	}
	if cfg.Store.Path != "ragline.db" {
		t.Errorf("sqlite path = %q, want default", cfg.Store.Path)
	}
	if *cfg.RAG.MinScore != 0 {
		t.Errorf("minScore = %v, want explicit 0", *cfg.RAG.MinScore)
	}
	if strings.Join(cfg.RAG.MetadataKeys, ",") != "file_name,index" {
		t.Errorf("metadataKeys = %v", cfg.RAG.MetadataKeys)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "ragline.yaml", `
backend:
  url: http://localhost:11434
  extra: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !IsConfigError(err) {
		t.Errorf("error = %T, want *ConfigError", err)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
	}{
		{"bad store type", "store:\n  type: redis\n", "store.type"},
		{"relative url", "backend:\n  url: localhost:11434\n", "backend.url"},
		{"bad min score", "rag:\n  minScore: 1.5\n", "rag.minScore"},
		{"overlap too large", "rag:\n  chunkTokens: 10\n  chunkOverlap: 10\n", "rag.chunkOverlap"},
		{"bad template", "rag:\n  promptTemplate: \"{{question}} only\"\n", "rag.promptTemplate"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
		{"future version", "version: 99\n", "version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "ragline.yaml", tt.content))
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *ConfigError", err)
			}
			if ce.Path != tt.path {
				t.Errorf("Path = %q, want %q (%v)", ce.Path, tt.path, err)
			}
			if !strings.Contains(err.Error(), tt.path) {
				t.Errorf("message %q lacks path", err.Error())
			}
		})
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "ragline.json5", `{
		// comments and trailing commas are allowed
		store: {type: "memory",},
		chat: {memorySize: 4, systemMessage: "Be brief.",},
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Chat.MemorySize != 4 || cfg.Chat.SystemMessage != "Be brief." {
		t.Errorf("chat = %+v", cfg.Chat)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("base.yaml", "backend:\n  model:\n    chat: base-model\n    embedding: nomic-embed-text\nrag:\n  maxResults: 5\n")
	write("tools-1.yaml", "tools:\n  builtin: [add]\n")
	write("tools-2.yaml", "tools:\n  builtin: [add, multiply]\n")
	write("main.yaml", "$include:\n  - base.yaml\n  - tools-*.yaml\nbackend:\n  model:\n    chat: main-model\n")

	cfg, err := Load(filepath.Join(dir, "main.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Model.Chat != "main-model" {
		t.Errorf("chat model = %q, want including file to win", cfg.Backend.Model.Chat)
	}
	if cfg.Backend.Model.Embedding != "nomic-embed-text" || cfg.RAG.MaxResults != 5 {
		t.Errorf("included values lost: %+v %+v", cfg.Backend.Model, cfg.RAG)
	}
	if strings.Join(cfg.Tools.Builtin, ",") != "add,multiply" {
		t.Errorf("builtin = %v, want later glob match to win", cfg.Tools.Builtin)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	_ = os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644)
	_ = os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644)

	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("error = %v, want include cycle", err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_OLLAMA_HOST", "gpu-box")
	path := writeConfig(t, "ragline.yaml", `
backend:
  url: http://${TEST_OLLAMA_HOST}:11434
store:
  password: ${TEST_UNSET_PASSWORD:-secret}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "http://gpu-box:11434" {
		t.Errorf("url = %q", cfg.Backend.URL)
	}
	if cfg.Store.Password != "secret" {
		t.Errorf("password = %q, want default", cfg.Store.Password)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RAGLINE_BACKEND_MODEL_CHAT", "mistral")
	t.Setenv("RAGLINE_STORE_PORT", "6543")
	t.Setenv("RAGLINE_BACKEND_MODEL_AUTO_IMPORT", "true")
	t.Setenv("RAGLINE_STORE_PASSWORD", "1234")
	t.Setenv("RAGLINE_UNKNOWN", "ignored")

	path := writeConfig(t, "ragline.yaml", "backend:\n  model:\n    chat: llama3.1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Model.Chat != "mistral" {
		t.Errorf("chat = %q, want env override", cfg.Backend.Model.Chat)
	}
	if cfg.Store.Port != 6543 || !cfg.Backend.Model.AutoImport {
		t.Errorf("typed overrides lost: port %d auto-import %v", cfg.Store.Port, cfg.Backend.Model.AutoImport)
	}
	if cfg.Store.Password != "1234" {
		t.Errorf("password = %q", cfg.Store.Password)
	}
}

func TestEnvVars(t *testing.T) {
	vars := EnvVars()
	found := false
	for _, v := range vars {
		if v == "RAGLINE_BACKEND_MODEL_EMBEDDING_DIMENSION" {
			found = true
		}
	}
	if !found {
		t.Errorf("EnvVars() = %v, missing embedding dimension", vars)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"backend", "store", "rag", "chat", "tools", "logging", "$include"} {
		if _, ok := schema.Properties[key]; !ok {
			t.Errorf("schema lacks %q", key)
		}
	}
	if !strings.Contains(string(data), `"max-connections"`) {
		t.Error("schema should use yaml field names")
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Path: "store.type", Message: `"redis" is not one of memory, sql, sqlite`}
	if got := err.Error(); got != `config: store.type: "redis" is not one of memory, sql, sqlite` {
		t.Errorf("Error() = %q", got)
	}
	wrapped := &ConfigError{Path: "version", Err: ValidateVersion(99)}
	var ve *VersionError
	if !errors.As(wrapped, &ve) || ve.Version != 99 {
		t.Errorf("ConfigError should unwrap to VersionError")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://gpu-box:11434")
	cfg, err := Load(filepath.Join("..", "..", "examples", "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.URL != "http://gpu-box:11434" {
		t.Errorf("backend.url = %q", cfg.Backend.URL)
	}
	if cfg.Store.Type != StoreSQLite || cfg.Tools.Timeout != 30*time.Second {
		t.Errorf("store.type = %q, tools.timeout = %v", cfg.Store.Type, cfg.Tools.Timeout)
	}
	if len(cfg.Tools.Builtin) != 4 {
		t.Errorf("tools.builtin = %v", cfg.Tools.Builtin)
	}
}
