package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/assistant"
	"github.com/haasonsaas/ragline/internal/config"
	"github.com/haasonsaas/ragline/internal/ollama"
	"github.com/haasonsaas/ragline/internal/rag/store"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"chat", "ask", "extract", "ingest", "search", "models", "config", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		kind string
	}{
		{name: "nil", err: nil, want: 0},
		{name: "config", err: &config.ConfigError{Path: "store.type", Message: "bad"}, want: 1, kind: "config error"},
		{name: "unavailable", err: fmt.Errorf("chat: %w", ollama.ErrUnavailable), want: 2, kind: "backend unavailable"},
		{name: "timeout", err: &ollama.TimeoutError{Op: "chat", Cause: context.DeadlineExceeded}, want: 2, kind: "timeout"},
		{name: "store deadline", err: fmt.Errorf("retrieve: %w", store.WrapContext(expiredContext(t), "pgvector", "search", errors.New("canceling query due to user request"))), want: 2, kind: "timeout"},
		{name: "store failure", err: store.Wrap("pgvector", "search", errors.New("undefined table")), want: 1, kind: "error"},
		{name: "5xx", err: &ollama.BackendError{Op: "chat", Status: 503}, want: 2, kind: "backend error"},
		{name: "4xx", err: &ollama.BackendError{Op: "chat", Status: 404}, want: 1, kind: "backend error"},
		{name: "extraction", err: &assistant.ExtractionError{Missing: []string{"firstName"}}, want: 3, kind: "extraction error"},
		{name: "tool loop", err: fmt.Errorf("%w (8)", agent.ErrToolLoopOverflow), want: 4, kind: "tool loop overflow"},
		{name: "tool", err: &agent.ToolError{Name: "add", Failures: 3, Cause: errors.New("boom")}, want: 1, kind: "tool error"},
		{name: "other", err: errors.New("boom"), want: 1, kind: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
			if tt.err == nil {
				return
			}
			var buf bytes.Buffer
			reportError(&buf, tt.err)
			if !strings.HasPrefix(buf.String(), tt.kind+": ") {
				t.Errorf("reportError() = %q, want prefix %q", buf.String(), tt.kind)
			}
		})
	}
}

func expiredContext(t *testing.T) context.Context {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	t.Cleanup(cancel)
	return ctx
}

// fakeOllama answers /api/chat. Requests offering tools get add and
// multiply calls first; everything else gets answer.
type fakeOllama struct {
	mu       sync.Mutex
	answer   string
	status   int
	requests []ollama.ChatRequest
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}
	var req ollama.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, "model crashed", status)
		return
	}

	sawResults := false
	for _, m := range req.Messages {
		if m.Role == "tool" {
			sawResults = true
		}
	}
	if len(req.Tools) > 0 && !sawResults {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[` +
			`{"function":{"name":"add","arguments":{"a":1,"b":2}}},` +
			`{"function":{"name":"multiply","arguments":{"a":3,"b":4}}}]},"done":true}`))
		return
	}
	resp := ollama.ChatResponse{Message: ollama.Message{Role: "assistant", Content: f.answer}, Done: true}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeOllama) lastRequest(t *testing.T) ollama.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("backend received no chat request")
	}
	return f.requests[len(f.requests)-1]
}

func writeConfig(t *testing.T, backendURL string, documents ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ragline.yaml")
	var docs strings.Builder
	if len(documents) > 0 {
		docs.WriteString("  documents:\n")
		for _, d := range documents {
			fmt.Fprintf(&docs, "    - %s\n", d)
		}
	}
	content := fmt.Sprintf(`backend:
  url: %s
  model:
    chat: llama3.1
store:
  type: sqlite
  path: %s
rag:
  embedder: hashing
  minScore: 0
%slogging:
  level: error
`, backendURL, filepath.Join(dir, "store.db"), docs.String())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestSearchAsk(t *testing.T) {
	fake := &fakeOllama{answer: "Nelly was born in 1987."}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	cfgPath := writeConfig(t, server.URL)

	docs := t.TempDir()
	text := "Nelly Example was born on 15 March 1987 in Hamburg.\n\nShe works as a marine biologist."
	if err := os.WriteFile(filepath.Join(docs, "nelly.txt"), []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfgPath, "ingest", docs)
	if err != nil {
		t.Fatalf("ingest error = %v", err)
	}
	if !strings.Contains(out, "Ingested 1 documents") {
		t.Errorf("ingest output = %q", out)
	}

	out, err = execute(t, "--config", cfgPath, "search", "When was Nelly born?", "--threshold", "0")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if !strings.Contains(out, `"file_name": "nelly.txt"`) || !strings.Contains(out, "1987") {
		t.Errorf("search output = %q", out)
	}

	out, err = execute(t, "--config", cfgPath, "ask", "When was Nelly born?")
	if err != nil {
		t.Fatalf("ask error = %v", err)
	}
	if strings.TrimSpace(out) != "Nelly was born in 1987." {
		t.Errorf("ask output = %q", out)
	}
	req := fake.lastRequest(t)
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "15 March 1987") || !strings.Contains(last.Content, "When was Nelly born?") {
		t.Errorf("question was not augmented: %q", last.Content)
	}
}

func searchCount(t *testing.T, cfgPath, query string) int {
	t.Helper()
	out, err := execute(t, "--config", cfgPath, "search", query, "--threshold", "0")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("search output is not JSON: %v\n%s", err, out)
	}
	return result.Count
}

func TestConfiguredDocumentsAreNotDuplicated(t *testing.T) {
	docs := t.TempDir()
	docPath := filepath.Join(docs, "nelly.txt")
	if err := os.WriteFile(docPath, []byte("Nelly is a slow dog."), 0o644); err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(&fakeOllama{})
	t.Cleanup(server.Close)
	cfgPath := writeConfig(t, server.URL, docPath)

	for i := 1; i <= 3; i++ {
		if got := searchCount(t, cfgPath, "Who is Nelly?"); got != 1 {
			t.Fatalf("open %d: search count = %d, want 1", i, got)
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := execute(t, "--config", cfgPath, "ingest", docs); err != nil {
			t.Fatalf("ingest error = %v", err)
		}
	}
	if got := searchCount(t, cfgPath, "Who is Nelly?"); got != 1 {
		t.Errorf("search count after repeated ingest = %d, want 1", got)
	}
}

func TestAskWithTools(t *testing.T) {
	fake := &fakeOllama{answer: "1+2 is 3 and 3*4 is 12."}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	cfgPath := writeConfig(t, server.URL)

	out, err := execute(t, "--config", cfgPath, "ask", "--no-rag", "--tools", "add,multiply,kwigglydiggly", "What is 1+2 and 3*4?")
	if err != nil {
		t.Fatalf("ask error = %v", err)
	}
	if !strings.Contains(out, "3") || !strings.Contains(out, "12") {
		t.Errorf("ask output = %q", out)
	}

	req := fake.lastRequest(t)
	results := map[string]string{}
	for _, m := range req.Messages {
		if m.Role == "tool" {
			results[m.ToolName] = m.Content
		}
	}
	if results["add"] != "3" || results["multiply"] != "12" {
		t.Errorf("tool results = %v", results)
	}
	if _, ok := results["kwigglydiggly"]; ok {
		t.Error("kwigglydiggly was invoked")
	}
}

func TestExtractUsesConfiguredTemperature(t *testing.T) {
	fake := &fakeOllama{answer: `{"firstName":"John","lastName":"Doe"}`}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	cfgPath := writeConfig(t, server.URL)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	data = []byte(strings.Replace(string(data), "  model:\n", "  temperature: 0.3\n  model:\n", 1))
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfgPath, "extract", "John Doe lives in Springfield.")
	if err != nil {
		t.Fatalf("extract error = %v", err)
	}
	if !strings.Contains(out, `"firstName": "John"`) {
		t.Errorf("extract output = %q", out)
	}
	if got := fake.lastRequest(t).Options["temperature"]; got != 0.3 {
		t.Errorf("temperature = %v, want 0.3", got)
	}
}

func TestAskBackendFailureExitCode(t *testing.T) {
	fake := &fakeOllama{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	cfgPath := writeConfig(t, server.URL)

	_, err := execute(t, "--config", cfgPath, "ask", "--no-rag", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := exitCode(err); got != exitBackend {
		t.Errorf("exitCode() = %d, want %d (err = %v)", got, exitBackend, err)
	}
}

func TestInvalidConfigExitCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store:\n  type: redis\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "--config", path, "ask", "hello")
	if got := exitCode(err); got != exitError || !config.IsConfigError(err) {
		t.Errorf("exitCode() = %d, err = %v; want config error", got, err)
	}
}

func TestChatLoop(t *testing.T) {
	fake := &fakeOllama{answer: "Hi Nelly."}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := ollama.New(ollama.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	rt := &runtime{cfg: config.Default(), client: client}
	a, err := assistant.New(rt.provider(), assistant.WithModel("llama3.1"))
	if err != nil {
		t.Fatal(err)
	}

	in := strings.NewReader("My name is Nelly\n\n/history\n/reset\n/history\n/exit\nnever sent\n")
	var out, errOut bytes.Buffer
	if err := chatLoop(context.Background(), a, "", in, &out, &errOut); err != nil {
		t.Fatalf("chatLoop() error = %v", err)
	}

	got := out.String()
	if strings.Count(got, "Hi Nelly.") != 2 {
		t.Errorf("expected the answer once and the answer in history once:\n%s", got)
	}
	if !strings.Contains(got, "user: My name is Nelly") {
		t.Errorf("history missing user turn:\n%s", got)
	}
	if !strings.Contains(got, "(conversation cleared)") {
		t.Errorf("reset not acknowledged:\n%s", got)
	}
	if len(fake.requests) != 1 {
		t.Errorf("backend requests = %d, want 1", len(fake.requests))
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected errors: %s", errOut.String())
	}
}

func TestVersionAndConfigCommands(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.HasPrefix(out, "ragline dev") {
		t.Errorf("version = %q, %v", out, err)
	}

	out, err = execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("config schema error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(out), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}

	out, err = execute(t, "config", "env")
	if err != nil || !strings.Contains(out, "RAGLINE_BACKEND_URL") {
		t.Errorf("config env = %q, %v", out, err)
	}
}
