package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/ragline/internal/observability"
	openai "github.com/sashabaranov/go-openai"
)

// FormatJSON forces the backend to emit a JSON document.
var FormatJSON = json.RawMessage(`"json"`)

// Message is a chat message in the backend's wire format.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Images    [][]byte   `json:"images,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the function and carries its JSON object arguments.
type ToolFunction struct {
	Index     int             `json:"index,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Format   json.RawMessage `json:"format,omitempty"`
	Tools    []openai.Tool   `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
	Stream   bool            `json:"stream"`
}

// ChatResponse is the non-streaming reply of POST /api/chat.
type ChatResponse struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Message         Message   `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Images  [][]byte        `json:"images,omitempty"`
	Format  json.RawMessage `json:"format,omitempty"`
	Options map[string]any  `json:"options,omitempty"`
	Stream  bool            `json:"stream"`
}

// GenerateResponse is the non-streaming reply of POST /api/generate.
type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Chat sends a conversation and waits for the complete reply.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, errors.New("ollama chat: request is nil")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("ollama chat: model is required")
	}

	ctx, span := observability.StartSpan(ctx, observability.ScopeOllama, "ollama.chat",
		"model", req.Model, "messages", len(req.Messages), "tools", len(req.Tools))
	defer span.End()

	payload := *req
	payload.Stream = false

	start := time.Now()
	var resp ChatResponse
	err := c.postJSON(ctx, "chat", "/api/chat", &payload, &resp)
	c.observe("chat", req.Model, start, err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	c.metrics.RecordTokens(req.Model, resp.PromptEvalCount, resp.EvalCount)
	return &resp, nil
}

// Generate sends a single prompt and waits for the complete reply.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req == nil {
		return nil, errors.New("ollama generate: request is nil")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("ollama generate: model is required")
	}

	ctx, span := observability.StartSpan(ctx, observability.ScopeOllama, "ollama.generate", "model", req.Model)
	defer span.End()

	payload := *req
	payload.Stream = false

	start := time.Now()
	var resp GenerateResponse
	err := c.postJSON(ctx, "generate", "/api/generate", &payload, &resp)
	c.observe("generate", req.Model, start, err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	c.metrics.RecordTokens(req.Model, resp.PromptEvalCount, resp.EvalCount)
	return &resp, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding of text under model.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("ollama embed: model is required")
	}

	ctx, span := observability.StartSpan(ctx, observability.ScopeOllama, "ollama.embed", "model", model)
	defer span.End()

	start := time.Now()
	var resp embedResponse
	err := c.postJSON(ctx, "embed", "/api/embeddings", embedRequest{Model: model, Prompt: text}, &resp)
	c.observe("embed", model, start, err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, &BackendError{Op: "embed", Status: 200, Body: "empty embedding in response"}
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
