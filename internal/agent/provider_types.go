package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/ragline/pkg/models"
)

// LLMProvider defines the interface for chat model backends.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different requests.
type LLMProvider interface {
	// Complete sends the conversation and waits for the whole reply.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for one model dispatch.
type CompletionRequest struct {
	// Model selects the backend model. If empty, the provider default is used.
	Model string `json:"model"`

	// Messages is the conversation in chronological order, system message
	// first when present.
	Messages []models.ChatMessage `json:"messages"`

	// Tools the model may request. Empty disables tool calling.
	Tools []ToolDescriptor `json:"tools,omitempty"`

	// Format constrains the output, either the string "json" or a JSON
	// schema object.
	Format json.RawMessage `json:"format,omitempty"`

	// Temperature overrides the backend default when set.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens limits the reply length. Zero keeps the backend default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionResponse is a complete model reply.
type CompletionResponse struct {
	// Content is the reply text. It may be empty when tools are requested.
	Content string `json:"content"`

	// ToolCalls are the tools the model wants run, in order.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// DoneReason is the backend's stop reason.
	DoneReason string `json:"done_reason,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
