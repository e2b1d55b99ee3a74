// Package providers contains LLM provider implementations.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/agent/toolconv"
	"github.com/haasonsaas/ragline/internal/ollama"
	"github.com/haasonsaas/ragline/pkg/models"
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string
}

// OllamaProvider implements agent.LLMProvider on the native chat endpoint.
type OllamaProvider struct {
	client       *ollama.Client
	defaultModel string
}

var _ agent.LLMProvider = (*OllamaProvider)(nil)

// NewOllamaProvider creates a provider backed by client.
func NewOllamaProvider(client *ollama.Client, cfg OllamaConfig) *OllamaProvider {
	return &OllamaProvider{
		client:       client,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Complete sends the conversation and converts the reply.
func (p *OllamaProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	if p.client == nil {
		return nil, agent.ErrNoProvider
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, errors.New("ollama: model is required")
	}

	payload := &ollama.ChatRequest{
		Model:    model,
		Messages: buildOllamaMessages(req.Messages),
		Tools:    toolconv.ToOpenAITools(req.Tools),
		Format:   req.Format,
		Options:  buildOptions(req),
	}

	resp, err := p.client.Chat(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	out := &agent.CompletionResponse{
		Content:      resp.Message.Content,
		DoneReason:   resp.DoneReason,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
	for _, tc := range resp.Message.ToolCalls {
		call := models.ToolCall{
			ID:    strings.TrimSpace(tc.ID),
			Name:  strings.TrimSpace(tc.Function.Name),
			Input: tc.Function.Arguments,
		}
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		if len(call.Input) == 0 {
			call.Input = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

func buildOptions(req *agent.CompletionRequest) map[string]any {
	opts := map[string]any{}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// buildOllamaMessages maps transcript roles onto the wire roles. A tool_call
// turn becomes an assistant message carrying its calls; a tool_result turn
// becomes a "tool" message naming the tool.
func buildOllamaMessages(msgs []models.ChatMessage) []ollama.Message {
	out := make([]ollama.Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, ollama.Message{Role: "system", Content: msg.Content})
		case models.RoleAssistant:
			out = append(out, ollama.Message{Role: "assistant", Content: msg.Content})
		case models.RoleToolCall:
			m := ollama.Message{Role: "assistant", Content: msg.Content}
			m.ToolCalls = make([]ollama.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args := tc.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				m.ToolCalls[i] = ollama.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollama.ToolFunction{
						Index:     i,
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
			out = append(out, m)
		case models.RoleToolResult:
			m := ollama.Message{Role: "tool", Content: msg.Content}
			if msg.ToolResult != nil {
				m.Content = msg.ToolResult.Content
				m.ToolName = msg.ToolResult.Name
			}
			out = append(out, m)
		default:
			out = append(out, ollama.Message{Role: "user", Content: msg.Content, Images: msg.Images})
		}
	}
	return out
}
