package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/ragline/internal/agent"
	"github.com/haasonsaas/ragline/internal/agent/toolconv"
	"github.com/haasonsaas/ragline/internal/ollama"
	"github.com/haasonsaas/ragline/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	// BaseURL is the server address without the /v1 suffix.
	BaseURL string

	// APIKey is sent as a bearer token. The local server ignores it.
	APIKey string

	DefaultModel string

	// HTTPClient lets the provider share a connection pool.
	HTTPClient *http.Client
}

// OpenAIProvider implements agent.LLMProvider on the OpenAI-compatible
// /v1/chat/completions endpoint of the inference server.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

var _ agent.LLMProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider for the server at cfg.BaseURL.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = ollama.DefaultBaseURL
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(config),
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a non-streaming chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, errors.New("openai: model is required")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertToOpenAIMessages(req.Messages),
		Tools:     toolconv.ToOpenAITools(req.Tools),
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Format) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ollama.BackendError{Op: "chat", Status: http.StatusOK, Body: "no choices in response"}
	}

	choice := resp.Choices[0]
	out := &agent.CompletionResponse{
		Content:      choice.Message.Content,
		DoneReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		call := models.ToolCall{
			ID:    tc.ID,
			Name:  strings.TrimSpace(tc.Function.Name),
			Input: json.RawMessage(tc.Function.Arguments),
		}
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			call.Input = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

func convertToOpenAIMessages(msgs []models.ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case models.RoleAssistant:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content})
		case models.RoleToolCall:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args := string(tc.Input)
				if args == "" {
					args = "{}"
				}
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
			result = append(result, oaiMsg)
		case models.RoleToolResult:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: msg.Content}
			if msg.ToolResult != nil {
				oaiMsg.ToolCallID = msg.ToolResult.ToolCallID
				oaiMsg.Name = msg.ToolResult.Name
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, userMessage(msg))
		}
	}
	return result
}

func userMessage(msg models.ChatMessage) openai.ChatCompletionMessage {
	if len(msg.Images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content}
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Images)+1)
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, img := range msg.Images {
		dataURL := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(img), base64.StdEncoding.EncodeToString(img))
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// convertOpenAIError maps client errors onto the backend error taxonomy.
func convertOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ollama.BackendError{Op: "chat", Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		body := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &ollama.BackendError{Op: "chat", Status: reqErr.HTTPStatusCode, Body: body}
	}
	return ollama.Classify("chat", err)
}
