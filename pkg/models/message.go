package models

import "encoding/json"

// Role indicates the message author type.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// ChatMessage is one entry of a conversation transcript.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// Images are raw image bytes attached to a user message.
	Images [][]byte `json:"images,omitempty"`

	// ToolCalls is set on tool_call messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResult is set on tool_result messages.
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

// UserMessage builds a user message.
func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant text message.
func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

// ToolCallMessage builds the assistant turn that requested calls.
func ToolCallMessage(text string, calls []ToolCall) ChatMessage {
	return ChatMessage{Role: RoleToolCall, Content: text, ToolCalls: calls}
}

// ToolResultMessage wraps a tool result.
func ToolResultMessage(result ToolResult) ChatMessage {
	r := result
	return ChatMessage{Role: RoleToolResult, Content: result.Content, ToolResult: &r}
}
