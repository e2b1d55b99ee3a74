package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/ragline/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToOpenAITools converts tool descriptors to the function-tool schema the
// chat endpoint accepts. A missing or malformed parameter schema becomes an
// empty object schema.
func ToOpenAITools(tools []agent.ToolDescriptor) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if len(params) == 0 || !json.Valid(params) {
			params = emptyObjectSchema
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}
