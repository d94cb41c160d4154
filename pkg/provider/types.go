package provider

import (
	"github.com/strata-dev/strata/pkg/mcp"
	"github.com/strata-dev/strata/pkg/transcript"
)

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []transcript.Message
	Tools        []mcp.ToolDefinition
	Temperature  float64
	MaxTokens    int
}

// Response contains the model's reply.
type Response struct {
	Content   string
	ToolCalls []mcp.ToolCall
	Usage     Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
