package transcript

import (
	"time"

	"github.com/strata-dev/strata/pkg/mcp"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single conversation turn
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []mcp.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	// Cached marks a cache boundary: this message and everything before
	// it is eligible for provider-side prompt caching.
	Cached bool `json:"cached,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// tokens is the estimate computed when the message entered the
	// transcript. Not persisted; recomputed on load.
	tokens int
}

// NewUserMessage builds a user turn stamped now.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant turn stamped now.
func NewAssistantMessage(content string, toolCalls []mcp.ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls, Timestamp: time.Now()}
}

// NewToolMessage builds a tool result turn stamped now.
func NewToolMessage(result mcp.ToolResult, toolName string) Message {
	return Message{
		Role:       RoleTool,
		Content:    result.Content,
		ToolCallID: result.ToolCallID,
		Name:       toolName,
		Timestamp:  time.Now(),
	}
}

// HasToolCalls reports whether this is an assistant turn requesting tools.
func (m *Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}
