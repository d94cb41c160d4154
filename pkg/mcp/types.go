package mcp

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of one tool invocation. IsError marks a
// result the model should treat as a failure report rather than data.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`

	// Truncated is set when an oversized result was cut down before
	// being returned to the model.
	Truncated bool `json:"truncated,omitempty"`
}

// ToolDefinition describes one tool a server advertises. InputSchema is
// a JSON Schema object in the shape the model providers expect.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// HealthState describes the lifecycle state of a tool server.
type HealthState string

const (
	HealthStarting HealthState = "starting"
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDead     HealthState = "dead"
)

// ServerHealth is a point-in-time health report for one server.
type ServerHealth struct {
	Name     string      `json:"name"`
	State    HealthState `json:"state"`
	Restarts int         `json:"restarts"`
	LastErr  string      `json:"last_error,omitempty"`
}
