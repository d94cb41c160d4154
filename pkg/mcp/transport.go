package mcp

import (
	"context"
	"encoding/json"
	"strings"
)

// Transport is a connection to one tool server, whatever its wire.
type Transport interface {
	// Start connects to the server and performs the initialize
	// handshake. Calling Start on a started transport is a no-op.
	Start(ctx context.Context) error

	// ListTools fetches the server's tool catalog.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// CallTool invokes one tool and returns its raw result.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*RawResult, error)

	// Stop tears the connection down.
	Stop() error
}

// RawResult is a tool outcome before any size policy is applied.
type RawResult struct {
	Content string
	IsError bool
}

// protocolVersion is the MCP revision spoken on both transports.
const protocolVersion = "2024-11-05"

// MCP JSON-RPC messages
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// toolListResult is the payload of a tools/list response.
type toolListResult struct {
	Tools []struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		InputSchema map[string]interface{} `json:"inputSchema"`
	} `json:"tools"`
}

func (r toolListResult) definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.Tools))
	for _, t := range r.Tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return defs
}

// toolCallResult is the payload of a tools/call response.
type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func (r toolCallResult) raw() *RawResult {
	var sb strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return &RawResult{Content: sb.String(), IsError: r.IsError}
}

func initializeParams() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "strata",
			"version": "0.1.0",
		},
	}
}
