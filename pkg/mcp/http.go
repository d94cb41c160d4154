package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPTransport speaks JSON-RPC to a remote tool server over HTTP POST.
type HTTPTransport struct {
	serverName string
	url        string
	authToken  string
	client     *http.Client

	mu          sync.Mutex
	id          int
	initialized bool
}

// NewHTTPTransport creates a transport for a remote server.
func NewHTTPTransport(serverName, url, authToken string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		serverName: serverName,
		url:        url,
		authToken:  authToken,
		client:     &http.Client{Timeout: timeout},
	}
}

// Start performs the initialize handshake.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if _, err := t.call(ctx, "initialize", initializeParams()); err != nil {
		return fmt.Errorf("%w: %s: initialize failed: %v", ErrServerUnavailable, t.serverName, err)
	}

	t.mu.Lock()
	t.initialized = true
	t.mu.Unlock()
	return nil
}

func (t *HTTPTransport) nextID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.id++
	return t.id
}

func (t *HTTPTransport) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      t.nextID(),
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrServerUnavailable, t.serverName, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, fmt.Errorf("%w: %s: HTTP %d: %s", ErrServerUnavailable, t.serverName, httpResp.StatusCode, body)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("server error (%d): %s", resp.Error.Code, resp.Error.Message)
	}

	return &resp, nil
}

// ListTools fetches the tool definitions from the server
func (t *HTTPTransport) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := t.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult toolListResult
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	return listResult.definitions(), nil
}

// CallTool invokes a tool on the server
func (t *HTTPTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*RawResult, error) {
	if err := t.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := t.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var result toolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	return result.raw(), nil
}

// Stop marks the transport uninitialized. There is no connection to
// tear down.
func (t *HTTPTransport) Stop() error {
	t.mu.Lock()
	t.initialized = false
	t.mu.Unlock()
	return nil
}
