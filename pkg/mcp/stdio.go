package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// StdioTransport speaks line-delimited JSON-RPC to a subprocess tool
// server over its stdin/stdout.
type StdioTransport struct {
	serverName string
	command    string
	args       []string
	timeout    time.Duration

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	id      int
	pending map[int]chan *rpcResponse
}

// NewStdioTransport creates a transport for a subprocess server.
func NewStdioTransport(serverName, command string, args []string, timeout time.Duration) *StdioTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StdioTransport{
		serverName: serverName,
		command:    command,
		args:       args,
		timeout:    timeout,
		pending:    make(map[int]chan *rpcResponse),
	}
}

// Start launches the server process and performs the initialize
// handshake.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()

	if t.process != nil {
		t.mu.Unlock()
		return nil
	}

	cmd := exec.Command(t.command, t.args...)
	// Own process group: a Ctrl+C aimed at the interactive session must
	// never reach the tool servers.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.mu.Unlock()
		return err
	}

	if err := cmd.Start(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrServerUnavailable, t.serverName, err)
	}

	t.process = cmd
	t.stdin = stdin
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	t.mu.Unlock()

	// Listen for responses separately
	go t.listen()

	if _, err := t.call(ctx, "initialize", initializeParams()); err != nil {
		t.Stop()
		return fmt.Errorf("%w: %s: initialize failed: %v", ErrServerUnavailable, t.serverName, err)
	}

	log.Info().
		Str("server", t.serverName).
		Str("command", t.command).
		Msg("Tool server started")

	return nil
}

func (t *StdioTransport) listen() {
	for t.stdout.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(t.stdout.Bytes(), &resp); err != nil {
			log.Error().Err(err).Str("server", t.serverName).Msg("Failed to unmarshal server response")
			continue
		}

		if id, ok := resp.ID.(float64); ok {
			t.mu.Lock()
			ch, exists := t.pending[int(id)]
			if exists {
				delete(t.pending, int(id))
				ch <- &resp
			}
			t.mu.Unlock()
		}
	}
}

func (t *StdioTransport) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	t.mu.Lock()
	if t.stdin == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrServerUnavailable, t.serverName)
	}
	t.id++
	id := t.id
	ch := make(chan *rpcResponse, 1)
	t.pending[id] = ch
	stdin := t.stdin
	t.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := io.WriteString(stdin, string(data)+"\n"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServerUnavailable, t.serverName, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("server error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		t.dropPending(id)
		return nil, ctx.Err()
	case <-time.After(t.timeout):
		t.dropPending(id)
		return nil, fmt.Errorf("%w: %s.%s", ErrToolTimeout, t.serverName, method)
	}
}

func (t *StdioTransport) dropPending(id int) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// ListTools fetches the tool definitions from the server
func (t *StdioTransport) ListTools(ctx context.Context) ([]ToolDefinition, error) {
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
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*RawResult, error) {
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

// Stop shuts the server down, escalating from SIGTERM to SIGKILL when
// it does not exit in time.
func (t *StdioTransport) Stop() error {
	t.mu.Lock()
	process := t.process
	t.process = nil
	t.stdin = nil
	t.pending = make(map[int]chan *rpcResponse)
	t.mu.Unlock()

	if process == nil || process.Process == nil {
		return nil
	}

	if err := process.Process.Signal(syscall.SIGTERM); err != nil {
		return process.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- process.Wait() }()

	// Grace period matches the server's own call timeout.
	select {
	case <-done:
		return nil
	case <-time.After(t.timeout):
		log.Warn().Str("server", t.serverName).Msg("Server ignored SIGTERM, killing")
		return process.Process.Kill()
	}
}
