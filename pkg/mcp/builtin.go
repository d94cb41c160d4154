package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// builtinTool is one in-process tool: a definition plus its handler.
type builtinTool struct {
	def     ToolDefinition
	handler func(ctx context.Context, args map[string]interface{}) (*RawResult, error)
}

// BuiltinTransport serves tools in-process, with no wire protocol at
// all. Three servers ship builtin: "filesystem", "developer" and "web".
type BuiltinTransport struct {
	serverName string
	timeout    time.Duration
	tools      []builtinTool
}

// NewBuiltinTransport creates the builtin server with the given name.
func NewBuiltinTransport(serverName string, timeout time.Duration) (*BuiltinTransport, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	t := &BuiltinTransport{serverName: serverName, timeout: timeout}

	switch serverName {
	case "filesystem":
		t.tools = filesystemTools()
	case "developer":
		t.tools = developerTools(timeout)
	case "web":
		t.tools = webTools(timeout)
	default:
		return nil, fmt.Errorf("unknown builtin server: %s", serverName)
	}
	return t, nil
}

// Start is a no-op: builtin tools have no process to launch.
func (t *BuiltinTransport) Start(ctx context.Context) error { return nil }

// Stop is a no-op.
func (t *BuiltinTransport) Stop() error { return nil }

// ListTools returns the builtin catalog.
func (t *BuiltinTransport) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	defs := make([]ToolDefinition, 0, len(t.tools))
	for _, tool := range t.tools {
		defs = append(defs, tool.def)
	}
	return defs, nil
}

// CallTool invokes a builtin tool.
func (t *BuiltinTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*RawResult, error) {
	for _, tool := range t.tools {
		if tool.def.Name == name {
			ctx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()
			return tool.handler(ctx, args)
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrToolNotFound, t.serverName, name)
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// safePath rejects paths that escape the working tree.
func safePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the working directory", path)
	}
	return cleaned, nil
}

func errorResult(format string, a ...interface{}) *RawResult {
	return &RawResult{Content: fmt.Sprintf(format, a...), IsError: true}
}

func filesystemTools() []builtinTool {
	return []builtinTool{
		{
			def: ToolDefinition{
				Name:        "list_files",
				Description: "List files and directories under a path relative to the working directory.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{"type": "string", "description": "Directory to list, defaults to the working directory"},
					},
				},
			},
			handler: func(ctx context.Context, args map[string]interface{}) (*RawResult, error) {
				path, err := safePath(stringArg(args, "path"))
				if err != nil {
					return errorResult("%v", err), nil
				}
				entries, err := os.ReadDir(path)
				if err != nil {
					return errorResult("failed to list %s: %v", path, err), nil
				}

				names := make([]string, 0, len(entries))
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				sort.Strings(names)
				return &RawResult{Content: strings.Join(names, "\n")}, nil
			},
		},
		{
			def: ToolDefinition{
				Name:        "read_file",
				Description: "Read a file relative to the working directory.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{"type": "string", "description": "File to read"},
					},
					"required": []interface{}{"path"},
				},
			},
			handler: func(ctx context.Context, args map[string]interface{}) (*RawResult, error) {
				path, err := safePath(stringArg(args, "path"))
				if err != nil {
					return errorResult("%v", err), nil
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return errorResult("failed to read %s: %v", path, err), nil
				}
				return &RawResult{Content: string(data)}, nil
			},
		},
		{
			def: ToolDefinition{
				Name:        "write_file",
				Description: "Write content to a file relative to the working directory, creating parent directories as needed.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path":    map[string]interface{}{"type": "string", "description": "File to write"},
						"content": map[string]interface{}{"type": "string", "description": "Content to write"},
					},
					"required": []interface{}{"path", "content"},
				},
			},
			handler: func(ctx context.Context, args map[string]interface{}) (*RawResult, error) {
				path, err := safePath(stringArg(args, "path"))
				if err != nil {
					return errorResult("%v", err), nil
				}
				if dir := filepath.Dir(path); dir != "." {
					if err := os.MkdirAll(dir, 0755); err != nil {
						return errorResult("failed to create %s: %v", dir, err), nil
					}
				}
				content := stringArg(args, "content")
				if err := os.WriteFile(path, []byte(content), 0644); err != nil {
					return errorResult("failed to write %s: %v", path, err), nil
				}
				return &RawResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
			},
		},
	}
}

// braveSearchEndpoint is a variable so tests can point it at a local
// server.
var braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

func webTools(timeout time.Duration) []builtinTool {
	client := &http.Client{Timeout: timeout}
	return []builtinTool{
		{
			def: ToolDefinition{
				Name:        "web_search",
				Description: "Search the web using the Brave Search API and return the top results.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{"type": "string", "description": "Search query"},
						"count": map[string]interface{}{"type": "number", "description": "Number of results to return, defaults to 10"},
					},
					"required": []interface{}{"query"},
				},
			},
			handler: func(ctx context.Context, args map[string]interface{}) (*RawResult, error) {
				query := strings.TrimSpace(stringArg(args, "query"))
				if query == "" {
					return errorResult("query is required"), nil
				}
				apiKey := os.Getenv("BRAVE_API_KEY")
				if apiKey == "" {
					return errorResult("BRAVE_API_KEY environment variable is not set"), nil
				}
				count := 10
				if v, ok := args["count"].(float64); ok && v > 0 {
					count = int(v)
				}
				if count > 20 {
					count = 20
				}
				return braveSearch(ctx, client, apiKey, query, count)
			},
		},
	}
}

func braveSearch(ctx context.Context, client *http.Client, apiKey, query string, count int) (*RawResult, error) {
	endpoint := fmt.Sprintf("%s?q=%s&count=%d", braveSearchEndpoint, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errorResult("search request failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errorResult("search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return errorResult("failed to decode search response: %v", err), nil
	}

	if len(payload.Web.Results) == 0 {
		return &RawResult{Content: fmt.Sprintf("No web search results found for query: %q", query)}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Web search results for %q:\n", query)
	for i, r := range payload.Web.Results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	return &RawResult{Content: strings.TrimRight(sb.String(), "\n")}, nil
}

func developerTools(timeout time.Duration) []builtinTool {
	return []builtinTool{
		{
			def: ToolDefinition{
				Name:        "shell",
				Description: "Execute a shell command in the working directory and return its combined output.",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"command": map[string]interface{}{"type": "string", "description": "Command to execute"},
					},
					"required": []interface{}{"command"},
				},
			},
			handler: func(ctx context.Context, args map[string]interface{}) (*RawResult, error) {
				command := strings.TrimSpace(stringArg(args, "command"))
				if command == "" {
					return errorResult("command is required"), nil
				}

				cmd := exec.CommandContext(ctx, "sh", "-c", command)
				cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

				var out bytes.Buffer
				cmd.Stdout = &out
				cmd.Stderr = &out

				err := cmd.Run()
				if ctx.Err() == context.DeadlineExceeded {
					return errorResult("command timed out after %s\n%s", timeout, out.String()), nil
				}
				if err != nil {
					return errorResult("command failed: %v\n%s", err, out.String()), nil
				}
				return &RawResult{Content: out.String()}, nil
			},
		},
	}
}
