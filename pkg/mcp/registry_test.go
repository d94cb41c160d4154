package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-dev/strata/internal/config"
)

func TestRegistry_LazyStart(t *testing.T) {
	stub := &stubTransport{}
	r := stubRegistry(map[string]Transport{"dev": stub})

	assert.Zero(t, stub.starts)

	transport, err := r.Acquire(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, Transport(stub), transport)
	assert.Equal(t, 1, stub.starts)

	// A second acquire does not restart the server.
	_, err = r.Acquire(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.starts)

	health := r.Health()
	require.Len(t, health, 1)
	assert.Equal(t, HealthHealthy, health[0].State)
}

func TestRegistry_StartRetries(t *testing.T) {
	stub := &stubTransport{startErrs: 2}
	r := stubRegistry(map[string]Transport{"flaky": stub})
	r.handles["flaky"].cfg.MaxStartRetries = 3

	_, err := r.Acquire(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, 3, stub.starts)
}

func TestRegistry_DeadAfterRetryBudget(t *testing.T) {
	stub := &stubTransport{startErrs: 100}
	r := stubRegistry(map[string]Transport{"broken": stub})
	r.handles["broken"].cfg.MaxStartRetries = 2

	_, err := r.Acquire(context.Background(), "broken")
	require.ErrorIs(t, err, ErrServerUnavailable)

	health := r.Health()
	require.Len(t, health, 1)
	assert.Equal(t, HealthDead, health[0].State)

	// A dead server stays dead: no further start attempts.
	_, err = r.Acquire(context.Background(), "broken")
	require.ErrorIs(t, err, ErrServerUnavailable)
	assert.Equal(t, 2, stub.starts)
}

func TestRegistry_UnknownServer(t *testing.T) {
	r := stubRegistry(nil)

	_, err := r.Acquire(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrServerUnavailable)
}

func TestRegistry_NewFromConfig(t *testing.T) {
	servers := []config.ServerConfig{
		{Name: "filesystem", Kind: config.ServerKindBuiltin},
		{Name: "remote", Kind: config.ServerKindHTTP, URL: "https://tools.example.com/rpc"},
		{Name: "proc", Kind: config.ServerKindStdio, Command: "mcp-server"},
	}

	r, err := NewRegistry(servers, nil)
	require.NoError(t, err)
	assert.Len(t, r.Health(), 3)

	_, err = NewRegistry([]config.ServerConfig{{Name: "weird", Kind: "carrier-pigeon"}}, nil)
	assert.Error(t, err)
}

func TestBuiltinFilesystem(t *testing.T) {
	t.Chdir(t.TempDir())

	fs, err := NewBuiltinTransport("filesystem", 0)
	require.NoError(t, err)
	ctx := context.Background()

	tools, err := fs.ListTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, def := range tools {
		names = append(names, def.Name)
	}
	assert.ElementsMatch(t, []string{"list_files", "read_file", "write_file"}, names)

	result, err := fs.CallTool(ctx, "write_file", map[string]interface{}{
		"path": "notes/hello.txt", "content": "hi there",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = fs.CallTool(ctx, "read_file", map[string]interface{}{"path": "notes/hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Content)

	result, err = fs.CallTool(ctx, "list_files", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "notes/", result.Content)

	// Escapes are refused as error results.
	result, err = fs.CallTool(ctx, "read_file", map[string]interface{}{"path": "../outside"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = fs.CallTool(ctx, "read_file", map[string]interface{}{"path": "/etc/passwd"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestBuiltinDeveloperShell(t *testing.T) {
	dev, err := NewBuiltinTransport("developer", 0)
	require.NoError(t, err)
	ctx := context.Background()

	result, err := dev.CallTool(ctx, "shell", map[string]interface{}{"command": "echo hello"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello\n", result.Content)

	result, err = dev.CallTool(ctx, "shell", map[string]interface{}{"command": "exit 3"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = dev.CallTool(ctx, "shell", map[string]interface{}{"command": "   "})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	_, err = dev.CallTool(ctx, "no_such_tool", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestBuiltinWebSearch(t *testing.T) {
	web, err := NewBuiltinTransport("web", 0)
	require.NoError(t, err)
	ctx := context.Background()

	tools, err := web.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "web_search", tools[0].Name)

	// No API key configured: the model gets an error result, not a
	// transport failure.
	t.Setenv("BRAVE_API_KEY", "")
	result, err := web.CallTool(ctx, "web_search", map[string]interface{}{"query": "golang"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "BRAVE_API_KEY")

	t.Setenv("BRAVE_API_KEY", "secret")
	var gotToken, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"web":{"results":[{"title":"The Go Programming Language","url":"https://go.dev","description":"Build simple, secure, scalable systems."}]}}`)
	}))
	defer srv.Close()
	prev := braveSearchEndpoint
	braveSearchEndpoint = srv.URL
	defer func() { braveSearchEndpoint = prev }()

	result, err = web.CallTool(ctx, "web_search", map[string]interface{}{"query": "golang", "count": float64(3)})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "golang", gotQuery)
	assert.Contains(t, result.Content, "https://go.dev")

	result, err = web.CallTool(ctx, "web_search", map[string]interface{}{"query": "   "})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestBuiltinUnknownServer(t *testing.T) {
	_, err := NewBuiltinTransport("telepathy", 0)
	assert.Error(t, err)
}
