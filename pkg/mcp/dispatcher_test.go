package mcp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-dev/strata/internal/config"
)

// stubTransport is an in-memory Transport for dispatcher tests.
type stubTransport struct {
	tools     []ToolDefinition
	result    *RawResult
	callErr   error
	startErrs int // fail this many Start calls before succeeding

	mu     sync.Mutex
	starts int
	calls  []string
}

func (s *stubTransport) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.starts <= s.startErrs {
		return errors.New("start failed")
	}
	return nil
}

func (s *stubTransport) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return s.tools, nil
}

func (s *stubTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*RawResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &RawResult{Content: "ok from " + name}, nil
}

func (s *stubTransport) Stop() error { return nil }

func (s *stubTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func stubRegistry(transports map[string]Transport) *Registry {
	handles := make(map[string]*handle)
	for name, t := range transports {
		handles[name] = &handle{
			cfg:       config.ServerConfig{Name: name, Kind: config.ServerKindBuiltin},
			transport: t,
			state:     HealthStarting,
		}
	}
	return &Registry{handles: handles}
}

func dispatcherCfg(thresholds config.Thresholds, servers ...string) *config.Config {
	cfg := &config.Config{Thresholds: thresholds}
	for _, name := range servers {
		cfg.Servers = append(cfg.Servers, config.ServerConfig{Name: name, Kind: config.ServerKindBuiltin})
	}
	return cfg
}

func TestToolAllowed(t *testing.T) {
	// Empty allow-list admits everything.
	assert.True(t, toolAllowed("shell", nil, nil))

	// Allow-list restricts.
	assert.True(t, toolAllowed("read_file", []string{"read_*", "list_*"}, nil))
	assert.False(t, toolAllowed("shell", []string{"read_*", "list_*"}, nil))

	// Deny wins even over an explicit allow.
	assert.False(t, toolAllowed("shell", []string{"shell"}, []string{"shell"}))
	assert.False(t, toolAllowed("rm_tree", nil, []string{"rm_*"}))
}

func TestDispatcher_RefusedToolNeverReachesServer(t *testing.T) {
	stub := &stubTransport{tools: []ToolDefinition{{Name: "shell"}}}
	d := NewDispatcher(dispatcherCfg(config.Thresholds{}, "dev"), stubRegistry(map[string]Transport{"dev": stub}), nil)

	scope := Scope{ServerRefs: []string{"dev"}, AllowedTools: []string{"read_*"}}
	_, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "shell"}, scope)

	require.ErrorIs(t, err, ErrToolNotAllowed)
	assert.Zero(t, stub.callCount())
}

func TestDispatcher_UnknownTool(t *testing.T) {
	stub := &stubTransport{tools: []ToolDefinition{{Name: "shell"}}}
	d := NewDispatcher(dispatcherCfg(config.Thresholds{}, "dev"), stubRegistry(map[string]Transport{"dev": stub}), nil)

	_, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "ghost"}, Scope{ServerRefs: []string{"dev"}})
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestDispatcher_FirstServerWins(t *testing.T) {
	first := &stubTransport{tools: []ToolDefinition{{Name: "search"}}, result: &RawResult{Content: "from first"}}
	second := &stubTransport{tools: []ToolDefinition{{Name: "search"}, {Name: "extra"}}, result: &RawResult{Content: "from second"}}

	d := NewDispatcher(
		dispatcherCfg(config.Thresholds{}, "alpha", "beta"),
		stubRegistry(map[string]Transport{"alpha": first, "beta": second}),
		nil,
	)
	scope := Scope{ServerRefs: []string{"alpha", "beta"}}

	result, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "search"}, scope)
	require.NoError(t, err)
	assert.Equal(t, "from first", result.Content)
	assert.Equal(t, 1, first.callCount())
	assert.Zero(t, second.callCount())

	// The catalog exposes "search" once, plus the unshadowed tool.
	tools := d.Tools(context.Background(), scope)
	names := make([]string, 0, len(tools))
	for _, def := range tools {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"search", "extra"}, names)
}

func TestDispatcher_ServerToolPatternsFilterCatalog(t *testing.T) {
	stub := &stubTransport{tools: []ToolDefinition{{Name: "read_file"}, {Name: "shell"}}}
	cfg := &config.Config{
		Servers: []config.ServerConfig{
			{Name: "dev", Kind: config.ServerKindBuiltin, Tools: []string{"read_*"}},
		},
	}
	d := NewDispatcher(cfg, stubRegistry(map[string]Transport{"dev": stub}), nil)

	tools := d.Tools(context.Background(), Scope{ServerRefs: []string{"dev"}})
	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].Name)

	_, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "shell"}, Scope{ServerRefs: []string{"dev"}})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestDispatcher_GlobalDenyList(t *testing.T) {
	stub := &stubTransport{tools: []ToolDefinition{{Name: "shell"}}}
	cfg := dispatcherCfg(config.Thresholds{}, "dev")
	cfg.DenyTools = []string{"shell"}
	d := NewDispatcher(cfg, stubRegistry(map[string]Transport{"dev": stub}), nil)

	// Empty allow-list normally admits everything; the deny-list still
	// refuses.
	_, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "shell"}, Scope{ServerRefs: []string{"dev"}})
	require.ErrorIs(t, err, ErrToolNotAllowed)

	assert.Empty(t, d.Tools(context.Background(), Scope{ServerRefs: []string{"dev"}}))
}

func TestDispatcher_ArgumentValidation(t *testing.T) {
	stub := &stubTransport{tools: []ToolDefinition{{
		Name: "read_file",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path"},
		},
	}}}
	d := NewDispatcher(dispatcherCfg(config.Thresholds{}, "fs"), stubRegistry(map[string]Transport{"fs": stub}), nil)
	scope := Scope{ServerRefs: []string{"fs"}}

	result, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "read_file"}, scope)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid arguments")
	assert.Zero(t, stub.callCount())

	result, err = d.Execute(context.Background(), ToolCall{
		ID: "tc-2", Name: "read_file",
		Arguments: map[string]interface{}{"path": "main.go"},
	}, scope)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 1, stub.callCount())
}

func TestDispatcher_SizePolicy(t *testing.T) {
	big := strings.Repeat("x", 4000) // ~1000 tokens

	t.Run("warn annotates", func(t *testing.T) {
		stub := &stubTransport{tools: []ToolDefinition{{Name: "dump"}}, result: &RawResult{Content: big}}
		cfg := dispatcherCfg(config.Thresholds{ResponseWarnTokens: 500, ResponseHardTokens: 5000, AutoTruncate: true}, "dev")
		d := NewDispatcher(cfg, stubRegistry(map[string]Transport{"dev": stub}), nil)

		result, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "dump"}, Scope{ServerRefs: []string{"dev"}})
		require.NoError(t, err)
		assert.False(t, result.Truncated)
		assert.Contains(t, result.Content, "[note: large result")
	})

	t.Run("hard truncates when auto-truncate is on", func(t *testing.T) {
		stub := &stubTransport{tools: []ToolDefinition{{Name: "dump"}}, result: &RawResult{Content: big}}
		cfg := dispatcherCfg(config.Thresholds{ResponseHardTokens: 100, AutoTruncate: true}, "dev")
		d := NewDispatcher(cfg, stubRegistry(map[string]Transport{"dev": stub}), nil)

		result, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "dump"}, Scope{ServerRefs: []string{"dev"}})
		require.NoError(t, err)
		assert.True(t, result.Truncated)
		assert.Contains(t, result.Content, "[truncated 900 tokens]")
		assert.Less(t, len(result.Content), len(big))

		// The truncated result, marker included, fits the hard limit.
		assert.LessOrEqual(t, estimateTokens(result.Content), 100)
	})

	t.Run("hard declines when auto-truncate is off", func(t *testing.T) {
		stub := &stubTransport{tools: []ToolDefinition{{Name: "dump"}}, result: &RawResult{Content: big}}
		cfg := dispatcherCfg(config.Thresholds{ResponseHardTokens: 100, AutoTruncate: false}, "dev")
		d := NewDispatcher(cfg, stubRegistry(map[string]Transport{"dev": stub}), nil)

		_, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "dump"}, Scope{ServerRefs: []string{"dev"}})
		require.Error(t, err)

		var tooLarge *ResponseTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		assert.Equal(t, "dump", tooLarge.Tool)
		assert.Equal(t, 100, tooLarge.Limit)
	})

	t.Run("zero thresholds disable the policy", func(t *testing.T) {
		stub := &stubTransport{tools: []ToolDefinition{{Name: "dump"}}, result: &RawResult{Content: big}}
		d := NewDispatcher(dispatcherCfg(config.Thresholds{}, "dev"), stubRegistry(map[string]Transport{"dev": stub}), nil)

		result, err := d.Execute(context.Background(), ToolCall{ID: "tc-1", Name: "dump"}, Scope{ServerRefs: []string{"dev"}})
		require.NoError(t, err)
		assert.Equal(t, big, result.Content)
	})
}

func TestDispatcher_ExecuteBatch(t *testing.T) {
	stub := &stubTransport{tools: []ToolDefinition{{Name: "slow"}, {Name: "fast"}}}
	failing := &stubTransport{tools: []ToolDefinition{{Name: "broken"}}, callErr: errors.New("exploded")}

	d := NewDispatcher(
		dispatcherCfg(config.Thresholds{}, "ok", "bad"),
		stubRegistry(map[string]Transport{"ok": stub, "bad": failing}),
		nil,
	)
	scope := Scope{ServerRefs: []string{"ok", "bad"}}

	results, err := d.ExecuteBatch(context.Background(), []ToolCall{
		{ID: "tc-1", Name: "slow"},
		{ID: "tc-2", Name: "broken"},
		{ID: "tc-3", Name: "fast"},
	}, scope)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Results come back in request order regardless of completion order.
	assert.Equal(t, "tc-1", results[0].ToolCallID)
	assert.Equal(t, "tc-2", results[1].ToolCallID)
	assert.Equal(t, "tc-3", results[2].ToolCallID)

	assert.False(t, results[0].IsError)
	assert.True(t, results[1].IsError)
	assert.Contains(t, results[1].Content, "exploded")
}

func TestDispatcher_ExecuteBatchCancelled(t *testing.T) {
	stub := &stubTransport{tools: []ToolDefinition{{Name: "shell"}}}
	d := NewDispatcher(dispatcherCfg(config.Thresholds{}, "dev"), stubRegistry(map[string]Transport{"dev": stub}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := d.ExecuteBatch(ctx, []ToolCall{{ID: "tc-1", Name: "shell"}}, Scope{ServerRefs: []string{"dev"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}
