package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/strata-dev/strata/internal/config"
	"github.com/strata-dev/strata/internal/metrics"
)

// Scope is the tool access policy for one execution context: which
// servers are visible and which tools the allow-list admits. Roles,
// layers and commands each carry their own scope.
type Scope struct {
	ServerRefs   []string
	AllowedTools []string
}

// Dispatcher routes tool calls to servers and applies the allow-list
// and response size policy.
type Dispatcher struct {
	cfg      *config.Config
	registry *Registry
	metrics  *metrics.Metrics

	mu       sync.Mutex
	catalogs map[string][]ToolDefinition
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(cfg *config.Config, registry *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		metrics:  m,
		catalogs: make(map[string][]ToolDefinition),
	}
}

// InvalidateCatalog drops the cached tool catalog for a server, for
// example after the health monitor restarted it.
func (d *Dispatcher) InvalidateCatalog(serverName string) {
	d.mu.Lock()
	delete(d.catalogs, serverName)
	d.mu.Unlock()
}

// catalog returns the server's advertised tools, filtered by the
// server's own tool patterns. Catalogs are cached per server.
func (d *Dispatcher) catalog(ctx context.Context, server *config.ServerConfig) ([]ToolDefinition, error) {
	d.mu.Lock()
	cached, ok := d.catalogs[server.Name]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	transport, err := d.registry.Acquire(ctx, server.Name)
	if err != nil {
		return nil, err
	}

	defs, err := transport.ListTools(ctx)
	if err != nil {
		d.registry.MarkDegraded(server.Name, err)
		return nil, err
	}

	if len(server.Tools) > 0 {
		filtered := defs[:0]
		for _, def := range defs {
			if matchAny(server.Tools, def.Name) {
				filtered = append(filtered, def)
			}
		}
		defs = filtered
	}

	d.mu.Lock()
	d.catalogs[server.Name] = defs
	d.mu.Unlock()
	return defs, nil
}

// Tools returns the tool definitions visible in a scope. When two
// servers advertise the same tool name, the server listed first in the
// scope wins. Unreachable servers are skipped so one dead server never
// empties the whole catalog.
func (d *Dispatcher) Tools(ctx context.Context, scope Scope) []ToolDefinition {
	seen := make(map[string]bool)
	var out []ToolDefinition

	for _, server := range d.cfg.ServersForRefs(scope.ServerRefs) {
		defs, err := d.catalog(ctx, &server)
		if err != nil {
			log.Warn().Str("server", server.Name).Err(err).Msg("Skipping unreachable server")
			continue
		}
		for _, def := range defs {
			if seen[def.Name] {
				continue
			}
			if !toolAllowed(def.Name, scope.AllowedTools, d.cfg.DenyTools) {
				continue
			}
			seen[def.Name] = true
			out = append(out, def)
		}
	}
	return out
}

// resolve finds the owning server and definition for a tool in scope
// order, first server wins.
func (d *Dispatcher) resolve(ctx context.Context, scope Scope, name string) (*config.ServerConfig, *ToolDefinition, error) {
	for _, server := range d.cfg.ServersForRefs(scope.ServerRefs) {
		server := server
		defs, err := d.catalog(ctx, &server)
		if err != nil {
			continue
		}
		for i := range defs {
			if defs[i].Name == name {
				return &server, &defs[i], nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// Execute runs one tool call. The allow-list is checked before any
// routing so a refused tool never reaches a server. The returned error
// is typed; callers turn it into an error tool result for the model.
func (d *Dispatcher) Execute(ctx context.Context, call ToolCall, scope Scope) (*ToolResult, error) {
	if !toolAllowed(call.Name, scope.AllowedTools, d.cfg.DenyTools) {
		d.countExecution(call.Name, "", "refused")
		return nil, fmt.Errorf("%w: %s", ErrToolNotAllowed, call.Name)
	}

	server, def, err := d.resolve(ctx, scope, call.Name)
	if err != nil {
		d.countExecution(call.Name, "", "not_found")
		return nil, err
	}

	if msg := validateArguments(def, call.Arguments); msg != "" {
		// Invalid arguments go back to the model as an error result so
		// it can correct the call.
		d.countExecution(call.Name, server.Name, "invalid_arguments")
		return &ToolResult{ToolCallID: call.ID, Content: msg, IsError: true}, nil
	}

	transport, err := d.registry.Acquire(ctx, server.Name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := transport.CallTool(ctx, call.Name, call.Arguments)
	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())
	}
	if err != nil {
		d.registry.MarkDegraded(server.Name, err)
		d.countExecution(call.Name, server.Name, "error")
		if d.metrics != nil {
			d.metrics.ToolExecutionErrorsTotal.WithLabelValues(call.Name, "transport").Inc()
		}
		return nil, err
	}

	result := &ToolResult{
		ToolCallID: call.ID,
		Content:    raw.Content,
		IsError:    raw.IsError,
	}

	if err := d.applySizePolicy(call.Name, result); err != nil {
		return nil, err
	}

	status := "success"
	if result.IsError {
		status = "tool_error"
	}
	d.countExecution(call.Name, server.Name, status)

	log.Debug().
		Str("tool", call.Name).
		Str("server", server.Name).
		Dur("elapsed", elapsed).
		Bool("is_error", result.IsError).
		Msg("Tool executed")

	return result, nil
}

// ExecuteBatch runs several tool calls concurrently and returns their
// results in request order. Tool failures become error results; a
// context cancellation discards the whole batch instead.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, calls []ToolCall, scope Scope) ([]ToolResult, error) {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			result, err := d.Execute(ctx, call, scope)
			if err != nil {
				results[i] = ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
				return
			}
			results[i] = *result
		}(i, call)
	}
	wg.Wait()

	// All-or-nothing: a cancelled batch commits no results.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return results, nil
}

// applySizePolicy enforces the response size thresholds: annotate
// above the warn level, truncate or decline above the hard level.
func (d *Dispatcher) applySizePolicy(toolName string, result *ToolResult) error {
	hard := d.cfg.Thresholds.ResponseHardTokens
	warn := d.cfg.Thresholds.ResponseWarnTokens
	tokens := estimateTokens(result.Content)

	if hard > 0 && tokens > hard {
		if !d.cfg.Thresholds.AutoTruncate {
			if d.metrics != nil {
				d.metrics.ToolResultTruncations.WithLabelValues(toolName, "declined").Inc()
			}
			return &ResponseTooLargeError{Tool: toolName, Tokens: tokens, Limit: hard}
		}

		runes := []rune(result.Content)
		cut := tokens - hard
		marker := fmt.Sprintf("\n[truncated %d tokens]", cut)
		// The marker counts against the hard limit too, so the kept head
		// shrinks by its estimated size.
		keep := (hard - estimateTokens(marker)) * 4
		if keep < 0 {
			keep = 0
		}
		if keep > len(runes) {
			keep = len(runes)
		}
		result.Content = string(runes[:keep]) + marker
		result.Truncated = true
		if d.metrics != nil {
			d.metrics.ToolResultTruncations.WithLabelValues(toolName, "truncated").Inc()
		}
		log.Warn().
			Str("tool", toolName).
			Int("tokens", tokens).
			Int("limit", hard).
			Msg("Oversized tool result truncated")
		return nil
	}

	if warn > 0 && tokens > warn {
		result.Content += fmt.Sprintf("\n[note: large result, %d tokens]", tokens)
	}
	return nil
}

func (d *Dispatcher) countExecution(tool, server, status string) {
	if d.metrics != nil {
		d.metrics.ToolExecutionsTotal.WithLabelValues(tool, server, status).Inc()
	}
}

// validateArguments checks a call's arguments against the tool's JSON
// schema. Returns a human-readable message on failure, empty on
// success or when the tool declares no schema.
func validateArguments(def *ToolDefinition, args map[string]interface{}) string {
	if len(def.InputSchema) == 0 {
		return ""
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(def.InputSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		// A broken schema is the server's fault; don't block the call.
		log.Warn().Str("tool", def.Name).Err(err).Msg("Tool schema is invalid, skipping validation")
		return ""
	}
	if result.Valid() {
		return ""
	}

	msg := "invalid arguments for " + def.Name + ":"
	for _, e := range result.Errors() {
		msg += "\n- " + e.String()
	}
	return msg
}

// estimateTokens mirrors the transcript estimator: one token per four
// characters.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}
