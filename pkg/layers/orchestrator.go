package layers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strata-dev/strata/internal/config"
	"github.com/strata-dev/strata/internal/metrics"
	"github.com/strata-dev/strata/pkg/cost"
	"github.com/strata-dev/strata/pkg/mcp"
	"github.com/strata-dev/strata/pkg/provider"
	"github.com/strata-dev/strata/pkg/transcript"
)

// maxToolTurns bounds the tool loop inside a single layer.
const maxToolTurns = 5

// ProviderResolver resolves a "provider:model" id to a client.
type ProviderResolver interface {
	ForModel(modelID string) (provider.Provider, string, error)
}

// ToolRunner executes tool calls under a scope.
type ToolRunner interface {
	Tools(ctx context.Context, scope mcp.Scope) []mcp.ToolDefinition
	ExecuteBatch(ctx context.Context, calls []mcp.ToolCall, scope mcp.Scope) ([]mcp.ToolResult, error)
}

// Input carries what a chain run starts from.
type Input struct {
	// SessionModel is the fallback model for layers that name none.
	SessionModel string

	// Text is the working text the chain transforms.
	Text string

	// Transcript feeds layers running in full_transcript mode.
	Transcript []transcript.Message

	// Scope attributes the chain's spend, e.g. cost.LayerScope or
	// cost.CommandScope output.
	ScopeFor func(layerName string) string
}

// Orchestrator runs configured layer chains: a sequence of model calls
// that transform the working text before the main session call.
type Orchestrator struct {
	cfg       *config.Config
	providers ProviderResolver
	tools     ToolRunner
	tracker   *cost.Tracker
	metrics   *metrics.Metrics
}

// NewOrchestrator creates a layer chain runner.
func NewOrchestrator(cfg *config.Config, providers ProviderResolver, tools ToolRunner, tracker *cost.Tracker, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		providers: providers,
		tools:     tools,
		tracker:   tracker,
		metrics:   m,
	}
}

// ChainResult is what a chain run hands back: the final working text
// plus any messages the chain contributed to the conversation itself.
type ChainResult struct {
	// Text is the transformed working text after replace-mode layers.
	Text string

	// Appended holds assistant messages emitted by append-mode layers.
	// They precede the user's turn in the transcript.
	Appended []transcript.Message
}

// RunChain executes the named layers in strict order. A layer failure
// aborts the remaining chain and falls back to the raw input with any
// appended messages dropped, so the user is never blocked; only
// cancellation is an error.
func (o *Orchestrator) RunChain(ctx context.Context, layerNames []string, in Input) (*ChainResult, error) {
	text := in.Text
	var appended []transcript.Message

	// Chain context available to every layer's prompt template.
	// Completed layers contribute their output even in discard mode.
	vars := map[string]string{
		"original_input": in.Text,
		"model":          in.SessionModel,
	}

	for _, name := range layerNames {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		layer := o.cfg.Layer(name)
		if layer == nil {
			// Validation rejects unknown refs; this only happens when a
			// caller bypasses config.
			return nil, fmt.Errorf("unknown layer %s", name)
		}

		start := time.Now()
		output, err := o.runLayer(ctx, layer, text, vars, in)
		elapsed := time.Since(start)

		if o.metrics != nil {
			o.metrics.LayerRunDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.countRun(name, "error")
			log.Warn().Str("layer", name).Err(err).Msg("Layer failed, aborting chain")
			return &ChainResult{Text: in.Text}, nil
		}
		o.countRun(name, "success")
		vars["layer."+name] = output

		switch layer.OutputMode {
		case config.OutputReplace:
			text = output
		case config.OutputAppend:
			// Append layers speak in the conversation itself: their
			// output lands as an assistant message ahead of the user's
			// turn, leaving the working text alone.
			if output != "" {
				appended = append(appended, transcript.NewAssistantMessage(output, nil))
			}
		default:
			// discard: the layer ran for its side effects only
		}

		log.Debug().
			Str("layer", name).
			Str("output_mode", layer.OutputMode).
			Dur("elapsed", elapsed).
			Msg("Layer completed")
	}

	return &ChainResult{Text: text, Appended: appended}, nil
}

// runLayer executes one layer: build its input, then loop model calls
// and tool executions until the model answers in text.
func (o *Orchestrator) runLayer(ctx context.Context, layer *config.LayerConfig, text string, chainVars map[string]string, in Input) (string, error) {
	p, model, err := o.providers.ForModel(layer.EffectiveModel(in.SessionModel))
	if err != nil {
		return "", err
	}

	// Layer params shadow chain context on name collision.
	vars := make(map[string]string, len(chainVars)+len(layer.Params))
	for k, v := range chainVars {
		vars[k] = v
	}
	for k, v := range layer.Params {
		vars[k] = v
	}
	systemPrompt := ExpandTemplate(layer.SystemPrompt, vars)

	input := text
	if layer.InputMode == config.InputFullTranscript {
		input = renderTranscript(in.Transcript, text)
	}

	scope := mcp.Scope{ServerRefs: layer.ServerRefs, AllowedTools: layer.AllowedTools}
	var tools []mcp.ToolDefinition
	if len(layer.ServerRefs) > 0 && o.tools != nil {
		tools = o.tools.Tools(ctx, scope)
	}

	messages := []transcript.Message{transcript.NewUserMessage(input)}

	for turn := 0; turn < maxToolTurns; turn++ {
		request := provider.Request{
			Model:        model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        tools,
			Temperature:  layer.Temperature,
		}

		response, err := provider.CompleteWithRetry(ctx, p, request, 3)
		if err != nil {
			return "", err
		}

		costScope := cost.LayerScope(layer.Name)
		if in.ScopeFor != nil {
			costScope = in.ScopeFor(layer.Name)
		}
		if o.tracker != nil {
			o.tracker.Add(p.Name(), model, costScope, response.Usage)
		}
		if o.metrics != nil {
			o.metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), model, "success").Inc()
			o.metrics.TokensTotal.WithLabelValues(p.Name(), model, "input").Add(float64(response.Usage.InputTokens))
			o.metrics.TokensTotal.WithLabelValues(p.Name(), model, "output").Add(float64(response.Usage.OutputTokens))
		}

		if len(response.ToolCalls) == 0 {
			return response.Content, nil
		}

		messages = append(messages, transcript.NewAssistantMessage(response.Content, response.ToolCalls))
		results, err := o.tools.ExecuteBatch(ctx, response.ToolCalls, scope)
		if err != nil {
			return "", err
		}
		for i, result := range results {
			messages = append(messages, transcript.NewToolMessage(result, response.ToolCalls[i].Name))
		}
	}

	return "", fmt.Errorf("layer %s exceeded %d tool turns", layer.Name, maxToolTurns)
}

func (o *Orchestrator) countRun(layer, status string) {
	if o.metrics != nil {
		o.metrics.LayerRunsTotal.WithLabelValues(layer, status).Inc()
	}
}

// renderTranscript flattens the conversation for full_transcript
// layers, with the working text as the final user turn.
func renderTranscript(messages []transcript.Message, text string) string {
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Role == transcript.RoleTool {
			continue
		}
		if msg.Content == "" {
			continue
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	sb.WriteString(transcript.RoleUser)
	sb.WriteString(": ")
	sb.WriteString(text)
	return sb.String()
}
