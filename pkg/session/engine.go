package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/strata-dev/strata/internal/config"
	"github.com/strata-dev/strata/internal/metrics"
	"github.com/strata-dev/strata/pkg/cost"
	"github.com/strata-dev/strata/pkg/layers"
	"github.com/strata-dev/strata/pkg/mcp"
	"github.com/strata-dev/strata/pkg/provider"
	"github.com/strata-dev/strata/pkg/transcript"
)

// State is the engine's lifecycle phase for the current turn.
type State string

const (
	StateIdle          State = "idle"
	StateDispatching   State = "dispatching"
	StateToolExecuting State = "tool-executing"
	StateCancelling    State = "cancelling"
)

// maxToolRounds bounds how many tool batches one turn may run.
const maxToolRounds = 25

// ChainRunner runs a layer chain over working text.
type ChainRunner interface {
	RunChain(ctx context.Context, layerNames []string, in layers.Input) (*layers.ChainResult, error)
}

// TurnResult is what one completed turn hands back to the caller.
type TurnResult struct {
	Reply string

	// SpendAlert is set when session spend crossed another multiple of
	// the configured threshold during this turn.
	SpendAlert bool
	SpendUSD   float64

	// Exit is set by the exit commands.
	Exit bool
}

// Engine drives one interactive session: a turn loop of model calls
// and tool batches over a managed transcript.
type Engine struct {
	cfg          *config.Config
	role         *config.RoleConfig
	providers    layers.ProviderResolver
	tools        layers.ToolRunner
	chains       ChainRunner
	transcript   *transcript.Manager
	store        *transcript.Store
	tracker      *cost.Tracker
	metrics      *metrics.Metrics
	sessionID    string
	lastCacheAdd time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Options wires an engine's dependencies.
type Options struct {
	Config    *config.Config
	RoleName  string
	Providers layers.ProviderResolver
	Tools     layers.ToolRunner
	Chains    ChainRunner
	Store     *transcript.Store
	Tracker   *cost.Tracker
	Metrics   *metrics.Metrics

	// SessionID resumes an existing session instead of creating one.
	SessionID string
}

// New creates a session engine for the named role.
func New(opts Options) (*Engine, error) {
	role := opts.Config.Role(opts.RoleName)
	if role == nil {
		return nil, fmt.Errorf("unknown role %q", opts.RoleName)
	}

	sessionID := opts.SessionID
	resuming := sessionID != ""
	if sessionID == "" {
		id, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 12)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session id: %w", err)
		}
		sessionID = id
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = cost.NewTracker()
	}

	e := &Engine{
		cfg:        opts.Config,
		role:       role,
		providers:  opts.Providers,
		tools:      opts.Tools,
		chains:     opts.Chains,
		transcript: transcript.NewManager(opts.Config.Thresholds),
		store:      opts.Store,
		tracker:    tracker,
		metrics:    opts.Metrics,
		sessionID:  sessionID,
		state:      StateIdle,
	}

	if resuming && e.store != nil {
		messages, err := e.store.Load(sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to resume session %s: %w", sessionID, err)
		}
		for _, msg := range messages {
			e.transcript.Append(msg)
		}
		log.Info().Str("session", sessionID).Int("messages", len(messages)).Msg("Session resumed")
	}

	if e.metrics != nil && !resuming {
		e.metrics.SessionsTotal.Inc()
	}

	return e, nil
}

// ID returns the session identifier.
func (e *Engine) ID() string { return e.sessionID }

// Messages returns a copy of the session transcript.
func (e *Engine) Messages() []transcript.Message { return e.transcript.Messages() }

// RoleName returns the active role.
func (e *Engine) RoleName() string { return e.role.Name }

// State returns the engine's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Welcome renders the role's welcome template.
func (e *Engine) Welcome() string {
	if e.role.Welcome == "" {
		return ""
	}
	return layers.ExpandTemplate(e.role.Welcome, map[string]string{
		"session": e.sessionID,
		"role":    e.role.Name,
		"model":   e.role.Model,
	})
}

// Cancel aborts the turn in flight, if any. The turn unwinds
// cooperatively and discards partial tool results.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.state = StateCancelling
		e.cancel()
	}
}

// HandleInput processes one line of user input: a slash command or a
// conversation turn.
func (e *Engine) HandleInput(ctx context.Context, input string) (*TurnResult, error) {
	if isCommand(input) {
		return e.runCommand(ctx, input)
	}
	return e.Turn(ctx, input)
}

// Turn runs one full conversation turn: layer pre-processing, then the
// model/tool loop until the model answers in text.
func (e *Engine) Turn(ctx context.Context, userInput string) (*TurnResult, error) {
	ctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.finish()

	turnID := uuid.NewString()
	log.Debug().Str("session", e.sessionID).Str("turn", turnID).Msg("Turn started")

	text := userInput
	var chainMsgs []transcript.Message
	if e.role.EnableLayers && len(e.role.Layers) > 0 && e.chains != nil {
		chain, err := e.chains.RunChain(ctx, e.role.Layers, layers.Input{
			SessionModel: e.role.Model,
			Text:         userInput,
			Transcript:   e.transcript.Messages(),
		})
		if err != nil {
			return nil, e.unwind(err)
		}
		text = chain.Text
		chainMsgs = chain.Appended
	}

	if len(chainMsgs) > 0 {
		// Append layers already spoke as the assistant; the raw input
		// becomes the user turn so nothing is said twice.
		for _, msg := range chainMsgs {
			e.append(msg)
		}
		e.append(transcript.NewUserMessage(userInput))
	} else {
		e.append(transcript.NewUserMessage(text))
	}

	reply, err := e.completionLoop(ctx, cost.ScopeSession)
	if err != nil {
		return nil, e.unwind(err)
	}
	log.Debug().Str("session", e.sessionID).Str("turn", turnID).Msg("Turn completed")

	result := &TurnResult{Reply: reply, SpendUSD: e.tracker.TotalUSD()}
	if e.tracker.CrossedThreshold(e.cfg.Thresholds.SpendThresholdUSD) {
		result.SpendAlert = true
	}
	return result, nil
}

// completionLoop calls the model, executes requested tool batches and
// repeats until a plain text answer arrives.
func (e *Engine) completionLoop(ctx context.Context, costScope string) (string, error) {
	p, model, err := e.providers.ForModel(e.role.Model)
	if err != nil {
		return "", err
	}

	scope := e.scope()
	var tools []mcp.ToolDefinition
	if e.tools != nil {
		tools = e.tools.Tools(ctx, scope)
	}

	for round := 0; round < maxToolRounds; round++ {
		e.setState(StateDispatching)
		e.maintainCacheBoundary()

		if report := e.transcript.MaybeTruncate(); report.Applied {
			if e.metrics != nil {
				e.metrics.TranscriptTruncations.Inc()
			}
			e.persistAll()
		}

		request := provider.Request{
			Model:        model,
			SystemPrompt: e.systemPrompt(),
			Messages:     e.transcript.Messages(),
			Tools:        tools,
			Temperature:  e.role.EffectiveTemperature(0),
			MaxTokens:    e.role.MaxTokens,
		}

		start := time.Now()
		response, err := provider.CompleteWithRetry(ctx, p, request, 3)
		if e.metrics != nil {
			e.metrics.ProviderRequestDuration.WithLabelValues(p.Name(), model).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			e.observeProviderError(p.Name(), model, err)
			return "", err
		}
		e.recordUsage(p.Name(), model, costScope, response.Usage)

		if len(response.ToolCalls) == 0 {
			e.append(transcript.NewAssistantMessage(response.Content, nil))
			return response.Content, nil
		}

		if e.tools == nil {
			return "", fmt.Errorf("model requested %d tools but no tool runner is configured", len(response.ToolCalls))
		}
		e.append(transcript.NewAssistantMessage(response.Content, response.ToolCalls))

		e.setState(StateToolExecuting)
		results, err := e.tools.ExecuteBatch(ctx, response.ToolCalls, scope)
		if err != nil {
			return "", err
		}
		for i, result := range results {
			e.append(transcript.NewToolMessage(result, response.ToolCalls[i].Name))
		}
	}

	return "", fmt.Errorf("turn exceeded %d tool rounds", maxToolRounds)
}

// scope is the session's tool access policy, from the role.
func (e *Engine) scope() mcp.Scope {
	return mcp.Scope{ServerRefs: e.role.ServerRefs, AllowedTools: e.role.AllowedTools}
}

func (e *Engine) systemPrompt() string {
	prompt := e.role.SystemPrompt
	if e.role.CustomInstructions != "" {
		prompt += "\n\n" + e.role.CustomInstructions
	}
	return prompt
}

// maintainCacheBoundary advances the cache marker once enough new
// tokens have accumulated, rate-limited by the cache timeout so
// markers are not churned faster than provider caches live.
func (e *Engine) maintainCacheBoundary() {
	threshold := e.cfg.Thresholds.CacheTokens
	if threshold == 0 {
		return
	}
	if e.transcript.TokensSinceCacheBoundary() < threshold {
		return
	}
	minInterval := time.Duration(e.cfg.Thresholds.CacheTimeoutSeconds) * time.Second
	if minInterval > 0 && time.Since(e.lastCacheAdd) < minInterval && !e.lastCacheAdd.IsZero() {
		return
	}
	if _, ok := e.transcript.MarkCacheBoundary(); ok {
		e.lastCacheAdd = time.Now()
	}
}

// begin transitions Idle -> Dispatching and installs the turn's cancel
// function. A second concurrent turn is refused.
func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return nil, fmt.Errorf("session is busy (%s)", e.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = StateDispatching
	return ctx, nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	// Cancelling sticks until the turn unwinds.
	if e.state != StateCancelling {
		e.state = s
	}
	e.mu.Unlock()
}

func (e *Engine) finish() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.state = StateIdle
	e.mu.Unlock()
}

// unwind cleans up after a failed or cancelled turn. Cancellation
// prunes any dangling tool request so the transcript stays coherent.
func (e *Engine) unwind(err error) error {
	if errors.Is(err, context.Canceled) {
		if removed := e.transcript.PruneIncompleteExchange(); removed > 0 {
			log.Info().Int("removed", removed).Msg("Discarded partial tool exchange after cancel")
			e.persistAll()
		}
	}
	return err
}

// append adds a message to the transcript and persists it.
func (e *Engine) append(msg transcript.Message) {
	e.transcript.Append(msg)
	if e.store != nil {
		if err := e.store.Append(e.sessionID, msg); err != nil {
			log.Warn().Str("session", e.sessionID).Err(err).Msg("Failed to persist message")
		}
	}
}

// persistAll rewrites the stored transcript to match memory, after
// truncation, reduction or pruning.
func (e *Engine) persistAll() {
	if e.store == nil {
		return
	}
	if err := e.store.Rewrite(e.sessionID, e.transcript.Messages()); err != nil {
		log.Warn().Str("session", e.sessionID).Err(err).Msg("Failed to rewrite session file")
	}
}

func (e *Engine) recordUsage(providerName, model, scope string, usage provider.Usage) {
	costUSD := e.tracker.Add(providerName, model, scope, usage)
	if e.metrics != nil {
		e.metrics.ProviderRequestsTotal.WithLabelValues(providerName, model, "success").Inc()
		e.metrics.TokensTotal.WithLabelValues(providerName, model, "input").Add(float64(usage.InputTokens))
		e.metrics.TokensTotal.WithLabelValues(providerName, model, "output").Add(float64(usage.OutputTokens))
		e.metrics.CostUSDTotal.WithLabelValues(providerName, model).Add(costUSD)
	}
}

func (e *Engine) observeProviderError(providerName, model string, err error) {
	if e.metrics == nil {
		return
	}
	var perr *provider.Error
	kind := "unknown"
	if errors.As(err, &perr) {
		kind = string(perr.Kind)
	}
	e.metrics.ProviderRequestsTotal.WithLabelValues(providerName, model, "error").Inc()
	e.metrics.ProviderErrorsTotal.WithLabelValues(providerName, kind).Inc()
}
