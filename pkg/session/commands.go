package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/strata-dev/strata/pkg/cost"
	"github.com/strata-dev/strata/pkg/layers"
	"github.com/strata-dev/strata/pkg/provider"
	"github.com/strata-dev/strata/pkg/transcript"
)

// reducePrompt drives the context reduction summary call.
const reducePrompt = "Summarize the conversation below for your own future reference. " +
	"Preserve decisions made, open tasks, file paths and any constraints the user stated. " +
	"Write a compact summary, not a transcript."

// isCommand reports whether an input line is a slash command.
func isCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// runCommand dispatches a slash command line: built-ins first, then
// custom commands from configuration.
func (e *Engine) runCommand(ctx context.Context, line string) (*TurnResult, error) {
	name, args := splitCommand(line)

	switch name {
	case "exit", "quit":
		return &TurnResult{Reply: "Bye.", Exit: true}, nil
	case "help":
		return &TurnResult{Reply: e.helpText()}, nil
	case "history":
		return &TurnResult{Reply: e.historyText()}, nil
	case "usage":
		return &TurnResult{Reply: e.usageText()}, nil
	case "cache":
		return &TurnResult{Reply: e.cacheCommand()}, nil
	case "reduce":
		return e.reduce(ctx)
	case "role":
		return e.roleCommand(args)
	case "clear":
		return e.clear()
	}

	if cmd := e.cfg.Command(name); cmd != nil {
		return e.runCustomCommand(ctx, cmd.Name, args)
	}

	return &TurnResult{Reply: fmt.Sprintf("Unknown command /%s. Try /help.", name)}, nil
}

// splitCommand parses "/name rest of line" into name and arguments.
func splitCommand(line string) (string, string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, args, _ := strings.Cut(line, " ")
	return name, strings.TrimSpace(args)
}

func (e *Engine) helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	sb.WriteString("  /help             show this help\n")
	sb.WriteString("  /history          show the conversation so far\n")
	sb.WriteString("  /usage            show token usage and spend\n")
	sb.WriteString("  /cache            show cache boundary state\n")
	sb.WriteString("  /reduce           compress the conversation into a summary\n")
	sb.WriteString("  /role [name]      show or switch the active role\n")
	sb.WriteString("  /clear            start the conversation over\n")
	sb.WriteString("  /exit, /quit      leave the session\n")

	if len(e.cfg.Commands) > 0 {
		sb.WriteString("\nCustom commands:\n")
		names := make([]string, 0, len(e.cfg.Commands))
		for _, cmd := range e.cfg.Commands {
			names = append(names, cmd.Name)
		}
		sort.Strings(names)
		for _, name := range names {
			sb.WriteString("  /" + name + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (e *Engine) historyText() string {
	messages := e.transcript.Messages()
	if len(messages) == 0 {
		return "No messages yet."
	}

	var sb strings.Builder
	for _, msg := range messages {
		switch {
		case msg.Role == transcript.RoleTool:
			fmt.Fprintf(&sb, "[tool %s] %s\n", msg.Name, excerpt(msg.Content, 120))
		case msg.HasToolCalls():
			names := make([]string, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				names[i] = tc.Name
			}
			fmt.Fprintf(&sb, "%s: (requested tools: %s)\n", msg.Role, strings.Join(names, ", "))
		default:
			fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (e *Engine) usageText() string {
	usage := e.tracker.TotalUsage()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tokens: %d in, %d out", usage.InputTokens, usage.OutputTokens)
	if usage.CacheReadTokens > 0 || usage.CacheWriteTokens > 0 {
		fmt.Fprintf(&sb, " (cache: %d read, %d written)", usage.CacheReadTokens, usage.CacheWriteTokens)
	}
	fmt.Fprintf(&sb, "\nSpend: $%.4f\n", e.tracker.TotalUSD())

	byScope := e.tracker.ByScope()
	if len(byScope) > 1 {
		scopes := make([]string, 0, len(byScope))
		for scope := range byScope {
			scopes = append(scopes, scope)
		}
		sort.Strings(scopes)
		sb.WriteString("By scope:\n")
		for _, scope := range scopes {
			fmt.Fprintf(&sb, "  %-20s $%.4f\n", scope, byScope[scope])
		}
	}
	fmt.Fprintf(&sb, "Transcript: %d messages, ~%d tokens", e.transcript.Len(), e.transcript.TotalTokens())
	return sb.String()
}

// cacheCommand places a cache boundary at the newest eligible position
// and reports the marker state.
func (e *Engine) cacheCommand() string {
	idx, ok := e.transcript.MarkCacheBoundary()
	if !ok {
		return "No eligible position for a cache boundary yet."
	}
	e.persistAll()
	return fmt.Sprintf("Cache boundary placed at message %d. Boundaries: %v, ~%d tokens since the newest.",
		idx, e.transcript.CacheBoundaries(), e.transcript.TokensSinceCacheBoundary())
}

// reduce compresses the transcript into a single summary message. The
// summary call is billed to its own scope so /usage shows what
// reduction costs.
func (e *Engine) reduce(ctx context.Context) (*TurnResult, error) {
	if e.transcript.Len() == 0 {
		return &TurnResult{Reply: "Nothing to reduce."}, nil
	}

	ctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.finish()

	p, model, err := e.providers.ForModel(e.role.Model)
	if err != nil {
		return nil, err
	}

	request := provider.Request{
		Model:        model,
		SystemPrompt: reducePrompt,
		Messages:     []transcript.Message{transcript.NewUserMessage(e.historyText())},
	}
	response, err := provider.CompleteWithRetry(ctx, p, request, 3)
	if err != nil {
		return nil, e.unwind(err)
	}
	e.recordUsage(p.Name(), model, cost.CommandScope("reduce"), response.Usage)

	removed := e.transcript.Reduce("Summary of the conversation so far:\n" + response.Content)
	if e.metrics != nil {
		e.metrics.ContextReductions.Inc()
	}
	e.persistAll()

	log.Info().Str("session", e.sessionID).Int("removed", removed).Msg("Context reduced")
	return &TurnResult{
		Reply:    fmt.Sprintf("Reduced %d messages into a summary (~%d tokens).", removed, e.transcript.TotalTokens()),
		SpendUSD: e.tracker.TotalUSD(),
	}, nil
}

// roleCommand shows the active role, or switches to another one. A
// switch keeps the transcript; only prompt, model and tool policy
// change.
func (e *Engine) roleCommand(args string) (*TurnResult, error) {
	if args == "" {
		names := make([]string, 0, len(e.cfg.Roles))
		for _, r := range e.cfg.Roles {
			names = append(names, r.Name)
		}
		sort.Strings(names)
		return &TurnResult{Reply: fmt.Sprintf("Active role: %s (model %s)\nAvailable: %s",
			e.role.Name, e.role.Model, strings.Join(names, ", "))}, nil
	}

	role := e.cfg.Role(args)
	if role == nil {
		return &TurnResult{Reply: fmt.Sprintf("Unknown role %q.", args)}, nil
	}
	e.mu.Lock()
	e.role = role
	e.mu.Unlock()
	log.Info().Str("session", e.sessionID).Str("role", role.Name).Msg("Role switched")
	return &TurnResult{Reply: fmt.Sprintf("Switched to role %s (model %s).", role.Name, role.Model)}, nil
}

// clear starts the conversation over in place: same session, empty
// transcript.
func (e *Engine) clear() (*TurnResult, error) {
	e.mu.Lock()
	e.transcript = transcript.NewManager(e.cfg.Thresholds)
	e.mu.Unlock()
	e.persistAll()
	return &TurnResult{Reply: "Conversation cleared."}, nil
}

// runCustomCommand executes a configured command's layer chain over the
// argument text. Ephemeral commands leave no trace in the transcript.
func (e *Engine) runCustomCommand(ctx context.Context, name, args string) (*TurnResult, error) {
	cmd := e.cfg.Command(name)
	if e.chains == nil {
		return nil, fmt.Errorf("command /%s needs a layer runner", name)
	}

	ctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.finish()

	chain, err := e.chains.RunChain(ctx, cmd.Layers, layers.Input{
		SessionModel: e.role.Model,
		Text:         args,
		Transcript:   e.transcript.Messages(),
		ScopeFor:     func(string) string { return cost.CommandScope(name) },
	})
	if err != nil {
		return nil, e.unwind(err)
	}
	output := chain.Text

	if !cmd.Ephemeral {
		e.append(transcript.NewUserMessage("/" + name + " " + args))
		for _, msg := range chain.Appended {
			e.append(msg)
		}
		e.append(transcript.NewAssistantMessage(output, nil))
	}

	result := &TurnResult{Reply: output, SpendUSD: e.tracker.TotalUSD()}
	if e.tracker.CrossedThreshold(e.cfg.Thresholds.SpendThresholdUSD) {
		result.SpendAlert = true
	}
	return result, nil
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
