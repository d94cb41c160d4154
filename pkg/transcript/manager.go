package transcript

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/strata-dev/strata/internal/config"
)

// Manager owns the in-memory conversation transcript for one session.
// It enforces the request token budget, places cache boundaries and
// performs context reduction. The system prompt is not part of the
// transcript; callers prepend it per request.
type Manager struct {
	mu       sync.Mutex
	messages []Message
	limits   config.Thresholds
}

// TruncationReport describes what a truncation pass removed.
type TruncationReport struct {
	Applied          bool
	RemovedMessages  int
	TruncatedInPlace bool
}

// NewManager creates a transcript manager with the given limits.
func NewManager(limits config.Thresholds) *Manager {
	return &Manager{limits: limits}
}

// Append adds a message to the transcript, stamping its token estimate.
func (m *Manager) Append(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.tokens = MessageTokens(msg)
	m.messages = append(m.messages, msg)
}

// Messages returns a copy of the transcript.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages in the transcript.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// TotalTokens returns the estimated token cost of the transcript.
func (m *Manager) TotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTokensLocked()
}

func (m *Manager) totalTokensLocked() int {
	total := 0
	for i := range m.messages {
		if m.messages[i].tokens == 0 {
			m.messages[i].tokens = MessageTokens(m.messages[i])
		}
		total += m.messages[i].tokens
	}
	return total
}

// MaybeTruncate brings the transcript back under the request token
// budget. Whole exchanges are removed oldest-first; a tool result is
// never separated from the assistant turn that requested it. When a
// single oversized exchange remains, the oldest message's content is
// cut in place instead. Calling it on a transcript already under
// budget does nothing.
func (m *Manager) MaybeTruncate() TruncationReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := m.limits.MaxRequestTokens
	if limit == 0 {
		return TruncationReport{}
	}

	total := m.totalTokensLocked()
	if total <= limit {
		return TruncationReport{}
	}

	report := TruncationReport{Applied: true}

	// Drop whole exchanges oldest-first while more than one remains.
	for total > limit {
		end := m.firstExchangeEndLocked()
		if end >= len(m.messages) {
			break // single exchange left, cut in place below
		}
		for _, msg := range m.messages[:end] {
			total -= msg.tokens
		}
		report.RemovedMessages += end
		m.messages = append(m.messages[:0], m.messages[end:]...)
	}

	// Tie-break: cut the oldest message's content in place until the
	// transcript fits.
	for i := 0; i < len(m.messages) && total > limit; i++ {
		msg := &m.messages[i]
		excess := total - limit
		// Cut a little extra to cover the marker text appended below.
		cutTokens := excess + 8
		if cutTokens > EstimateTokens(msg.Content) {
			cutTokens = EstimateTokens(msg.Content)
		}
		if cutTokens == 0 {
			continue
		}

		runes := []rune(msg.Content)
		keep := len(runes) - cutTokens*4
		if keep < 0 {
			keep = 0
		}
		msg.Content = string(runes[:keep]) + fmt.Sprintf("\n[truncated %d tokens]", cutTokens)
		before := msg.tokens
		msg.tokens = MessageTokens(*msg)
		total += msg.tokens - before
		report.TruncatedInPlace = true
	}

	log.Debug().
		Int("removed", report.RemovedMessages).
		Bool("in_place", report.TruncatedInPlace).
		Int("tokens", total).
		Msg("Transcript truncated")

	return report
}

// firstExchangeEndLocked returns the index one past the oldest
// exchange: the oldest message plus everything up to the next user
// turn. Tool results stay glued to the assistant turn that requested
// them.
func (m *Manager) firstExchangeEndLocked() int {
	if len(m.messages) == 0 {
		return 0
	}
	for i := 1; i < len(m.messages); i++ {
		if m.messages[i].Role == RoleUser {
			return i
		}
	}
	return len(m.messages)
}

// PruneIncompleteExchange removes a trailing assistant tool request
// whose results never fully arrived, along with any partial results.
// Used after cancellation so the transcript never carries orphaned
// tool calls.
func (m *Manager) PruneIncompleteExchange() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Find the last assistant turn with tool calls.
	last := -1
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].HasToolCalls() {
			last = i
			break
		}
		if m.messages[i].Role == RoleUser || m.messages[i].Role == RoleAssistant {
			return 0 // transcript ends in a complete turn
		}
	}
	if last == -1 {
		return 0
	}

	results := 0
	for i := last + 1; i < len(m.messages); i++ {
		if m.messages[i].Role == RoleTool {
			results++
		}
	}
	if results == len(m.messages[last].ToolCalls) {
		return 0 // exchange is complete
	}

	removed := len(m.messages) - last
	m.messages = m.messages[:last]
	return removed
}
