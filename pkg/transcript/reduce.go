package transcript

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Reduce collapses the whole transcript into a single cache-marked
// summary turn. The token counter restarts from the summary alone.
// Reducing an already reduced transcript simply replaces the summary.
func (m *Manager) Reduce(summary string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.messages)

	msg := Message{
		Role:      RoleUser,
		Content:   summary,
		Cached:    true,
		Timestamp: time.Now(),
	}
	msg.tokens = MessageTokens(msg)
	m.messages = []Message{msg}

	log.Info().
		Int("removed", removed).
		Int("tokens", msg.tokens).
		Msg("Context reduced")

	return removed
}
