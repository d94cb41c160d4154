package transcript

// maxCacheMarkers bounds how many cache boundaries the transcript
// carries. Two markers give providers one stable prefix and one moving
// tail boundary.
const maxCacheMarkers = 2

// MarkCacheBoundary places a cache boundary on the newest message that
// closes a complete exchange. A boundary never lands between an
// assistant tool request and its results. When the marker budget is
// full the oldest boundary is cleared first. Returns the marked index,
// or false when no eligible position exists.
func (m *Manager) MarkCacheBoundary() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.lastCompleteIndexLocked()
	if idx < 0 {
		return 0, false
	}
	if m.messages[idx].Cached {
		return idx, true
	}

	boundaries := m.cacheBoundariesLocked()
	if len(boundaries) >= maxCacheMarkers {
		m.messages[boundaries[0]].Cached = false
	}
	m.messages[idx].Cached = true
	return idx, true
}

// CacheBoundaries returns the indices of all cache-marked messages in
// order.
func (m *Manager) CacheBoundaries() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheBoundariesLocked()
}

// TokensSinceCacheBoundary returns the estimated tokens accumulated
// after the newest cache boundary. With no boundary it equals the
// whole transcript.
func (m *Manager) TokensSinceCacheBoundary() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if b := m.cacheBoundariesLocked(); len(b) > 0 {
		start = b[len(b)-1] + 1
	}
	total := 0
	for i := start; i < len(m.messages); i++ {
		if m.messages[i].tokens == 0 {
			m.messages[i].tokens = MessageTokens(m.messages[i])
		}
		total += m.messages[i].tokens
	}
	return total
}

func (m *Manager) cacheBoundariesLocked() []int {
	var out []int
	for i := range m.messages {
		if m.messages[i].Cached {
			out = append(out, i)
		}
	}
	return out
}

// lastCompleteIndexLocked finds the newest index whose prefix contains
// no dangling tool calls.
func (m *Manager) lastCompleteIndexLocked() int {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.prefixCompleteLocked(i) {
			return i
		}
	}
	return -1
}

// prefixCompleteLocked reports whether messages[0..i] pairs every
// assistant tool call with a tool result inside the same prefix.
func (m *Manager) prefixCompleteLocked(i int) bool {
	pending := make(map[string]bool)
	for j := 0; j <= i; j++ {
		msg := &m.messages[j]
		if msg.HasToolCalls() {
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
		}
		if msg.Role == RoleTool {
			delete(pending, msg.ToolCallID)
		}
	}
	return len(pending) == 0
}
