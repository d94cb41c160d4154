package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strata-dev/strata/internal/config"
	"github.com/strata-dev/strata/internal/metrics"
)

// handle tracks one server's transport and lifecycle state.
type handle struct {
	cfg       config.ServerConfig
	transport Transport

	mu       sync.Mutex
	state    HealthState
	started  bool
	restarts int
	lastErr  error
}

// Registry owns every configured tool server. Servers start lazily on
// first acquire and are restarted by the health monitor when they
// fail, up to their retry budget.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*handle
	metrics *metrics.Metrics
}

// NewRegistry builds transports for every configured server. Nothing
// is started yet.
func NewRegistry(servers []config.ServerConfig, m *metrics.Metrics) (*Registry, error) {
	r := &Registry{
		handles: make(map[string]*handle, len(servers)),
		metrics: m,
	}

	for _, s := range servers {
		timeout := time.Duration(s.TimeoutSeconds) * time.Second

		var transport Transport
		var err error
		switch s.Kind {
		case config.ServerKindBuiltin:
			transport, err = NewBuiltinTransport(s.Name, timeout)
		case config.ServerKindStdio:
			transport = NewStdioTransport(s.Name, s.Command, s.Args, timeout)
		case config.ServerKindHTTP:
			transport = NewHTTPTransport(s.Name, s.URL, s.AuthToken, timeout)
		default:
			err = fmt.Errorf("unknown server kind %q", s.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", s.Name, err)
		}

		r.handles[s.Name] = &handle{
			cfg:       s,
			transport: transport,
			state:     HealthStarting,
		}
	}

	return r, nil
}

// Acquire returns a started transport for the named server, starting
// it on first use. A server past its restart budget stays dead until
// the process restarts.
func (r *Registry) Acquire(ctx context.Context, name string) (Transport, error) {
	r.mu.RLock()
	h, ok := r.handles[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no server named %s", ErrServerUnavailable, name)
	}

	// Fast path: already running.
	h.mu.Lock()
	if h.started {
		defer h.mu.Unlock()
		return h.transport, nil
	}
	if h.state == HealthDead {
		defer h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is dead: %v", ErrServerUnavailable, name, h.lastErr)
	}
	h.mu.Unlock()

	return r.start(ctx, h)
}

// start brings a server up, retrying within its budget. The handle
// lock is held across the whole attempt so concurrent acquirers of the
// same server wait instead of double-starting it.
func (r *Registry) start(ctx context.Context, h *handle) (Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Double-check: someone else may have started it while we waited.
	if h.started {
		return h.transport, nil
	}
	if h.state == HealthDead {
		return nil, fmt.Errorf("%w: %s is dead: %v", ErrServerUnavailable, h.cfg.Name, h.lastErr)
	}

	attempts := h.cfg.MaxStartRetries
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := h.transport.Start(ctx); err != nil {
			lastErr = err
			h.restarts++
			log.Warn().
				Str("server", h.cfg.Name).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Tool server start failed")
			if r.metrics != nil {
				r.metrics.ServerRestartsTotal.WithLabelValues(h.cfg.Name).Inc()
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		h.started = true
		h.state = HealthHealthy
		h.lastErr = nil
		return h.transport, nil
	}

	h.state = HealthDead
	h.lastErr = lastErr
	return nil, fmt.Errorf("%w: %s: %v", ErrServerUnavailable, h.cfg.Name, lastErr)
}

// MarkDegraded records a runtime failure against a server. The health
// monitor decides whether to restart it.
func (r *Registry) MarkDegraded(name string, err error) {
	r.mu.RLock()
	h, ok := r.handles[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == HealthHealthy {
		h.state = HealthDegraded
	}
	h.lastErr = err
}

// CheckHealth pings every running server and restarts the ones that
// fail, within their retry budgets.
func (r *Registry) CheckHealth(ctx context.Context) {
	r.mu.RLock()
	handles := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	healthy := 0
	for _, h := range handles {
		h.mu.Lock()
		started := h.started
		name := h.cfg.Name
		h.mu.Unlock()
		if !started {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := h.transport.ListTools(pingCtx)
		cancel()

		h.mu.Lock()
		if err != nil {
			h.state = HealthDegraded
			h.lastErr = err
			h.started = false
			h.restarts++
			maxRetries := h.cfg.MaxStartRetries
			if maxRetries <= 0 {
				maxRetries = 3
			}
			if h.restarts > maxRetries {
				h.state = HealthDead
			}
			h.mu.Unlock()

			log.Warn().Str("server", name).Err(err).Msg("Health check failed, stopping server")
			h.transport.Stop()
			if r.metrics != nil {
				r.metrics.ServerRestartsTotal.WithLabelValues(name).Inc()
			}
			continue
		}
		h.state = HealthHealthy
		h.lastErr = nil
		h.mu.Unlock()
		healthy++
	}

	if r.metrics != nil {
		r.metrics.ServersHealthy.Set(float64(healthy))
	}
}

// Health reports the state of every configured server in name order.
func (r *Registry) Health() []ServerHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerHealth, 0, len(r.handles))
	for _, h := range r.handles {
		h.mu.Lock()
		report := ServerHealth{
			Name:     h.cfg.Name,
			State:    h.state,
			Restarts: h.restarts,
		}
		if h.lastErr != nil {
			report.LastErr = h.lastErr.Error()
		}
		h.mu.Unlock()
		out = append(out, report)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown stops every running server.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handles {
		h.mu.Lock()
		started := h.started
		h.started = false
		h.mu.Unlock()
		if started {
			if err := h.transport.Stop(); err != nil {
				log.Warn().Str("server", h.cfg.Name).Err(err).Msg("Server shutdown failed")
			}
		}
	}
	log.Info().Msg("Tool servers stopped")
}
