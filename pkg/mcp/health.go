package mcp

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// defaultHealthSchedule pings servers every 30 seconds.
const defaultHealthSchedule = "@every 30s"

// HealthMonitor periodically pings running servers and stops the ones
// that fail repeatedly so the next Acquire starts them fresh. It never
// restarts a server itself.
type HealthMonitor struct {
	registry *Registry
	cron     *cron.Cron
	schedule string
}

// NewHealthMonitor creates a monitor for the registry. An empty
// schedule uses the 30 second default.
func NewHealthMonitor(registry *Registry, schedule string) *HealthMonitor {
	if schedule == "" {
		schedule = defaultHealthSchedule
	}
	return &HealthMonitor{
		registry: registry,
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start begins periodic health checks.
func (m *HealthMonitor) Start() error {
	_, err := m.cron.AddFunc(m.schedule, func() {
		m.registry.CheckHealth(context.Background())
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	log.Info().Str("schedule", m.schedule).Msg("Server health monitor started")
	return nil
}

// Stop halts the checks, waiting for a running check to finish.
func (m *HealthMonitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}
