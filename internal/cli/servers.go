package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/internal/metrics"
	"github.com/strata-dev/strata/pkg/mcp"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Show tool server health",
	Long: `Start every configured tool server, ping it and report its health
state, restart count and last error.`,
	RunE: runServers,
}

func init() {
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, args []string) error {
	cfg, lg, err := loadConfig()
	if err != nil {
		return err
	}
	defer lg.Close()

	registry, err := mcp.NewRegistry(cfg.Servers, metrics.NewMetrics())
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	for _, server := range cfg.Servers {
		// Acquire starts the server; failures show up in the report.
		_, _ = registry.Acquire(ctx, server.Name)
	}
	registry.CheckHealth(ctx)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-20s %-10s %-9s %s\n", "SERVER", "STATE", "RESTARTS", "LAST ERROR")
	for _, h := range registry.Health() {
		lastErr := h.LastErr
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(out, "%-20s %-10s %-9d %s\n", h.Name, h.State, h.Restarts, lastErr)
	}
	return nil
}
