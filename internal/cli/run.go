package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/internal/metrics"
	"github.com/strata-dev/strata/pkg/cost"
	"github.com/strata-dev/strata/pkg/layers"
	"github.com/strata-dev/strata/pkg/mcp"
	"github.com/strata-dev/strata/pkg/provider"
	"github.com/strata-dev/strata/pkg/session"
	"github.com/strata-dev/strata/pkg/transcript"
)

var (
	runRole        string
	runSessionName string
	metricsAddr    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive session",
	Long: `Start an interactive session with the configured assistant.
Type /help inside the session for the available commands. Ctrl-C
cancels the response in flight; /exit leaves the session.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRole, "role", "assistant", "role to run the session as")
	runCmd.Flags().StringVar(&runSessionName, "name", "", "resume a persisted session by name")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, lg, err := loadConfig()
	if err != nil {
		return err
	}
	defer lg.Close()

	m := metrics.NewMetrics()
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}

	registry, err := mcp.NewRegistry(cfg.Servers, m)
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	monitor := mcp.NewHealthMonitor(registry, "")
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	store, err := transcript.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}

	factory := provider.NewFactory(cfg.Providers)
	dispatcher := mcp.NewDispatcher(cfg, registry, m)
	tracker := cost.NewTracker()
	orchestrator := layers.NewOrchestrator(cfg, factory, dispatcher, tracker, m)

	engine, err := session.New(session.Options{
		Config:    cfg,
		RoleName:  runRole,
		Providers: factory,
		Tools:     dispatcher,
		Chains:    orchestrator,
		Store:     store,
		Tracker:   tracker,
		Metrics:   m,
		SessionID: runSessionName,
	})
	if err != nil {
		return err
	}

	m.SessionsActive.Inc()
	defer m.SessionsActive.Dec()

	return repl(cmd.Context(), engine, cmd.OutOrStdout())
}

// repl runs the read/eval loop until /exit or EOF. SIGINT cancels the
// turn in flight instead of killing the process.
func repl(ctx context.Context, engine *session.Engine, out io.Writer) error {
	if welcome := engine.Welcome(); welcome != "" {
		fmt.Fprintln(out, welcome)
	}
	fmt.Fprintf(out, "Session %s. Type /help for commands.\n", engine.ID())

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			engine.Cancel()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		result, err := engine.HandleInput(ctx, input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "(cancelled)")
				continue
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		if result.Reply != "" {
			fmt.Fprintln(out, result.Reply)
		}
		if result.Exit {
			return nil
		}
		if result.SpendAlert {
			fmt.Fprintf(out, "Spend has reached $%.2f this session. Continue? [y/N] ", result.SpendUSD)
			if !scanner.Scan() {
				return scanner.Err()
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if answer != "y" && answer != "yes" {
				fmt.Fprintln(out, "Stopping at your request.")
				return nil
			}
		}
	}
}
