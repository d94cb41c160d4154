package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/pkg/transcript"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions",
	RunE:  runSessions,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a persisted session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openStore() (*transcript.Store, func(), error) {
	cfg, lg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := transcript.NewStore(cfg.DataDir)
	if err != nil {
		lg.Close()
		return nil, nil, err
	}
	return store, func() { lg.Close() }, nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	sessions, err := store.List()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No persisted sessions.")
		return nil
	}

	sort.Strings(sessions)
	for _, name := range sessions {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s.\n", args[0])
	return nil
}
