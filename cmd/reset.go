package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiliankoe/babyguess/internal/application"
	"github.com/kiliankoe/babyguess/internal/model"
)

var resetKind string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the game state (soft keeps the roster, hard clears everything)",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetKind, "kind", string(model.ResetSoft), "reset kind: soft or hard")
}

// runReset works directly on the store; a running server notices the reset on
// its next read, and its stale timers are ignored by the session id checks.
func runReset(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores := application.OpenStores(cfg)
	defer stores.Close()

	m := application.NewManager(cfg, stores, nil, nil)
	cleared, err := m.ResetGame(cmd.Context(), model.ResetKind(resetKind))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s reset, cleared: %s\n", resetKind, strings.Join(cleared, ", "))
	return nil
}
