package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiliankoe/babyguess/internal/application"
)

var repairCmd = &cobra.Command{
	Use:   "repair [prefix...]",
	Short: "Delete stored keys whose values no longer decode",
	Long: `Scans the keys under the configured KEY_PREFIX (or only the given
logical prefixes, e.g. "session" or "votes") and deletes every key whose
value is not valid JSON.`,
	RunE: runRepair,
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores := application.OpenStores(cfg)
	defer stores.Close()

	removed, err := stores.KV.Repair(cmd.Context(), args...)
	for _, k := range removed {
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", k)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d corrupt keys removed\n", len(removed))
	return nil
}
