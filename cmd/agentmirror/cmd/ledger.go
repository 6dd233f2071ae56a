package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"agentmirror/internal/infrastructure/svc"
)

var (
	ledgerAgent      string
	ledgerActiveOnly bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List ledger entries",
	Long: `List the executed entries recorded in the ledger, oldest first.

Examples:
  agentmirror ledger
  agentmirror ledger --agent qwen3-max --active`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return withService(cfg, func(ctx context.Context, sc *svc.ServiceContext) error {
			entries, err := sc.Ledger.ListEntries(ctx, ledgerAgent)
			if err != nil {
				return err
			}
			if ledgerActiveOnly {
				entries = activeOnly(entries)
			}
			return sc.Sink.WriteEntries(entries)
		})
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().StringVarP(&ledgerAgent, "agent", "a", "", "agent id (default: every agent)")
	ledgerCmd.Flags().BoolVar(&ledgerActiveOnly, "active", false, "only entries that are still open")
}
