package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"agentmirror/internal/infrastructure/svc"
)

var cleanOrphansCmd = &cobra.Command{
	Use:   "clean-orphans",
	Short: "Cancel take-profit/stop-loss orders left on symbols without a position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return withService(cfg, func(ctx context.Context, sc *svc.ServiceContext) error {
			res, err := sc.Coordinator.CleanOrphanedOrders(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d orphaned orders\n", res.CancelledCount)
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", e)
			}
			if !res.Success() {
				return fmt.Errorf("%d orphaned orders could not be cancelled", len(res.Errors))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cleanOrphansCmd)
}
