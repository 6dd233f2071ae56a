package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"agentmirror/internal/infrastructure/svc"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents published by the agent feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return withService(cfg, func(ctx context.Context, sc *svc.ServiceContext) error {
			agents, err := sc.Source.Agents(ctx)
			if err != nil {
				return err
			}
			for _, a := range agents {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}
