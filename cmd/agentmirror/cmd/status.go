package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentmirror/internal/domain/model"
	"agentmirror/internal/infrastructure/svc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show exchange positions, balance and active ledger entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return withService(cfg, func(ctx context.Context, sc *svc.ServiceContext) error {
			out := cmd.OutOrStdout()

			balance, err := sc.Coordinator.AvailableBalance(ctx)
			if err != nil {
				return fmt.Errorf("balance: %w", err)
			}
			positions, err := sc.Coordinator.OpenPositions(ctx)
			if err != nil {
				return fmt.Errorf("positions: %w", err)
			}
			created, err := sc.Ledger.CreatedAt(ctx)
			if err != nil {
				return fmt.Errorf("ledger: %w", err)
			}

			fmt.Fprintf(out, "available balance: %s %s\n", strconv.FormatFloat(balance, 'f', 2, 64), cfg.Execution.QuoteAsset)
			fmt.Fprintf(out, "ledger created:    %s\n\n", created.Format("2006-01-02 15:04:05"))

			sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tQTY\tENTRY\tMARK\tLEV\tUPNL")
			for _, p := range positions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.Symbol, num(p.Quantity), num(p.EntryPrice),
					num(p.MarkPrice), num(p.Leverage), num(p.UnrealizedPnL))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			active, err := sc.Ledger.ListEntries(ctx, "")
			if err != nil {
				return fmt.Errorf("ledger: %w", err)
			}
			fmt.Fprintln(out)
			return sc.Sink.WriteEntries(activeOnly(active))
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func activeOnly(entries []*model.LedgerEntry) []*model.LedgerEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Active() {
			out = append(out, e)
		}
	}
	return out
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
