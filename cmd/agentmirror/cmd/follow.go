package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"agentmirror/internal/application/usecase/reconcile"
	"agentmirror/internal/infrastructure/config"
	"agentmirror/internal/infrastructure/svc"
)

type followFlags struct {
	agents         []string
	interval       time.Duration
	totalMargin    float64
	priceTolerance float64
	once           bool
	dryRun         bool
}

var follow followFlags

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Run the reconciliation loop for one or more agents",
	Args:  cobra.NoArgs,
	RunE:  runFollow,
}

func init() {
	rootCmd.AddCommand(followCmd)

	f := followCmd.Flags()
	f.StringSliceVarP(&follow.agents, "agent", "a", nil, "agent id to follow (repeatable); default: app.agents or every agent in the feed")
	f.DurationVarP(&follow.interval, "interval", "i", 0, "pass interval, e.g. 30s (overrides app.interval_sec)")
	f.Float64Var(&follow.totalMargin, "total-margin", 0, "scale entries to this total margin in USDT (0 = mirror agent sizes)")
	f.Float64Var(&follow.priceTolerance, "price-tolerance", 0, "max entry/current price difference in percent")
	f.BoolVar(&follow.once, "once", false, "run a single pass per agent and exit")
	f.BoolVar(&follow.dryRun, "dry-run", false, "simulate orders against a virtual book")
}

// apply overlays the command line onto cfg; only flags the user set win.
func (f followFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("agent") {
		cfg.App.Agents = f.agents
	}
	if flags.Changed("interval") && f.interval > 0 {
		cfg.App.IntervalSec = max(1, int(f.interval/time.Second))
	}
	if flags.Changed("total-margin") {
		cfg.App.TotalMargin = f.totalMargin
	}
	if flags.Changed("price-tolerance") && f.priceTolerance >= 0 {
		cfg.Risk.PriceTolerance = f.priceTolerance
	}
	if flags.Changed("dry-run") {
		cfg.App.DryRun = f.dryRun
	}
}

func runFollow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	follow.apply(cmd, cfg)

	return withService(cfg, func(ctx context.Context, sc *svc.ServiceContext) error {
		agents, err := sc.Agents(ctx)
		if err != nil {
			return err
		}
		sched := reconcile.NewScheduler(sc.BuildSchedulerDeps(agents))

		log.Info().
			Str("config", configPath).
			Strs("agents", agents).
			Int("interval_sec", cfg.App.IntervalSec).
			Float64("total_margin", cfg.App.TotalMargin).
			Float64("price_tolerance", cfg.Risk.PriceTolerance).
			Bool("dry_run", cfg.App.DryRun).
			Msg("agentmirror started")

		if follow.once {
			var errs []error
			for _, agent := range agents {
				if _, err := sched.RunOnce(ctx, agent); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}

		sc.StartBackground(ctx)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info().Msg("agentmirror stopped")
		return nil
	})
}
