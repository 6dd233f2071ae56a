package cmd

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"agentmirror/internal/infrastructure/config"
	"agentmirror/internal/infrastructure/logger"
	"agentmirror/internal/infrastructure/svc"
)

const defaultConfigPath = "configs/agentmirror.toml"

var (
	configPath string
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "agentmirror",
	Short: "Mirror an AI trading agent's positions onto Binance USDT-M futures",
	Long: `agentmirror polls an agent's published positions and reconciles them against
the exchange account: new entries are opened, closed or replaced positions are
exited, and every executed entry is recorded in a ledger so nothing is traded twice.

Examples:
  agentmirror follow --agent qwen3-max --total-margin 200
  agentmirror follow --once --dry-run
  agentmirror status
  agentmirror ledger --agent qwen3-max`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to agentmirror.toml")
}

// loadConfig reads the config file. The default path may be absent, in which
// case built-in defaults are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	logCloser = logger.Setup(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	return cfg, nil
}

// withService runs fn with a service context bound to SIGINT/SIGTERM.
func withService(cfg *config.Config, fn func(ctx context.Context, sc *svc.ServiceContext) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sc.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("close service context")
		}
	}()
	return fn(ctx, sc)
}
