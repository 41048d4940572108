package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/nexus/internal/config"
	"github.com/dshills/nexus/internal/engine"
	"github.com/dshills/nexus/internal/logging"
)

var (
	flagConfig   string
	flagEnvFile  string
	flagDataDir  string
	flagLogLevel string
	flagPretty   bool
)

var rootCmd = &cobra.Command{
	Use:          "nexus",
	Short:        "Local code context server with federated search",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file with NEXUS_ variables")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.nexus)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "human readable logs")
}

// loadConfig layers defaults, the config file, the environment and the
// persistent flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := map[string]any{}
	if flagDataDir != "" {
		overrides["data_dir"] = flagDataDir
	}
	if flagLogLevel != "" {
		overrides["log.level"] = flagLogLevel
	}
	if cmd.Flags().Changed("pretty") {
		overrides["log.pretty"] = flagPretty
	}
	return config.Load(config.LoadOptions{
		ConfigFile: flagConfig,
		EnvFile:    flagEnvFile,
		Overrides:  overrides,
	})
}

// openEngine loads the configuration, sets up stderr logging and opens an
// engine. Stdout stays free for command output and the MCP protocol.
func openEngine(cmd *cobra.Command) (*engine.Engine, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, logger, err
	}
	return eng, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withEngine runs fn against an engine that is closed afterwards
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	eng, logger, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn().Err(err).Msg("close failed")
		}
	}()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return fn(ctx, eng)
}
