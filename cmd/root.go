package main

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cwbudde/qpbridge/internal/config"
	"github.com/cwbudde/qpbridge/internal/logging"
)

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	logger  = logr.Discard()
	syncLog = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "qpbridge",
	Short: "Solve quadratic programs through interchangeable backends",
	Long: `qpbridge assembles quadratic programs declared in YAML or JSON files,
solves them with an ADMM or heuristic backend and reports backend-independent
results. Runs can be stored and inspected later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		logger, syncLog, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		logger.V(logging.DEBUG).Info("Configuration loaded",
			"config_file", v.ConfigFileUsed(),
			"backend", cfg.Backend,
			"data_dir", cfg.DataDir,
			"concurrency", cfg.Concurrency)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		syncLog()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (YAML, JSON or TOML)")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, console)")
	flags.String("data-dir", "./data", "Base directory for stored runs")

	mustBind("log_level", flags.Lookup("log-level"))
	mustBind("log_format", flags.Lookup("log-format"))
	mustBind("data_dir", flags.Lookup("data-dir"))
}
