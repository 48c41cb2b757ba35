package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/makeasinger/sunoproxy/internal/config"
	"github.com/makeasinger/sunoproxy/internal/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sunoproxy",
	Short: "Suno-compatible music generation API",
	Long: `sunoproxy exposes a Suno-compatible HTTP API on top of an upstream
music generation provider, with background jobs for single and batch
generation and a scheduled credential probe.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Server.LogLevel = lvl
		}
		logger.Init(&cfg.Server)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, workerCmd, probeCmd)
}
