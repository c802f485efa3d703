package main

import (
	"os"

	"github.com/spf13/cobra"

	"safewatch/internal/logger"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:           "safewatch",
	Short:         "Food-safety record monitor",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "directory containing safewatch.yaml")
	rootCmd.AddCommand(serveCmd, evaluateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
