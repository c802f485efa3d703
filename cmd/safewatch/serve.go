package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"safewatch/internal/config"
	"safewatch/internal/logger"
	"safewatch/internal/processor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the record processor until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := processor.New(cfg).Run(ctx); err != nil {
			return err
		}
		logger.WithComponent("main").Info().Msg("exited")
		return nil
	},
}
