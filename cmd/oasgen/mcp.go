package main

import (
	"context"
	"os"
	"os/signal"

	"oasgen/internal/mcpserver"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the sanitize, validate_spec and score_spec tools over MCP (stdio)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		schema, err := loadSchema(cfg.Validation.Schema)
		if err != nil {
			return err
		}
		scorer, err := newScorer(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		logger.Info("starting MCP server", "version", version)
		srv := &mcpserver.Server{Version: version, Schema: schema, Scorer: scorer, Logger: logger}
		return srv.Run(ctx)
	},
}
