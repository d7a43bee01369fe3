package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"verifiednyumba/backend/internal/database"
	"verifiednyumba/backend/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket hub and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if noJobs, _ := cmd.Flags().GetBool("no-jobs"); noJobs {
				cfg.Jobs.Enabled = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := database.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if cfg.Database.AutoMigrate {
				if err := database.Migrate(db); err != nil {
					return err
				}
				logger.Info("Database schema up to date")
			}

			srv, err := server.New(ctx, cfg, db, logger)
			if err != nil {
				return err
			}
			if err := srv.Run(ctx); err != nil {
				logger.Error("Server stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-jobs", false, "Disable the background job scheduler")
	return cmd
}
