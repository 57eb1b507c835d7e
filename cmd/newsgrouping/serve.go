package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/webapi"
)

// serveCmd starts the read-only Web API: start the HTTP server in a
// goroutine, block on a cancellable context, shut down gracefully on
// signal.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only Web API over Store contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg := config.Get()
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		srv := webapi.New(db, cfg.Server)

		serverErrors := make(chan error, 1)
		go func() {
			serverErrors <- srv.Start()
		}()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("webapi: server error: %w", err)
		case <-ctx.Done():
			log.Info().Msg("serve: shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("webapi: shutdown failed: %w", err)
			}
			return nil
		}
	},
}
