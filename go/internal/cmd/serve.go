package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the room RPC and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := commonRun(cmd)
			if err != nil {
				return err
			}
			dbCfg, err := dbconfig.NewConfigFromEnv()
			if err != nil {
				return err
			}

			// signal-aware context
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, dbCfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, dbCfg dbconfig.Config) error {
	repo, closeStore, err := setupStore(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("failed to close room store")
		}
	}()

	services, err := setupServices(cfg, repo)
	if err != nil {
		return err
	}
	server := setupServer(cfg, services)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		services.Hub.Start(runCtx)
	}()
	if services.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := services.Relay.Start(runCtx); err != nil {
				log.Error().Err(err).Msg("room event relay failed")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("db_driver", dbCfg.Driver).
			Bool("relay", services.Relay != nil).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err = <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("HTTP server shutdown failed")
	}

	// Stop the hub and relay
	cancel()
	wg.Wait()

	log.Info().Msg("planningpoker shutdown complete")
	return err
}
