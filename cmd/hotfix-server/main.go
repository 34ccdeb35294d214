// Package main provides the entry point for the hotfix delivery server.
package main

import (
	"os"

	"github.com/narvanalabs/hotfix/internal/api"
	"github.com/narvanalabs/hotfix/internal/auth"
	"github.com/narvanalabs/hotfix/internal/delivery"
	"github.com/narvanalabs/hotfix/internal/shutdown"
	pgstore "github.com/narvanalabs/hotfix/internal/store/postgres"
	"github.com/narvanalabs/hotfix/pkg/config"
	"github.com/narvanalabs/hotfix/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON).WithComponent("hotfix-server")

	st, err := delivery.NewFileStore(cfg.Delivery.StoreDir)
	if err != nil {
		log.Error("failed to open delivery store", "error", err)
		os.Exit(1)
	}

	var authService *auth.Service
	if cfg.Delivery.JWTSecret != "" {
		authService = auth.NewService(&auth.Config{
			JWTSecret:   []byte(cfg.Delivery.JWTSecret),
			TokenExpiry: cfg.Delivery.JWTExpiry,
		}, log.Logger)
	}

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)

	var opts []api.ServerOption
	if cfg.DatabaseDSN != "" {
		history, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		opts = append(opts, api.WithHealthComponent("history", history))
		coordinator.Register(shutdown.NewCloserComponent("history", history))
	}

	server := api.NewServer(&cfg.Delivery, st, authService, log.Logger, opts...)
	coordinator.Register(server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	go func() {
		if err := <-errCh; err != nil {
			log.Error("server error", "error", err)
			coordinator.Shutdown()
		}
	}()

	coordinator.WaitForSignal()
	coordinator.Wait()
	log.Info("server stopped")
	os.Exit(coordinator.ExitCode())
}
