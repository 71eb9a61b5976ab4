package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ygame/internal/app"
	"ygame/internal/game"
	"ygame/internal/lobby"
	"ygame/internal/stats"
	"ygame/pkg/config"
	"ygame/pkg/logger"
)

func serve(cmd *cobra.Command, f *flags) error {
	logger.InitLoggers(logger.LevelFromVerbosity(f.verbosity), f.verbosity >= 3)
	serverLogger := logger.ServerLogger

	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			serverLogger.Warn("Could not load config file %s: %v", f.configFile, err)
			serverLogger.Info("Using default configuration")
		} else {
			cfg = loaded
		}
	}
	cfg.ApplyEnvironment()

	// Flags win over file and environment.
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = f.port
	}
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = f.listen
	}
	if cmd.Flags().Changed("stats-db") {
		cfg.Stats.Database = f.statsDB
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	lb := lobby.New(lobby.Options{
		SessionDuration: cfg.Session.Duration.Std(),
		SweepInterval:   cfg.Session.SweepInterval.Std(),
		GameDefaults: game.Options{
			Expiry:        cfg.Game.Expiry.Std(),
			SweepInterval: cfg.Game.SweepInterval.Std(),
		},
	})

	var recorder *stats.Recorder
	if cfg.Stats.Database != "" {
		var err error
		recorder, err = stats.Open(cfg.Stats.Database)
		if err != nil {
			return err
		}
		defer recorder.Close()
		lb.SetStatsHook(recorder)
		serverLogger.Info("Recording game history to %s", cfg.Stats.Database)
	}

	lb.Start()

	srv := app.NewServer(cfg, lb, recorder)
	errs := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		serverLogger.Info("Received shutdown signal: %v", sig)
	case err := <-errs:
		lb.Stop()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		serverLogger.Warn("Server forced to shutdown: %v", err)
	}
	lb.Stop()

	serverLogger.Info("Game server end")
	return nil
}
