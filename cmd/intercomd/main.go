/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package main runs a headless intercom client. It registers with the
// backend, keeps the status channel connected and exposes a local control
// API for joining lines, muting, push-to-talk and device routing.
//
// Usage:
//
//	intercomd -config intercom.yaml
//
// Every setting can be overridden with INTERCOM_* environment variables or
// a .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	intercom "github.com/tejzpr/intercom-go-sdk"
	"github.com/tejzpr/intercom-go-sdk/config"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
	"github.com/tejzpr/intercom-go-sdk/observe"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	logger := intercomsdk.NewLogger()

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = logger.Level(cfg.LogLevel())

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("intercomd stopped")
	}
}

func loadConfig(path, envFile string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg, envFile); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observe.New(nil)
	client, err := intercom.NewClient(&intercom.Config{
		Core:            cfg.Core(&logger),
		Identity:        cfg.Identity(),
		Prefs:           cfg.Prefs(),
		Status:          cfg.StatusChannel(),
		Productions:     cfg.ProductionsClient(),
		Calling:         cfg.Calling(),
		RefreshInterval: cfg.Productions.RefreshInterval,
		Platform:        cfg.Platform(),
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}

	if err := client.Start(ctx, cfg.Client.Username); err != nil {
		return err
	}
	logger.Info().Str("clientId", client.Identity().ClientID()).Msg("registered with backend")

	a := &api{client: client, metrics: metrics, logger: logger.With().Str("component", "api").Logger()}
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           a.routes(cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("control API listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("control API failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("leaving calls")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown")
	}
	return nil
}
