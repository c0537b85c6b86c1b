// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package main runs the Warden server.
//
// Warden assesses every upload before it is accepted: known blocked content,
// piracy signatures in names and metadata, linked accounts of banned users,
// per-user upload budgets and strike history all feed one risk decision.
// Blocked uploads earn strikes, repeated probing earns bans, and reviewers
// can reverse a block through the appeal workflow.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, optional YAML file, environment)
//  2. Badger store and blocklist filter warm-up
//  3. Audit sink (memory, NATS JetStream via Watermill, or DuckDB)
//  4. Assessment pipeline and appeal workflow
//  5. HTTP API, then the suture supervisor tree
//
// Issue a reviewer or admin token with:
//
//	warden token -sub alice -roles reviewer
//
// SIGINT and SIGTERM stop the tree; the HTTP server drains in-flight
// requests and the audit writer flushes its buffer before the process exits.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/warden/internal/config"
	"github.com/tomtom215/warden/internal/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:]))
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("store", cfg.Badger.Path).
		Bool("in_memory", cfg.Badger.InMemory).
		Str("audit_sink", cfg.Audit.Sink).
		Bool("fail_secure", cfg.Risk.FailSecure).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer app.Close()

	logging.Info().Str("addr", app.server.Addr).Msg("Starting supervisor tree")
	errCh := app.tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := app.tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
	logging.Info().Msg("Warden stopped")
}
