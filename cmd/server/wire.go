// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/warden/internal/api"
	"github.com/tomtom215/warden/internal/appeals"
	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/auth"
	"github.com/tomtom215/warden/internal/authz"
	"github.com/tomtom215/warden/internal/blocklist"
	"github.com/tomtom215/warden/internal/breaker"
	"github.com/tomtom215/warden/internal/config"
	"github.com/tomtom215/warden/internal/identity"
	"github.com/tomtom215/warden/internal/ledger"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/pipeline"
	"github.com/tomtom215/warden/internal/ratelimit"
	"github.com/tomtom215/warden/internal/risk"
	"github.com/tomtom215/warden/internal/signature"
	"github.com/tomtom215/warden/internal/store"
	"github.com/tomtom215/warden/internal/supervisor"
	"github.com/tomtom215/warden/internal/supervisor/services"
	"github.com/tomtom215/warden/internal/websocket"
)

// application holds everything main starts and later closes.
type application struct {
	db       *store.Store
	sink     audit.Store
	nats     *audit.EmbeddedNATS
	enforcer *authz.Enforcer
	server   *http.Server
	tree     *supervisor.Tree
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	if a.enforcer != nil {
		a.enforcer.Close()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit sink")
		}
	}
	if a.nats != nil {
		a.nats.Shutdown()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}
}

// build opens every component. On failure whatever was opened is closed.
func build(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	opts := store.DefaultOptions(cfg.Badger.Path)
	opts.InMemory = cfg.Badger.InMemory
	opts.SyncWrites = cfg.Badger.SyncWrites
	opts.MaxRetries = cfg.Ledger.MaxRetries
	opts.RetryInitialBackoff = cfg.Ledger.RetryInitialBackoff
	if app.db, err = store.Open(opts); err != nil {
		return nil, err
	}

	blocks := blocklist.New(app.db)
	if _, err = blocks.Warm(ctx); err != nil {
		return nil, err
	}

	if app.sink, err = openAuditSink(ctx, cfg, app); err != nil {
		return nil, err
	}
	auditLogger := audit.NewLogger(app.sink, audit.Config{
		Enabled:       cfg.Audit.Enabled,
		BufferSize:    cfg.Audit.BufferSize,
		AlertInterval: cfg.Audit.AlertInterval,
	})

	matcher, err := signature.New(signature.Config{
		Titles:          cfg.Signature.Titles,
		ReleaseGroups:   cfg.Signature.ReleaseGroups,
		ExtraMarkers:    cfg.Signature.ExtraMarkers,
		ReplaceDefaults: cfg.Signature.ReplaceDefaults,
	})
	if err != nil {
		return nil, err
	}

	ledg := ledger.New(app.db, ledger.ConfigFrom(cfg.Ledger), auditLogger)
	pipe, err := pipeline.New(pipeline.ConfigFrom(cfg.Pipeline, cfg.Risk), pipeline.Deps{
		DB:        app.db,
		Matcher:   matcher,
		Blocklist: blocks,
		Identity:  identity.New(app.db, cfg.Ledger.StrikeWindow),
		Ledger:    ledg,
		Limiter:   ratelimit.New(app.db, ratelimit.ConfigFrom(cfg.RateLimit)),
		Scorer:    risk.NewScorer(risk.ConfigFrom(cfg.Risk)),
		Audit:     auditLogger,
	})
	if err != nil {
		return nil, err
	}

	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	if err != nil {
		return nil, err
	}
	if app.enforcer, err = authz.NewEnforcer(authz.ConfigFrom(cfg.Security)); err != nil {
		return nil, err
	}

	hub := websocket.NewHub()
	router, err := api.NewRouter(api.Deps{
		Assessor: pipe,
		Appeals: appeals.New(app.db,
			appeals.WithRecorder(auditLogger),
			appeals.WithNotifier(appeals.Notifiers{appeals.LogNotifier{}, hub}),
		),
		Ledger:   ledg,
		JWT:      jwtManager,
		Enforcer: app.enforcer,
		Checks: map[string]api.HealthCheck{
			"store": func(c context.Context) error {
				return app.db.View(c, func(*store.Tx) error { return nil })
			},
		},
		Breakers:   pipe.Breakers(),
		Middleware: api.MiddlewareConfigFrom(cfg.Server),
		Hub:        hub,
	})
	if err != nil {
		return nil, err
	}

	app.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	app.tree = supervisor.NewTree(logging.NewComponentSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if !cfg.Badger.InMemory {
		app.tree.AddStorageService(services.NewStoreGCService(app.db, cfg.Badger.GCInterval, cfg.Badger.GCDiscardRatio))
	}
	app.tree.AddAuditService(auditLogger)
	app.tree.AddAPIService(services.NewWebSocketHubService(hub))
	app.tree.AddAPIService(services.NewHTTPServerService(app.server, cfg.Server.ShutdownTimeout))
	return app, nil
}

// openAuditSink opens the configured audit store. An embedded NATS server
// is recorded on app so Close can stop it.
func openAuditSink(ctx context.Context, cfg *config.Config, app *application) (audit.Store, error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkNATS:
		url := cfg.Audit.NATSURL
		if cfg.Audit.NATSEmbedded {
			ns, err := audit.StartEmbeddedNATS(audit.EmbeddedNATSConfig{
				Port:     cfg.Audit.NATSEmbeddedPort,
				StoreDir: cfg.Audit.NATSStoreDir,
			})
			if err != nil {
				return nil, fmt.Errorf("audit nats sink: %w", err)
			}
			app.nats = ns
			url = ns.ClientURL()
			logging.Info().Str("url", url).Msg("Embedded NATS server started")
		}
		pub, err := audit.NewNATSPublisher(audit.NATSConfig{
			URL:           url,
			AutoProvision: true,
		}, watermill.NewSlogLogger(logging.NewComponentSlogLogger("audit-nats")))
		if err != nil {
			return nil, fmt.Errorf("audit nats sink: %w", err)
		}
		b := breaker.New(breaker.SettingsFromConfig("audit-nats", cfg.Pipeline))
		logging.Info().Str("topic", cfg.Audit.NATSTopic).Msg("Audit events published to NATS")
		return audit.NewPublisherStore(pub, cfg.Audit.NATSTopic, b), nil

	case config.AuditSinkDuckDB:
		s, err := audit.OpenDuckDBStore(ctx, cfg.Audit.DuckDBPath)
		if err != nil {
			return nil, fmt.Errorf("audit duckdb sink: %w", err)
		}
		logging.Info().Str("path", cfg.Audit.DuckDBPath).Msg("Audit events stored in DuckDB")
		return s, nil

	default:
		return audit.NewMemoryStore(cfg.Audit.MemoryMaxEvents), nil
	}
}
