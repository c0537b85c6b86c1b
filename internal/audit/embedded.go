// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedNATSConfig configures the in-process JetStream server.
type EmbeddedNATSConfig struct {
	Host     string
	Port     int // server.RANDOM_PORT picks a free port
	StoreDir string

	// JetStream limits in bytes. Zero lets the server choose.
	MaxMemory int64
	MaxStore  int64

	ReadyTimeout time.Duration
}

// EmbeddedNATS is a JetStream server running inside the process, so a
// single node can publish audit events without an external broker.
// Other consumers may still connect to it over TCP.
type EmbeddedNATS struct {
	server *server.Server
}

// StartEmbeddedNATS starts the server and waits until it accepts clients.
func StartEmbeddedNATS(cfg EmbeddedNATSConfig) (*EmbeddedNATS, error) {
	if cfg.StoreDir == "" {
		return nil, errors.New("embedded nats: store dir is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}

	ns, err := server.NewServer(&server.Options{
		ServerName:         "warden-audit",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoSigs:             true,
		MaxPayload:         1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	ns.ConfigureLogger()

	go ns.Start()
	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready within %s", cfg.ReadyTimeout)
	}
	return &EmbeddedNATS{server: ns}, nil
}

// ClientURL is the address publishers connect to.
func (e *EmbeddedNATS) ClientURL() string {
	return e.server.ClientURL()
}

// Running reports whether the server is up.
func (e *EmbeddedNATS) Running() bool {
	return e.server.Running()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedNATS) Shutdown() {
	e.server.Shutdown()
	e.server.WaitForShutdown()
}
