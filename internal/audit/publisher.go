// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/warden/internal/breaker"
)

// Message metadata keys set on every published event.
const (
	MetadataEventType = "event_type"
	MetadataSeverity  = "severity"
)

// PublisherStore forwards events to a Watermill publisher. Publishing goes
// through a circuit breaker so a dead broker fails fast instead of stalling
// the writer.
type PublisherStore struct {
	publisher message.Publisher
	topic     string
	breaker   *breaker.Breaker

	mu     sync.RWMutex
	closed bool
}

// NewPublisherStore creates a store publishing to topic. b may be nil.
func NewPublisherStore(pub message.Publisher, topic string, b *breaker.Breaker) *PublisherStore {
	return &PublisherStore{publisher: pub, topic: topic, breaker: b}
}

// Save publishes event as a JSON message keyed by the event id.
func (s *PublisherStore) Save(ctx context.Context, event *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("audit publisher is closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEventType, string(event.Type))
	msg.Metadata.Set(MetadataSeverity, string(event.Severity))
	msg.Metadata.Set(natsgo.MsgIdHdr, event.ID)

	publish := func() (struct{}, error) {
		return struct{}{}, s.publisher.Publish(s.topic, msg)
	}
	if s.breaker != nil {
		_, err = breaker.Execute(s.breaker, publish)
	} else {
		_, err = publish()
	}
	if err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Query implements Querier; a forwarding sink keeps nothing to read back.
func (s *PublisherStore) Query(context.Context, QueryFilter) ([]Event, error) {
	return nil, ErrNotQueryable
}

// Close shuts down the publisher.
func (s *PublisherStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.publisher.Close()
}

// DecodeMessage parses an event published by PublisherStore.
func DecodeMessage(msg *message.Message) (*Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, fmt.Errorf("decode audit message: %w", err)
	}
	return &e, nil
}

// NATSConfig configures the JetStream publisher.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration

	// AutoProvision creates the stream for the topic when missing.
	AutoProvision bool
}

// NewNATSPublisher connects a Watermill JetStream publisher.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("warden-audit"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: cfg.AutoProvision,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}
