package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EventPublisher mirrors auction events onto a message bus so other services
// can follow the lifecycle without holding a room connection.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, auctionID string, payload any)
	Close() error
}

// NoopPublisher drops every event. Used when no bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, eventType, auctionID string, payload any) {}
func (NoopPublisher) Close() error                                                          { return nil }

// JetStreamPublisherConfig holds configuration for the JetStream publisher.
type JetStreamPublisherConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // e.g. "auction.events"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamPublisherConfig returns default JetStream publisher configuration.
func DefaultJetStreamPublisherConfig() JetStreamPublisherConfig {
	return JetStreamPublisherConfig{
		URL:           nats.DefaultURL,
		StreamName:    "AUCTION_EVENTS",
		SubjectPrefix: "auction.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// busEvent is the envelope written to the stream.
type busEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	AuctionID string    `json:"auctionId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// JetStreamPublisher publishes auction events to a JetStream stream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamPublisherConfig
}

// NewJetStreamPublisher connects to NATS and ensures the event stream exists.
func NewJetStreamPublisher(ctx context.Context, config JetStreamPublisherConfig) (*JetStreamPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     config.StreamName,
		Subjects: []string{config.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	log.Info().
		Str("stream", config.StreamName).
		Str("subject_prefix", config.SubjectPrefix).
		Msg("JetStream publisher connected")

	return &JetStreamPublisher{nc: nc, js: js, config: config}, nil
}

// Publish writes one event. Failures are logged, not returned: the room
// broadcast already happened and the bus is a secondary consumer.
func (p *JetStreamPublisher) Publish(ctx context.Context, eventType, auctionID string, payload any) {
	event := busEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		AuctionID: auctionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal bus event")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", p.config.SubjectPrefix, eventType, auctionID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("event_type", eventType).
			Msg("failed to publish bus event")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", event.EventID).
		Msg("published bus event")
}

// Close drains the NATS connection.
func (p *JetStreamPublisher) Close() error {
	p.nc.Close()
	return nil
}
