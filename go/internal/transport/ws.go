package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/bidhaus/go/internal/wire"
)

// WSConfig holds configuration for the WebSocket transport.
type WSConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReconnectWait    time.Duration
	MaxReconnectWait time.Duration
	SendBuffer       int
	EventBuffer      int
}

// DefaultWSConfig returns the default WebSocket transport configuration.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		HandshakeTimeout: 15 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReconnectWait:    2 * time.Second,
		MaxReconnectWait: 60 * time.Second,
		SendBuffer:       64,
		EventBuffer:      256,
	}
}

// WSTransport is a WebSocket implementation of Transport. It dials the auction
// gateway, decodes inbound frames into wire messages, and reconnects with
// exponential backoff when the connection drops. An OnReconnect hook lets the
// owner replay room membership after a new connection is established.
type WSTransport struct {
	config WSConfig

	// OnReconnect, if set, is invoked after every successful (re)dial. Set it
	// before calling Start.
	OnReconnect func()

	out    chan wire.Message
	events chan wire.Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSTransport creates a WebSocket transport. Call Start to connect.
func NewWSTransport(config WSConfig) *WSTransport {
	return &WSTransport{
		config: config,
		out:    make(chan wire.Message, config.SendBuffer),
		events: make(chan wire.Message, config.EventBuffer),
		done:   make(chan struct{}),
	}
}

// Start dials the gateway and runs the connection loop until Close or context
// cancellation. The first dial is synchronous so callers fail fast on a bad
// endpoint; later drops reconnect in the background.
func (t *WSTransport) Start(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("transport: initial dial: %w", err)
	}
	go t.run(ctx, conn)
	return nil
}

// Send queues an outbound message. It fails only when the transport is closed
// or the send buffer is full.
func (t *WSTransport) Send(ctx context.Context, msg wire.Message) error {
	select {
	case <-t.done:
		return fmt.Errorf("transport: closed")
	case <-ctx.Done():
		return ctx.Err()
	case t.out <- msg:
		return nil
	default:
		return fmt.Errorf("transport: send buffer full")
	}
}

// Events returns the inbound server event stream.
func (t *WSTransport) Events() <-chan wire.Message {
	return t.events
}

// Close shuts the transport down. The event stream is closed once the
// connection loop exits.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(t.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		return nil
	})
	return conn, nil
}

// run owns the connection: it services one connection until it drops, then
// redials with backoff, forever, until Close.
func (t *WSTransport) run(ctx context.Context, conn *websocket.Conn) {
	defer close(t.events)

	wait := t.config.ReconnectWait
	for {
		if conn != nil {
			if t.OnReconnect != nil {
				t.OnReconnect()
			}
			t.serve(ctx, conn)
			conn.Close()
			wait = t.config.ReconnectWait
		}

		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		var err error
		conn, err = t.dial(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("url", t.config.URL).
				Dur("retry_in", wait).
				Msg("websocket redial failed")
			conn = nil
			wait *= 2
			if wait > t.config.MaxReconnectWait {
				wait = t.config.MaxReconnectWait
			}
			continue
		}
		log.Info().Str("url", t.config.URL).Msg("websocket reconnected")
	}
}

// serve pumps one live connection in both directions and returns when it dies.
func (t *WSTransport) serve(ctx context.Context, conn *websocket.Conn) {
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("websocket read failed")
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))

			var msg wire.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Msg("dropping undecodable frame")
				continue
			}
			select {
			case t.events <- msg:
			default:
				log.Warn().Str("type", string(msg.Type)).Msg("event buffer full, dropping event")
			}
		}
	}()

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.config.WriteTimeout))
			return
		case <-ctx.Done():
			return
		case <-readErr:
			return
		case msg := <-t.out:
			conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("type", string(msg.Type)).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}
