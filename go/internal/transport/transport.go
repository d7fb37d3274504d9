package transport

import (
	"context"

	"github.com/bidhaus/bidhaus/go/internal/wire"
)

// Transport is the bidirectional auction room channel as seen by the sync
// engine: a way to send control/bid messages and a stream of inbound events.
// Implementations own reconnection; the engine never sees connection state.
type Transport interface {
	// Send queues an outbound message. Control messages (join/leave) are fire
	// and forget; an error means the message could not even be queued.
	Send(ctx context.Context, msg wire.Message) error

	// Events is the inbound server event stream. Closed when the transport
	// shuts down for good.
	Events() <-chan wire.Message

	// Close tears the channel down and closes the event stream.
	Close() error
}
