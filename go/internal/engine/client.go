package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bidhaus/bidhaus/go/internal/auction"
	"github.com/bidhaus/bidhaus/go/internal/transport"
	"github.com/bidhaus/bidhaus/go/internal/wire"
)

// DefaultBidTimeout bounds how long a submitted bid waits for an
// acknowledgment before resolving as timed out.
const DefaultBidTimeout = 10 * time.Second

// Fetcher performs the one-shot read that seeds a snapshot when an auction is
// first watched.
type Fetcher interface {
	GetAuction(ctx context.Context, id string) (*auction.Snapshot, error)
}

// Config holds the collaborators and tunables for a sync client.
type Config struct {
	Transport transport.Transport
	Fetcher   Fetcher

	// Clock drives the 1 Hz countdown and bid timeouts. Defaults to the real
	// clock; tests inject a fake.
	Clock clockwork.Clock

	// BidTimeout defaults to DefaultBidTimeout.
	BidTimeout time.Duration

	// UpdateBuffer is the per-facade update channel depth. Defaults to 16.
	UpdateBuffer int

	Logger zerolog.Logger
}

// Client is the session-wide entry point of the sync engine. It owns the room
// membership table and routes the transport's single inbound event stream to
// the per-auction facades.
type Client struct {
	cfg        Config
	rooms      *RoomManager
	reconciler *Reconciler

	mu      sync.Mutex
	facades map[string]map[*Facade]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a sync client. Call Start to begin routing events.
func NewClient(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.BidTimeout <= 0 {
		cfg.BidTimeout = DefaultBidTimeout
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 16
	}
	return &Client{
		cfg:        cfg,
		rooms:      NewRoomManager(cfg.Transport, cfg.Logger),
		reconciler: NewReconciler(cfg.Logger),
		facades:    make(map[string]map[*Facade]struct{}),
		done:       make(chan struct{}),
	}
}

// Rooms returns the room membership table, exposed so the transport's
// reconnect hook can replay joins.
func (c *Client) Rooms() *RoomManager {
	return c.rooms
}

// Start launches the event router.
func (c *Client) Start(ctx context.Context) {
	go c.route(ctx)
}

// Watch opens a subscription on one auction: the room is joined, the snapshot
// is seeded with a one-shot fetch, and the returned facade starts ticking. A
// failed fetch is fatal for the subscription (the room join is rolled back);
// the caller may retry.
func (c *Client) Watch(ctx context.Context, auctionID string) (*Facade, error) {
	c.rooms.Join(ctx, auctionID)

	snap, err := c.cfg.Fetcher.GetAuction(ctx, auctionID)
	if err != nil {
		c.rooms.Leave(ctx, auctionID)
		return nil, fmt.Errorf("load auction %s: %w", auctionID, err)
	}

	var f *Facade
	f = newFacade(auctionID, snap, c, func() { c.remove(auctionID, f) })

	c.mu.Lock()
	set, ok := c.facades[auctionID]
	if !ok {
		set = make(map[*Facade]struct{})
		c.facades[auctionID] = set
	}
	set[f] = struct{}{}
	c.mu.Unlock()

	go f.run(ctx)
	return f, nil
}

// Close shuts the client down. Individual facades are closed by their owners.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) remove(auctionID string, f *Facade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.facades[auctionID]; ok {
		delete(set, f)
		if len(set) == 0 {
			delete(c.facades, auctionID)
		}
	}
}

// route fans the transport's inbound stream out to the facades watching each
// auction. Events for auctions nobody watches (including late events for a
// closed facade) are dropped here.
func (c *Client) route(ctx context.Context) {
	events := c.cfg.Transport.Events()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			id, err := wire.AuctionID(msg)
			if err != nil {
				c.cfg.Logger.Debug().Err(err).Str("type", string(msg.Type)).Msg("dropping unroutable event")
				continue
			}
			c.mu.Lock()
			targets := make([]*Facade, 0, 1)
			for f := range c.facades[id] {
				targets = append(targets, f)
			}
			c.mu.Unlock()
			for _, f := range targets {
				select {
				case f.inbox <- msg:
				default:
					c.cfg.Logger.Warn().Str("auction_id", id).Msg("facade inbox full, dropping event")
				}
			}
		}
	}
}
