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

// Update is what consumers of a watched auction receive: the latest snapshot
// plus the locally computed countdown view. Consumers read, never recompute,
// phase.
type Update struct {
	Snapshot       *auction.Snapshot
	DisplayPhase   auction.Phase
	Remaining      time.Duration
	LocallyExpired bool
}

type submitRequest struct {
	amount float64
	bidder auction.UserRef
	reply  chan Outcome
}

// Facade is the one object a consumer holds per watched auction. It owns the
// snapshot exclusively: clock ticks, inbound events and bid submissions are
// all serialized through a single event loop goroutine, so the snapshot needs
// no locking. Construction joins the auction's room and seeds the snapshot
// from a one-shot fetch; Close stops the clock, leaves the room and discards
// the snapshot.
type Facade struct {
	auctionID  string
	snap       *auction.Snapshot
	reconciler *Reconciler
	rooms      *RoomManager
	transport  transport.Transport
	clock      clockwork.Clock
	bidTimeout time.Duration
	log        zerolog.Logger

	pending      *pendingBid
	pendingTimer clockwork.Timer

	inbox   chan wire.Message
	submits chan submitRequest
	updates chan Update

	done       chan struct{}
	closeOnce  sync.Once
	unregister func()
}

func newFacade(auctionID string, snap *auction.Snapshot, c *Client, unregister func()) *Facade {
	return &Facade{
		auctionID:  auctionID,
		snap:       snap,
		reconciler: c.reconciler,
		rooms:      c.rooms,
		transport:  c.cfg.Transport,
		clock:      c.cfg.Clock,
		bidTimeout: c.cfg.BidTimeout,
		log:        c.cfg.Logger.With().Str("auction_id", auctionID).Logger(),
		inbox:      make(chan wire.Message, 32),
		submits:    make(chan submitRequest),
		updates:    make(chan Update, c.cfg.UpdateBuffer),
		done:       make(chan struct{}),
		unregister: unregister,
	}
}

// AuctionID returns the id of the watched auction.
func (f *Facade) AuctionID() string {
	return f.auctionID
}

// Updates returns the stream of snapshot/countdown updates. The latest update
// wins: when a slow consumer falls behind, older entries are dropped. The
// channel closes when the facade is closed.
func (f *Facade) Updates() <-chan Update {
	return f.updates
}

// SubmitBid submits a bid on the watched auction and blocks until it resolves:
// accepted by the server, rejected (locally or by the server), or timed out.
// Precondition failures resolve immediately without touching the transport. An
// error is returned only when the facade is closed or the context ends before
// resolution; a timeout is an Outcome, not an error, and does not cancel any
// server-side effect.
func (f *Facade) SubmitBid(ctx context.Context, amount float64, bidder auction.UserRef) (Outcome, error) {
	req := submitRequest{amount: amount, bidder: bidder, reply: make(chan Outcome, 1)}
	select {
	case f.submits <- req:
	case <-f.done:
		return Outcome{}, fmt.Errorf("auction %s is no longer watched", f.auctionID)
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	select {
	case out := <-req.reply:
		return out, nil
	case <-f.done:
		return Outcome{}, fmt.Errorf("auction %s is no longer watched", f.auctionID)
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close releases the facade exactly once: the event loop stops, the room is
// left, and any late-arriving fetch or bid result is ignored.
func (f *Facade) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.unregister()
		f.rooms.Leave(context.Background(), f.auctionID)
	})
}

// run is the facade's event loop. Everything that mutates the snapshot lives
// here.
func (f *Facade) run(ctx context.Context) {
	defer close(f.updates)

	ticker := f.clock.NewTicker(time.Second)
	tickerLive := true
	defer func() {
		if tickerLive {
			ticker.Stop()
		}
	}()

	// Stop rescheduling the countdown once the phase is terminal.
	settle := func() {
		if tickerLive && f.snap.Phase.Terminal() {
			ticker.Stop()
			tickerLive = false
		}
	}

	f.publishTick()
	settle()

	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			f.Close()
			return
		case <-ticker.Chan():
			f.publishTick()
			settle()
		case msg, ok := <-f.inbox:
			if !ok {
				return
			}
			f.handleEvent(msg)
			settle()
		case req := <-f.submits:
			f.handleSubmit(ctx, req)
		case <-f.timeoutChan():
			f.log.Warn().
				Float64("amount", f.pending.amount).
				Dur("timeout", f.bidTimeout).
				Msg("bid acknowledgment timed out")
			f.resolvePending(Outcome{Kind: OutcomeTimedOut})
		}
	}
}

// handleEvent reconciles one inbound event and resolves the pending bid when
// the event is the answer to our own submission.
func (f *Facade) handleEvent(msg wire.Message) {
	next, res := f.reconciler.Apply(f.snap, msg)

	if f.pending != nil {
		switch {
		case res.RejectMessage != "":
			f.resolvePending(Outcome{Kind: OutcomeRejected, Reason: res.RejectMessage})
		case res.AckMessage != "":
			f.resolvePending(Outcome{Kind: OutcomeAccepted, Bid: res.Bid})
		case res.Bid != nil && res.Bid.BidderID == f.pending.bidder.ID:
			// Our own bid came back as a room broadcast before the direct ack.
			f.resolvePending(Outcome{Kind: OutcomeAccepted, Bid: res.Bid})
		}
	}

	if res.Changed {
		f.snap = next
		f.publishTick()
	}
}

// handleSubmit runs the local preconditions and, when they pass, records the
// pending bid and sends the request. At most one bid is in flight per auction
// per session.
func (f *Facade) handleSubmit(ctx context.Context, req submitRequest) {
	if f.pending != nil {
		req.reply <- Outcome{Kind: OutcomeRejected, Reason: "a bid is already pending for this auction"}
		return
	}
	if reason := validateBid(f.snap, req.amount, req.bidder); reason != "" {
		req.reply <- Outcome{Kind: OutcomeRejected, Reason: reason}
		return
	}

	msg := wire.MustMessage(wire.TypePlaceBid, wire.PlaceBidPayload{
		AuctionID:      f.auctionID,
		BidderID:       req.bidder.ID,
		BidderUsername: req.bidder.Username,
		Amount:         req.amount,
	})
	if err := f.transport.Send(ctx, msg); err != nil {
		req.reply <- Outcome{Kind: OutcomeRejected, Reason: fmt.Sprintf("bid could not be sent: %v", err)}
		return
	}

	f.pending = &pendingBid{
		amount:      req.amount,
		bidder:      req.bidder,
		submittedAt: f.clock.Now(),
		reply:       req.reply,
	}
	f.pendingTimer = f.clock.NewTimer(f.bidTimeout)
	f.log.Debug().Float64("amount", req.amount).Msg("bid submitted, awaiting acknowledgment")
}

// timeoutChan exposes the pending bid's deadline to the event loop select. A
// nil channel blocks forever, so the case is inert while nothing is pending.
func (f *Facade) timeoutChan() <-chan time.Time {
	if f.pendingTimer == nil {
		return nil
	}
	return f.pendingTimer.Chan()
}

// resolvePending delivers the outcome for the in-flight bid and clears it,
// making a retry possible.
func (f *Facade) resolvePending(out Outcome) {
	if f.pending == nil {
		return
	}
	if f.pendingTimer != nil {
		if !f.pendingTimer.Stop() {
			select {
			case <-f.pendingTimer.Chan():
			default:
			}
		}
		f.pendingTimer = nil
	}
	select {
	case f.pending.reply <- out:
	default:
	}
	f.pending = nil
}

// publishTick recomputes the countdown view and pushes an update, displacing
// the oldest queued update when the consumer lags.
func (f *Facade) publishTick() {
	t := ComputeTick(f.clock.Now(), f.snap)
	u := Update{
		Snapshot:       f.snap.Clone(),
		DisplayPhase:   t.DisplayPhase,
		Remaining:      t.Remaining,
		LocallyExpired: t.LocallyExpired,
	}
	for {
		select {
		case f.updates <- u:
			return
		default:
		}
		select {
		case <-f.updates:
		default:
		}
	}
}
