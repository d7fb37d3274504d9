package engine

import (
	"reflect"

	"github.com/rs/zerolog"

	"github.com/bidhaus/bidhaus/go/internal/auction"
	"github.com/bidhaus/bidhaus/go/internal/wire"
)

// ApplyResult describes what a reconciled event did to the snapshot, so the
// owning facade can resolve pending bids and decide whether to publish.
type ApplyResult struct {
	// Changed reports whether the returned snapshot differs from the input.
	Changed bool

	// Bid is the bid referenced by a bid event, whether it was applied or was
	// a duplicate of one already recorded.
	Bid *auction.Bid

	// BidApplied is true when Bid was appended by this event.
	BidApplied bool

	// AckMessage carries the server's bid-placed-successfully message, if any.
	AckMessage string

	// RejectMessage carries the server's bid-error message, if any.
	RejectMessage string
}

// Reconciler merges inbound authoritative events into auction snapshots. It is
// idempotent and monotonic: replaying an event, or delivering an old event
// after a newer one, never regresses state. That property comes from per-field
// acceptance rules (bid amounts must strictly increase, phases must be
// reachable through the lifecycle state machine) because the transport offers
// no ordering or dedup guarantees of its own.
type Reconciler struct {
	log zerolog.Logger
}

// NewReconciler creates a reconciler that logs dropped events to the given
// logger.
func NewReconciler(log zerolog.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// Apply merges one event into the snapshot and returns the resulting snapshot.
// The input snapshot is never mutated; when nothing changes it is returned
// as-is. Events that fail the acceptance rules are dropped, not errors.
func (r *Reconciler) Apply(snap *auction.Snapshot, msg wire.Message) (*auction.Snapshot, ApplyResult) {
	payload, err := wire.ParsePayload(msg)
	if err != nil {
		r.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("dropping undecodable event")
		return snap, ApplyResult{}
	}

	switch p := payload.(type) {
	case *auction.Snapshot:
		return r.applyFullUpdate(snap, p)
	case *wire.BidAcceptedPayload:
		if p.AuctionID != snap.ID {
			return snap, ApplyResult{}
		}
		return r.applyBid(snap, p.Bid)
	case *wire.BidPlacedPayload:
		if p.AuctionID != snap.ID {
			return snap, ApplyResult{}
		}
		out, res := snap, ApplyResult{}
		if p.Bid != nil {
			out, res = r.applyBid(snap, *p.Bid)
		}
		res.AckMessage = p.Message
		if res.AckMessage == "" {
			res.AckMessage = "bid placed successfully"
		}
		return out, res
	case *wire.BidErrorPayload:
		if p.AuctionID != snap.ID {
			return snap, ApplyResult{}
		}
		msg := p.Message
		if msg == "" {
			msg = "bid rejected"
		}
		return snap, ApplyResult{RejectMessage: msg}
	case *wire.AuctionStartedPayload:
		if p.AuctionID != snap.ID {
			return snap, ApplyResult{}
		}
		return r.applyPhase(snap, auction.PhaseActive)
	case *wire.AuctionEndedPayload:
		if p.AuctionID != snap.ID {
			return snap, ApplyResult{}
		}
		return r.applyEnded(snap, p)
	default:
		r.log.Debug().Str("type", string(msg.Type)).Msg("ignoring non-reconcilable message")
		return snap, ApplyResult{}
	}
}

// applyFullUpdate replaces the snapshot with a server push of the whole
// auction, gated on phase reachability so a stale periodic push cannot undo a
// newer state.
func (r *Reconciler) applyFullUpdate(snap *auction.Snapshot, evt *auction.Snapshot) (*auction.Snapshot, ApplyResult) {
	if evt.ID != snap.ID {
		return snap, ApplyResult{}
	}
	if !snap.Phase.Reachable(evt.Phase) {
		r.log.Warn().
			Str("auction_id", snap.ID).
			Str("current_phase", string(snap.Phase)).
			Str("event_phase", string(evt.Phase)).
			Msg("rejecting full update with unreachable phase")
		return snap, ApplyResult{}
	}

	out := snap.Clone()
	out.Phase = evt.Phase
	out.Title = evt.Title
	out.Description = evt.Description
	out.Category = evt.Category
	out.Condition = evt.Condition
	out.Location = evt.Location
	out.StartingPrice = evt.StartingPrice
	out.MinimumIncrement = evt.MinimumIncrement
	if !evt.StartTime.IsZero() {
		out.StartTime = evt.StartTime
	}
	if !evt.EndTime.IsZero() {
		out.EndTime = evt.EndTime
	}
	// Price, bids and the highest bidder only move forward. A push carrying a
	// lower price than we already know is a stale delivery of those fields.
	if evt.CurrentPrice >= snap.CurrentPrice {
		out.CurrentPrice = evt.CurrentPrice
		if len(evt.Bids) >= len(snap.Bids) {
			out.Bids = make([]auction.Bid, len(evt.Bids))
			copy(out.Bids, evt.Bids)
		}
		if evt.HighestBidder != nil {
			hb := *evt.HighestBidder
			out.HighestBidder = &hb
		}
	}
	if reflect.DeepEqual(out, snap) {
		return snap, ApplyResult{}
	}
	return out, ApplyResult{Changed: true}
}

// applyBid appends an accepted bid. Duplicate bid ids and non-increasing
// amounts are stale deliveries and no-ops.
func (r *Reconciler) applyBid(snap *auction.Snapshot, bid auction.Bid) (*auction.Snapshot, ApplyResult) {
	if snap.HasBid(bid.ID) {
		r.log.Debug().
			Str("auction_id", snap.ID).
			Str("bid_id", bid.ID).
			Msg("duplicate bid event, already recorded")
		return snap, ApplyResult{Bid: &bid}
	}
	if bid.Amount <= snap.CurrentPrice {
		r.log.Debug().
			Str("auction_id", snap.ID).
			Str("bid_id", bid.ID).
			Float64("amount", bid.Amount).
			Float64("current_price", snap.CurrentPrice).
			Msg("stale bid event, amount does not exceed current price")
		return snap, ApplyResult{}
	}

	out := snap.Clone()
	out.Bids = append(out.Bids, bid)
	out.CurrentPrice = bid.Amount
	out.HighestBidder = &auction.UserRef{ID: bid.BidderID, Username: bid.BidderUsername}
	return out, ApplyResult{Changed: true, Bid: &bid, BidApplied: true}
}

// applyPhase assigns a phase pushed by a lifecycle event, validated against
// the state machine. Same-phase events are idempotent no-ops.
func (r *Reconciler) applyPhase(snap *auction.Snapshot, phase auction.Phase) (*auction.Snapshot, ApplyResult) {
	if phase == snap.Phase {
		return snap, ApplyResult{}
	}
	if !snap.Phase.Reachable(phase) {
		r.log.Warn().
			Str("auction_id", snap.ID).
			Str("current_phase", string(snap.Phase)).
			Str("event_phase", string(phase)).
			Msg("rejecting unreachable phase transition")
		return snap, ApplyResult{}
	}
	out := snap.Clone()
	out.Phase = phase
	return out, ApplyResult{Changed: true}
}

// applyEnded handles the terminal lifecycle event, which may carry the final
// price and winner alongside the phase.
func (r *Reconciler) applyEnded(snap *auction.Snapshot, p *wire.AuctionEndedPayload) (*auction.Snapshot, ApplyResult) {
	status := p.Status
	if status == "" {
		status = auction.PhaseEnded
	}
	if !status.Terminal() {
		r.log.Warn().
			Str("auction_id", snap.ID).
			Str("status", string(status)).
			Msg("rejecting auction-ended event with non-terminal status")
		return snap, ApplyResult{}
	}
	out, res := r.applyPhase(snap, status)
	if !res.Changed {
		return snap, res
	}
	if p.FinalPrice >= out.CurrentPrice && p.FinalPrice > 0 {
		out.CurrentPrice = p.FinalPrice
	}
	if p.HighestBidder != nil {
		hb := *p.HighestBidder
		out.HighestBidder = &hb
	}
	return out, res
}
