package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/bidhaus/go/internal/auction"
	"github.com/bidhaus/bidhaus/go/internal/wire"
)

func baseSnapshot() *auction.Snapshot {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &auction.Snapshot{
		ID:               "a1",
		Title:            "vintage synth",
		Description:      "one careful owner",
		Category:         "music",
		StartingPrice:    100,
		CurrentPrice:     100,
		MinimumIncrement: 5,
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
		Phase:            auction.PhaseActive,
		CreatedBy:        auction.UserRef{ID: "seller", Username: "sal"},
	}
}

func bidAccepted(auctionID string, bid auction.Bid) wire.Message {
	return wire.MustMessage(wire.TypeBidAccepted, wire.BidAcceptedPayload{AuctionID: auctionID, Bid: bid})
}

func TestReconcilerAppliesBid(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()

	bid := auction.Bid{ID: "b1", BidderID: "u1", BidderUsername: "alice", Amount: 105}
	next, res := r.Apply(snap, bidAccepted("a1", bid))

	assert.True(t, res.Changed)
	assert.True(t, res.BidApplied)
	require.Len(t, next.Bids, 1)
	assert.Equal(t, float64(105), next.CurrentPrice)
	require.NotNil(t, next.HighestBidder)
	assert.Equal(t, "u1", next.HighestBidder.ID)
	assert.Equal(t, "alice", next.HighestBidder.Username)

	// Input snapshot untouched.
	assert.Equal(t, float64(100), snap.CurrentPrice)
	assert.Empty(t, snap.Bids)
}

// Duplicate delivery of the same bid id is a no-op.
func TestReconcilerDeduplicatesBidByID(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()
	bid := auction.Bid{ID: "b1", BidderID: "u1", BidderUsername: "alice", Amount: 105}

	once, res := r.Apply(snap, bidAccepted("a1", bid))
	assert.True(t, res.Changed)

	twice, res := r.Apply(once, bidAccepted("a1", bid))
	assert.False(t, res.Changed)
	assert.False(t, res.BidApplied)
	require.NotNil(t, res.Bid, "duplicate still reports the bid for own-action suppression")
	assert.Equal(t, once, twice)
	assert.Len(t, twice.Bids, 1)
}

// Monotonicity: an older bid arriving after a newer one never lowers the price.
func TestReconcilerRejectsStaleBid(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()

	newer := auction.Bid{ID: "b2", BidderID: "u2", Amount: 120}
	older := auction.Bid{ID: "b1", BidderID: "u1", Amount: 110}

	next, _ := r.Apply(snap, bidAccepted("a1", newer))
	next, res := r.Apply(next, bidAccepted("a1", older))

	assert.False(t, res.Changed)
	assert.Equal(t, float64(120), next.CurrentPrice)
	assert.Len(t, next.Bids, 1)
	assert.Equal(t, "u2", next.HighestBidder.ID)
}

func TestReconcilerIgnoresOtherAuctions(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()

	bid := auction.Bid{ID: "b1", BidderID: "u1", Amount: 200}
	next, res := r.Apply(snap, bidAccepted("other", bid))
	assert.False(t, res.Changed)
	assert.Equal(t, snap, next)
}

func TestReconcilerFullUpdate(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()

	evt := snap.Clone()
	evt.Title = "vintage synth (serviced)"
	evt.CurrentPrice = 130
	evt.Bids = []auction.Bid{
		{ID: "b1", BidderID: "u1", Amount: 110},
		{ID: "b2", BidderID: "u2", Amount: 130},
	}
	evt.HighestBidder = &auction.UserRef{ID: "u2", Username: "bob"}

	next, res := r.Apply(snap, wire.MustMessage(wire.TypeAuctionUpdated, evt))
	assert.True(t, res.Changed)
	assert.Equal(t, "vintage synth (serviced)", next.Title)
	assert.Equal(t, float64(130), next.CurrentPrice)
	assert.Len(t, next.Bids, 2)
	assert.Equal(t, "u2", next.HighestBidder.ID)
}

func TestReconcilerFullUpdateKeepsNewerPrice(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()
	snap.CurrentPrice = 150
	snap.Bids = []auction.Bid{{ID: "b9", BidderID: "u9", Amount: 150}}
	snap.HighestBidder = &auction.UserRef{ID: "u9"}

	// A delayed periodic push from before the last bid.
	stale := baseSnapshot()
	stale.Title = "vintage synth (relisted)"
	stale.CurrentPrice = 120
	stale.Bids = []auction.Bid{{ID: "b1", BidderID: "u1", Amount: 120}}

	next, res := r.Apply(snap, wire.MustMessage(wire.TypeAuctionUpdated, stale))
	assert.True(t, res.Changed, "descriptive refresh still applies")
	assert.Equal(t, "vintage synth (relisted)", next.Title)
	assert.Equal(t, float64(150), next.CurrentPrice)
	assert.Equal(t, "b9", next.Bids[0].ID)
	assert.Equal(t, "u9", next.HighestBidder.ID)
}

func TestReconcilerFullUpdateUnreachablePhase(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()
	snap.Phase = auction.PhaseSold

	evt := baseSnapshot()
	evt.Phase = auction.PhaseActive

	next, res := r.Apply(snap, wire.MustMessage(wire.TypeAuctionUpdated, evt))
	assert.False(t, res.Changed)
	assert.Equal(t, auction.PhaseSold, next.Phase)
}

func TestReconcilerAuctionStarted(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()
	snap.Phase = auction.PhasePending

	msg := wire.MustMessage(wire.TypeAuctionStarted, wire.AuctionStartedPayload{AuctionID: "a1"})
	next, res := r.Apply(snap, msg)
	assert.True(t, res.Changed)
	assert.Equal(t, auction.PhaseActive, next.Phase)

	// Replay is idempotent.
	again, res := r.Apply(next, msg)
	assert.False(t, res.Changed)
	assert.Equal(t, next, again)
}

func TestReconcilerAuctionEndedSold(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()

	msg := wire.MustMessage(wire.TypeAuctionEnded, wire.AuctionEndedPayload{
		AuctionID:     "a1",
		Status:        auction.PhaseSold,
		FinalPrice:    180,
		HighestBidder: &auction.UserRef{ID: "u3", Username: "carol"},
	})
	next, res := r.Apply(snap, msg)
	assert.True(t, res.Changed)
	assert.Equal(t, auction.PhaseSold, next.Phase)
	assert.Equal(t, float64(180), next.CurrentPrice)
	assert.Equal(t, "u3", next.HighestBidder.ID)
}

// A cancelled event arriving after the snapshot is already sold is rejected
// and the snapshot stays sold.
func TestReconcilerTerminalPhaseAbsorbs(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()
	snap.Phase = auction.PhaseSold

	msg := wire.MustMessage(wire.TypeAuctionEnded, wire.AuctionEndedPayload{
		AuctionID: "a1",
		Status:    auction.PhaseCancelled,
	})
	next, res := r.Apply(snap, msg)
	assert.False(t, res.Changed)
	assert.Equal(t, auction.PhaseSold, next.Phase)
}

func TestReconcilerBidError(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()

	msg := wire.MustMessage(wire.TypeBidError, wire.BidErrorPayload{AuctionID: "a1", Message: "bid too low"})
	next, res := r.Apply(snap, msg)
	assert.False(t, res.Changed, "a rejection never mutates the snapshot")
	assert.Equal(t, "bid too low", res.RejectMessage)
	assert.Equal(t, snap, next)
}

func TestReconcilerBidPlacedCarriesBid(t *testing.T) {
	r := NewReconciler(zerolog.Nop())
	snap := baseSnapshot()

	bid := auction.Bid{ID: "b1", BidderID: "u1", BidderUsername: "alice", Amount: 110}
	msg := wire.MustMessage(wire.TypeBidPlaced, wire.BidPlacedPayload{
		AuctionID: "a1",
		Message:   "your bid was placed",
		Bid:       &bid,
	})
	next, res := r.Apply(snap, msg)
	assert.True(t, res.Changed)
	assert.Equal(t, "your bid was placed", res.AckMessage)
	assert.Equal(t, float64(110), next.CurrentPrice)
	assert.True(t, next.HasBid("b1"))
}

// Idempotence across every event kind: applying twice equals applying once.
func TestReconcilerIdempotence(t *testing.T) {
	r := NewReconciler(zerolog.Nop())

	full := baseSnapshot()
	full.CurrentPrice = 140
	full.Phase = auction.PhaseActive

	msgs := []wire.Message{
		bidAccepted("a1", auction.Bid{ID: "b1", BidderID: "u1", Amount: 125}),
		wire.MustMessage(wire.TypeAuctionUpdated, full),
		wire.MustMessage(wire.TypeAuctionStarted, wire.AuctionStartedPayload{AuctionID: "a1"}),
		wire.MustMessage(wire.TypeAuctionEnded, wire.AuctionEndedPayload{AuctionID: "a1", Status: auction.PhaseEnded}),
	}

	for _, msg := range msgs {
		snap := baseSnapshot()
		once, _ := r.Apply(snap, msg)
		twice, res := r.Apply(once, msg)
		assert.False(t, res.Changed, "type %s", msg.Type)
		assert.Equal(t, once, twice, "type %s", msg.Type)
	}
}
