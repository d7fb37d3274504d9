package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

func TestValidateBid(t *testing.T) {
	snap := baseSnapshot() // active, price 100, increment 5, seller "seller"
	snap.HighestBidder = &auction.UserRef{ID: "leader", Username: "lea"}

	bidder := auction.UserRef{ID: "u1", Username: "alice"}

	tests := []struct {
		name       string
		mutate     func(s *auction.Snapshot)
		bidder     auction.UserRef
		amount     float64
		wantReason string
	}{
		{
			name:   "valid_bid",
			bidder: bidder,
			amount: 105,
		},
		{
			name:       "pending_auction",
			mutate:     func(s *auction.Snapshot) { s.Phase = auction.PhasePending },
			bidder:     bidder,
			amount:     105,
			wantReason: "bidding is not active",
		},
		{
			name:       "sold_auction",
			mutate:     func(s *auction.Snapshot) { s.Phase = auction.PhaseSold },
			bidder:     bidder,
			amount:     105,
			wantReason: "bidding is not active",
		},
		{
			name:       "anonymous_bidder",
			bidder:     auction.UserRef{},
			amount:     105,
			wantReason: "identity is required",
		},
		{
			name:       "seller_bids_own_auction",
			bidder:     auction.UserRef{ID: "seller"},
			amount:     105,
			wantReason: "your own auction",
		},
		{
			name:       "already_highest_bidder",
			bidder:     auction.UserRef{ID: "leader"},
			amount:     105,
			wantReason: "already hold the highest bid",
		},
		{
			name:       "nan_amount",
			bidder:     bidder,
			amount:     math.NaN(),
			wantReason: "positive number",
		},
		{
			name:       "infinite_amount",
			bidder:     bidder,
			amount:     math.Inf(1),
			wantReason: "positive number",
		},
		{
			name:       "negative_amount",
			bidder:     bidder,
			amount:     -10,
			wantReason: "positive number",
		},
		{
			name:       "below_minimum_increment",
			bidder:     bidder,
			amount:     103,
			wantReason: "below minimum of 105.00",
		},
		{
			name:   "exactly_minimum",
			bidder: bidder,
			amount: 105,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := snap.Clone()
			if tt.mutate != nil {
				tt.mutate(s)
			}
			reason := validateBid(s, tt.amount, tt.bidder)
			if tt.wantReason == "" {
				assert.Empty(t, reason)
			} else {
				assert.Contains(t, reason, tt.wantReason)
			}
		})
	}
}

func TestValidateBidDefaultIncrement(t *testing.T) {
	snap := baseSnapshot()
	snap.MinimumIncrement = 0
	snap.HighestBidder = nil

	assert.Contains(t, validateBid(snap, 100.5, auction.UserRef{ID: "u1"}), "below minimum of 101.00")
	assert.Empty(t, validateBid(snap, 101, auction.UserRef{ID: "u1"}))
}
