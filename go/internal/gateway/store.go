package gateway

import (
	"context"
	"errors"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

var (
	// ErrNotFound means no auction exists with the given id.
	ErrNotFound = errors.New("auction not found")
	// ErrNotPending means a mutation was attempted on an auction that already
	// left the pending phase.
	ErrNotPending = errors.New("auction is no longer pending")
	// ErrBidTooLow means the bid does not exceed the current price by the
	// minimum increment.
	ErrBidTooLow = errors.New("bid does not meet the minimum increment")
	// ErrPhaseConflict means a lifecycle transition is not legal from the
	// auction's current phase.
	ErrPhaseConflict = errors.New("phase transition not allowed")
)

// Store is the gateway's authoritative auction state. Implementations must
// make AppendBid and SetPhase atomic with respect to their own validation.
type Store interface {
	GetAuction(ctx context.Context, id string) (*auction.Snapshot, error)
	ListAuctions(ctx context.Context, params auction.ListParams) (*auction.Page, error)
	CreateAuction(ctx context.Context, snap *auction.Snapshot) error
	UpdateAuction(ctx context.Context, id string, patch auction.Patch) (*auction.Snapshot, error)

	// AppendBid records a bid if the auction is still active and the bid
	// beats the current price by the minimum increment, and returns the
	// updated snapshot. Both checks run under the store's own lock so a bid
	// racing a lifecycle transition cannot land on a closed auction.
	AppendBid(ctx context.Context, id string, bid auction.Bid) (*auction.Snapshot, error)

	// SetPhase moves the auction's lifecycle forward. The transition must be
	// legal from the current phase or ErrPhaseConflict is returned.
	SetPhase(ctx context.Context, id string, phase auction.Phase) (*auction.Snapshot, error)

	// ListByPhase returns all auctions currently in the given phase. Used to
	// rebuild lifecycle timers at startup.
	ListByPhase(ctx context.Context, phase auction.Phase) ([]*auction.Snapshot, error)
}

// applyPatch merges a patch into a snapshot. Price edits re-seed the current
// price, which is safe because patches are only legal while pending (no bids
// yet).
func applyPatch(snap *auction.Snapshot, patch auction.Patch) {
	if patch.Title != nil {
		snap.Title = *patch.Title
	}
	if patch.Description != nil {
		snap.Description = *patch.Description
	}
	if patch.Category != nil {
		snap.Category = *patch.Category
	}
	if patch.Condition != nil {
		snap.Condition = *patch.Condition
	}
	if patch.Location != nil {
		snap.Location = *patch.Location
	}
	if patch.StartingPrice != nil {
		snap.StartingPrice = *patch.StartingPrice
		snap.CurrentPrice = *patch.StartingPrice
	}
	if patch.MinimumIncrement != nil {
		snap.MinimumIncrement = *patch.MinimumIncrement
	}
	if patch.StartTime != nil {
		snap.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		snap.EndTime = *patch.EndTime
	}
}
