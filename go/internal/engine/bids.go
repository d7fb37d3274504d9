package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

// OutcomeKind classifies how a bid submission resolved.
type OutcomeKind string

const (
	// OutcomeAccepted means the server accepted the bid.
	OutcomeAccepted OutcomeKind = "accepted"
	// OutcomeRejected means the bid failed a local precondition or the server
	// rejected it.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeTimedOut means no acknowledgment arrived within the bid timeout.
	// The server may still accept the bid; a late success event reconciles
	// into the snapshot regardless.
	OutcomeTimedOut OutcomeKind = "timed out"
)

// Outcome is the result of one bid submission.
type Outcome struct {
	Kind   OutcomeKind
	Reason string       // set when rejected
	Bid    *auction.Bid // set when accepted and the server echoed the bid
}

// pendingBid is the single in-flight bid for an auction in this session. It
// exists from submission until the first of success event, rejection event, or
// timeout, and its presence blocks a second submission.
type pendingBid struct {
	amount      float64
	bidder      auction.UserRef
	submittedAt time.Time
	reply       chan Outcome
}

// validateBid checks the local preconditions for submitting a bid. It returns
// a non-empty rejection reason on the first failure. No network is involved;
// the server re-validates everything on its side.
func validateBid(snap *auction.Snapshot, amount float64, bidder auction.UserRef) string {
	if snap.Phase != auction.PhaseActive {
		return "bidding is not active for this auction"
	}
	if bidder.ID == "" {
		return "a bidder identity is required"
	}
	if bidder.ID == snap.CreatedBy.ID {
		return "you cannot bid on your own auction"
	}
	if snap.HighestBidder != nil && bidder.ID == snap.HighestBidder.ID {
		return "you already hold the highest bid"
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return "bid amount must be a positive number"
	}
	if min := snap.MinimumNextBid(); amount < min {
		return fmt.Sprintf("bid is below minimum of %.2f", min)
	}
	return ""
}
