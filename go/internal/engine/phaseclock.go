package engine

import (
	"time"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

// Tick is the locally computed view of an auction's countdown at one instant.
type Tick struct {
	// DisplayPhase is the phase the UI should render right now. It can run
	// ahead of the snapshot's server-derived phase (a pending auction whose
	// start time has passed displays as active) but never decides a terminal
	// phase on its own.
	DisplayPhase auction.Phase

	// Remaining is the time until the next phase boundary: until start while
	// pending, until end while active, zero otherwise.
	Remaining time.Duration

	// LocallyExpired is set when the end time has passed but the server has
	// not pushed a terminal phase yet. The snapshot is stale and a reconciling
	// event is expected; whether the auction sold or merely ended is the
	// server's call alone.
	LocallyExpired bool
}

// ComputeTick derives the display phase and remaining time for a snapshot at
// the given instant. Pure: identical inputs always yield identical output, so
// it can be called at any rate.
func ComputeTick(now time.Time, snap *auction.Snapshot) Tick {
	if snap.Phase.Terminal() {
		return Tick{DisplayPhase: snap.Phase}
	}
	if now.Before(snap.StartTime) {
		return Tick{DisplayPhase: auction.PhasePending, Remaining: snap.StartTime.Sub(now)}
	}
	if now.Before(snap.EndTime) {
		return Tick{DisplayPhase: auction.PhaseActive, Remaining: snap.EndTime.Sub(now)}
	}
	return Tick{DisplayPhase: auction.PhaseActive, LocallyExpired: true}
}
