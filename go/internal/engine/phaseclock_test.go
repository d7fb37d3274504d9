package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

func clockSnapshot(phase auction.Phase, start, end time.Time) *auction.Snapshot {
	return &auction.Snapshot{
		ID:        "a1",
		Phase:     phase,
		StartTime: start,
		EndTime:   end,
	}
}

func TestComputeTick(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		snap        *auction.Snapshot
		wantPhase   auction.Phase
		wantLeft    time.Duration
		wantExpired bool
	}{
		{
			name:      "pending_counts_down_to_start",
			snap:      clockSnapshot(auction.PhasePending, now.Add(60*time.Second), now.Add(time.Hour)),
			wantPhase: auction.PhasePending,
			wantLeft:  60 * time.Second,
		},
		{
			name:      "active_counts_down_to_end",
			snap:      clockSnapshot(auction.PhaseActive, now.Add(-time.Minute), now.Add(30*time.Second)),
			wantPhase: auction.PhaseActive,
			wantLeft:  30 * time.Second,
		},
		{
			name:      "pending_past_start_displays_active",
			snap:      clockSnapshot(auction.PhasePending, now.Add(-time.Second), now.Add(time.Hour)),
			wantPhase: auction.PhaseActive,
			wantLeft:  time.Hour,
		},
		{
			name:        "past_end_without_server_verdict_is_locally_expired",
			snap:        clockSnapshot(auction.PhaseActive, now.Add(-2*time.Hour), now.Add(-time.Second)),
			wantPhase:   auction.PhaseActive,
			wantExpired: true,
		},
		{
			name:      "sold_is_terminal",
			snap:      clockSnapshot(auction.PhaseSold, now.Add(-2*time.Hour), now.Add(time.Hour)),
			wantPhase: auction.PhaseSold,
		},
		{
			name:      "cancelled_is_terminal",
			snap:      clockSnapshot(auction.PhaseCancelled, now.Add(time.Minute), now.Add(time.Hour)),
			wantPhase: auction.PhaseCancelled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTick(now, tt.snap)
			assert.Equal(t, tt.wantPhase, got.DisplayPhase)
			assert.Equal(t, tt.wantLeft, got.Remaining)
			assert.Equal(t, tt.wantExpired, got.LocallyExpired)
		})
	}
}

// The clock must never decide sold vs ended locally: a finished countdown
// surfaces only as a local-expiry signal with the phase left server-derived.
func TestComputeTickNeverAssignsTerminalPhase(t *testing.T) {
	now := time.Now()
	snap := clockSnapshot(auction.PhaseActive, now.Add(-time.Hour), now.Add(-time.Minute))
	snap.Bids = []auction.Bid{{ID: "b1", Amount: 50}}

	got := ComputeTick(now, snap)
	assert.Equal(t, auction.PhaseActive, got.DisplayPhase)
	assert.True(t, got.LocallyExpired)
}

func TestComputeTickIsPure(t *testing.T) {
	now := time.Now()
	snap := clockSnapshot(auction.PhaseActive, now.Add(-time.Minute), now.Add(time.Minute))
	first := ComputeTick(now, snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputeTick(now, snap))
	}
}

// A pending snapshot ticks toward its start; once auction-started is
// reconciled, the same instant yields an active countdown toward the end.
func TestComputeTickAcrossStartTransition(t *testing.T) {
	now := time.Now()
	snap := clockSnapshot(auction.PhasePending, now.Add(60*time.Second), now.Add(10*time.Minute))

	before := ComputeTick(now, snap)
	assert.Equal(t, auction.PhasePending, before.DisplayPhase)
	assert.Equal(t, 60*time.Second, before.Remaining)

	started := snap.Clone()
	started.Phase = auction.PhaseActive
	started.StartTime = now.Add(-time.Second)

	after := ComputeTick(now, started)
	assert.Equal(t, auction.PhaseActive, after.DisplayPhase)
	assert.Equal(t, started.EndTime.Sub(now), after.Remaining)
}
