package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

func seedStore(t *testing.T, snaps ...*auction.Snapshot) *MemStore {
	t.Helper()
	store := NewMemStore()
	for _, snap := range snaps {
		require.NoError(t, store.CreateAuction(context.Background(), snap))
	}
	return store
}

func pendingAuction(id string) *auction.Snapshot {
	now := time.Now()
	return &auction.Snapshot{
		ID:               id,
		Title:            "vintage synth",
		Category:         "music",
		StartingPrice:    100,
		CurrentPrice:     100,
		MinimumIncrement: 5,
		Phase:            auction.PhasePending,
		StartTime:        now.Add(time.Hour),
		EndTime:          now.Add(2 * time.Hour),
		CreatedBy:        auction.UserRef{ID: "seller", Username: "seller"},
	}
}

func TestMemStoreGetReturnsCopy(t *testing.T) {
	store := seedStore(t, pendingAuction("a1"))

	first, err := store.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	first.Title = "mutated"

	second, err := store.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "vintage synth", second.Title)
}

func TestMemStoreGetMissing(t *testing.T) {
	store := NewMemStore()
	_, err := store.GetAuction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreAppendBid(t *testing.T) {
	snap := pendingAuction("a1")
	snap.Phase = auction.PhaseActive
	store := seedStore(t, snap)

	bid := auction.Bid{ID: "b1", BidderID: "u1", BidderUsername: "alice", Amount: 105}
	updated, err := store.AppendBid(context.Background(), "a1", bid)
	require.NoError(t, err)
	assert.Equal(t, float64(105), updated.CurrentPrice)
	require.Len(t, updated.Bids, 1)
	require.NotNil(t, updated.HighestBidder)
	assert.Equal(t, "u1", updated.HighestBidder.ID)
}

func TestMemStoreAppendBidRejectedOnceClosed(t *testing.T) {
	snap := pendingAuction("a1")
	snap.Phase = auction.PhaseActive
	store := seedStore(t, snap)

	_, err := store.SetPhase(context.Background(), "a1", auction.PhaseEnded)
	require.NoError(t, err)

	// A bid that raced the end transition must not land on the closed auction.
	_, err = store.AppendBid(context.Background(), "a1", auction.Bid{ID: "b1", BidderID: "u1", Amount: 500})
	assert.ErrorIs(t, err, ErrPhaseConflict)

	after, err := store.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, after.Bids)
	assert.Equal(t, float64(100), after.CurrentPrice)
}

func TestMemStoreAppendBidRejectedWhilePending(t *testing.T) {
	store := seedStore(t, pendingAuction("a1"))

	_, err := store.AppendBid(context.Background(), "a1", auction.Bid{ID: "b1", BidderID: "u1", Amount: 500})
	assert.ErrorIs(t, err, ErrPhaseConflict)
}

func TestMemStoreAppendBidBelowIncrement(t *testing.T) {
	snap := pendingAuction("a1")
	snap.Phase = auction.PhaseActive
	store := seedStore(t, snap)

	_, err := store.AppendBid(context.Background(), "a1", auction.Bid{ID: "b1", Amount: 104})
	assert.ErrorIs(t, err, ErrBidTooLow)
}

func TestMemStoreUpdateOnlyWhilePending(t *testing.T) {
	store := seedStore(t, pendingAuction("a1"))

	title := "vintage synth (serviced)"
	updated, err := store.UpdateAuction(context.Background(), "a1", auction.Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	_, err = store.SetPhase(context.Background(), "a1", auction.PhaseActive)
	require.NoError(t, err)

	_, err = store.UpdateAuction(context.Background(), "a1", auction.Patch{Title: &title})
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestMemStorePatchStartingPriceReseedsCurrent(t *testing.T) {
	store := seedStore(t, pendingAuction("a1"))

	price := 250.0
	updated, err := store.UpdateAuction(context.Background(), "a1", auction.Patch{StartingPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, price, updated.StartingPrice)
	assert.Equal(t, price, updated.CurrentPrice)
}

func TestMemStoreSetPhaseRejectsIllegalTransition(t *testing.T) {
	store := seedStore(t, pendingAuction("a1"))

	_, err := store.SetPhase(context.Background(), "a1", auction.PhaseSold)
	assert.ErrorIs(t, err, ErrPhaseConflict)

	_, err = store.SetPhase(context.Background(), "a1", auction.PhaseCancelled)
	require.NoError(t, err)

	_, err = store.SetPhase(context.Background(), "a1", auction.PhaseActive)
	assert.ErrorIs(t, err, ErrPhaseConflict)
}

func TestMemStoreListFilterSearchSort(t *testing.T) {
	a := pendingAuction("a1")
	a.Title = "vintage synth"
	a.Phase = auction.PhaseActive
	a.EndTime = time.Now().Add(1 * time.Hour)

	b := pendingAuction("a2")
	b.Title = "drum machine"
	b.Phase = auction.PhaseActive
	b.EndTime = time.Now().Add(2 * time.Hour)

	c := pendingAuction("a3")
	c.Title = "synth stand"
	c.Category = "furniture"

	store := seedStore(t, a, b, c)

	page, err := store.ListAuctions(context.Background(), auction.ListParams{Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)

	page, err = store.ListAuctions(context.Background(), auction.ListParams{Search: "synth"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)

	page, err = store.ListAuctions(context.Background(), auction.ListParams{Category: "furniture"})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems)
	assert.Equal(t, "a3", page.Items[0].ID)

	page, err = store.ListAuctions(context.Background(), auction.ListParams{
		Status: "active", SortBy: "endTime", SortOrder: "desc",
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "a2", page.Items[0].ID)
}

func TestMemStoreListPagination(t *testing.T) {
	snaps := make([]*auction.Snapshot, 0, 5)
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		snaps = append(snaps, pendingAuction(id))
	}
	store := seedStore(t, snaps...)

	page, err := store.ListAuctions(context.Background(), auction.ListParams{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 5, page.TotalItems)
	assert.Len(t, page.Items, 2)

	page, err = store.ListAuctions(context.Background(), auction.ListParams{Page: 9, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}
