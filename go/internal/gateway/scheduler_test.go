package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

type recordedAction struct {
	kind      string
	auctionID string
}

type fakeActions struct {
	fired chan recordedAction
}

func newFakeActions() *fakeActions {
	return &fakeActions{fired: make(chan recordedAction, 16)}
}

func (f *fakeActions) StartAuction(ctx context.Context, auctionID string) {
	f.fired <- recordedAction{kind: "start", auctionID: auctionID}
}

func (f *fakeActions) EndAuction(ctx context.Context, auctionID string) {
	f.fired <- recordedAction{kind: "end", auctionID: auctionID}
}

func (f *fakeActions) next(t *testing.T) recordedAction {
	t.Helper()
	select {
	case a := <-f.fired:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lifecycle action")
		return recordedAction{}
	}
}

func (f *fakeActions) expectNone(t *testing.T) {
	t.Helper()
	select {
	case a := <-f.fired:
		t.Fatalf("unexpected lifecycle action: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func scheduledAuction(id string, clock clockwork.Clock, startIn, endIn time.Duration) *auction.Snapshot {
	now := clock.Now()
	return &auction.Snapshot{
		ID:        id,
		Title:     "vintage synth",
		Phase:     auction.PhasePending,
		StartTime: now.Add(startIn),
		EndTime:   now.Add(endIn),
		CreatedBy: auction.UserRef{ID: "seller"},
	}
}

func TestSchedulerFiresStartThenEnd(t *testing.T) {
	clock := clockwork.NewFakeClock()
	actions := newFakeActions()
	sched := NewLifecycleScheduler(clock, actions)

	snap := scheduledAuction("a1", clock, time.Minute, 2*time.Minute)
	sched.Schedule(context.Background(), snap)

	// Both timers are armed before we advance.
	clock.BlockUntil(2)

	clock.Advance(time.Minute)
	got := actions.next(t)
	assert.Equal(t, "start", got.kind)
	assert.Equal(t, "a1", got.auctionID)

	clock.Advance(time.Minute)
	got = actions.next(t)
	assert.Equal(t, "end", got.kind)
	assert.Equal(t, "a1", got.auctionID)
}

func TestSchedulerPastDueFiresImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	actions := newFakeActions()
	sched := NewLifecycleScheduler(clock, actions)

	snap := scheduledAuction("a1", clock, -time.Minute, time.Hour)
	sched.Schedule(context.Background(), snap)

	got := actions.next(t)
	assert.Equal(t, "start", got.kind)
}

func TestSchedulerActiveAuctionOnlyArmsEndTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	actions := newFakeActions()
	sched := NewLifecycleScheduler(clock, actions)

	snap := scheduledAuction("a1", clock, -time.Minute, time.Hour)
	snap.Phase = auction.PhaseActive
	sched.Schedule(context.Background(), snap)

	clock.BlockUntil(1)
	clock.Advance(time.Hour)

	got := actions.next(t)
	assert.Equal(t, "end", got.kind)
	actions.expectNone(t)
}

func TestSchedulerCancelStopsTimers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	actions := newFakeActions()
	sched := NewLifecycleScheduler(clock, actions)

	snap := scheduledAuction("a1", clock, time.Minute, 2*time.Minute)
	sched.Schedule(context.Background(), snap)
	clock.BlockUntil(2)

	sched.Cancel("a1")
	clock.Advance(3 * time.Minute)
	actions.expectNone(t)
}

func TestSchedulerRescheduleReplacesTimers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	actions := newFakeActions()
	sched := NewLifecycleScheduler(clock, actions)

	snap := scheduledAuction("a1", clock, time.Minute, 2*time.Minute)
	sched.Schedule(context.Background(), snap)
	clock.BlockUntil(2)

	// Push the whole lifecycle out an hour.
	later := scheduledAuction("a1", clock, time.Hour, 2*time.Hour)
	sched.Schedule(context.Background(), later)

	clock.Advance(2 * time.Minute)
	actions.expectNone(t)

	clock.Advance(58 * time.Minute)
	got := actions.next(t)
	assert.Equal(t, "start", got.kind)
}

func TestSchedulerTerminalAuctionSchedulesNothing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	actions := newFakeActions()
	sched := NewLifecycleScheduler(clock, actions)

	snap := scheduledAuction("a1", clock, time.Minute, 2*time.Minute)
	snap.Phase = auction.PhaseSold
	sched.Schedule(context.Background(), snap)

	clock.Advance(3 * time.Minute)
	actions.expectNone(t)
}

func TestSchedulerResumeArmsStoredAuctions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	actions := newFakeActions()
	sched := NewLifecycleScheduler(clock, actions)

	pending := scheduledAuction("a1", clock, time.Minute, time.Hour)
	active := scheduledAuction("a2", clock, -time.Minute, 2*time.Minute)
	active.Phase = auction.PhaseActive
	store := seedStore(t, pending, active)

	require.NoError(t, sched.Resume(context.Background(), store))

	// a1 start+end, a2 end.
	clock.BlockUntil(3)

	clock.Advance(time.Minute)
	got := actions.next(t)
	assert.Equal(t, "start", got.kind)
	assert.Equal(t, "a1", got.auctionID)

	clock.Advance(time.Minute)
	got = actions.next(t)
	assert.Equal(t, "end", got.kind)
	assert.Equal(t, "a2", got.auctionID)
}
