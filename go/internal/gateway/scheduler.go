package gateway

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

// LifecycleActions are the transitions the scheduler fires. Implemented by
// the gateway service.
type LifecycleActions interface {
	StartAuction(ctx context.Context, auctionID string)
	EndAuction(ctx context.Context, auctionID string)
}

// LifecycleScheduler arms one-shot timers for every scheduled auction: one
// for the start time while pending, one for the end time until terminal.
// Rescheduling an auction replaces its timers.
type LifecycleScheduler struct {
	clock   clockwork.Clock
	actions LifecycleActions

	mu     sync.Mutex
	timers map[string]*auctionTimers
}

type auctionTimers struct {
	start clockwork.Timer
	end   clockwork.Timer
}

// NewLifecycleScheduler creates a scheduler. Pass a fake clock in tests.
func NewLifecycleScheduler(clock clockwork.Clock, actions LifecycleActions) *LifecycleScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LifecycleScheduler{
		clock:   clock,
		actions: actions,
		timers:  make(map[string]*auctionTimers),
	}
}

// Schedule arms (or re-arms) the auction's lifecycle timers. Past-due
// transitions fire immediately, so calling this on startup for every stored
// auction brings the lifecycle back in sync after a restart.
func (ls *LifecycleScheduler) Schedule(ctx context.Context, snap *auction.Snapshot) {
	if snap.Phase.Terminal() {
		ls.Cancel(snap.ID)
		return
	}

	now := ls.clock.Now()
	timers := &auctionTimers{}

	if snap.Phase == auction.PhasePending {
		wait := snap.StartTime.Sub(now)
		if wait <= 0 {
			// Missed while down, start right away.
			go ls.actions.StartAuction(ctx, snap.ID)
		} else {
			timer := ls.clock.NewTimer(wait)
			timers.start = timer
			go ls.waitAndFire(ctx, snap.ID, timer, ls.actions.StartAuction)
			log.Debug().
				Str("auction_id", snap.ID).
				Time("deadline", snap.StartTime).
				Dur("duration", wait).
				Msg("scheduled start timer")
		}
	}

	wait := snap.EndTime.Sub(now)
	if wait <= 0 {
		go ls.actions.EndAuction(ctx, snap.ID)
	} else {
		timer := ls.clock.NewTimer(wait)
		timers.end = timer
		go ls.waitAndFire(ctx, snap.ID, timer, ls.actions.EndAuction)
		log.Debug().
			Str("auction_id", snap.ID).
			Time("deadline", snap.EndTime).
			Dur("duration", wait).
			Msg("scheduled end timer")
	}

	ls.replaceTimers(snap.ID, timers)
}

// Resume re-arms timers for every non-terminal auction in the store.
func (ls *LifecycleScheduler) Resume(ctx context.Context, store Store) error {
	for _, phase := range []auction.Phase{auction.PhasePending, auction.PhaseActive} {
		snaps, err := store.ListByPhase(ctx, phase)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			ls.Schedule(ctx, snap)
		}
		log.Info().
			Str("phase", string(phase)).
			Int("auctions", len(snaps)).
			Msg("resumed lifecycle timers")
	}
	return nil
}

// Cancel stops both timers for an auction.
func (ls *LifecycleScheduler) Cancel(auctionID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if timers, exists := ls.timers[auctionID]; exists {
		timers.stopAll()
		delete(ls.timers, auctionID)
		log.Debug().Str("auction_id", auctionID).Msg("cancelled lifecycle timers")
	}
}

func (ls *LifecycleScheduler) waitAndFire(ctx context.Context, auctionID string, timer clockwork.Timer, fire func(context.Context, string)) {
	select {
	case <-timer.Chan():
		fire(ctx, auctionID)
	case <-ctx.Done():
		stopAndDrainTimer(timer)
	}
}

// replaceTimers atomically replaces the timers for an auction, stopping any
// existing ones so a reschedule cannot leave a stale timer armed.
func (ls *LifecycleScheduler) replaceTimers(auctionID string, timers *auctionTimers) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if existing, exists := ls.timers[auctionID]; exists {
		existing.stopAll()
		log.Debug().Str("auction_id", auctionID).Msg("replaced existing lifecycle timers")
	}
	ls.timers[auctionID] = timers
}

func (t *auctionTimers) stopAll() {
	if t.start != nil {
		stopAndDrainTimer(t.start)
	}
	if t.end != nil {
		stopAndDrainTimer(t.end)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop() documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
