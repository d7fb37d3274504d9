package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bidhaus/bidhaus/go/internal/transport"
	"github.com/bidhaus/bidhaus/go/internal/wire"
)

// RoomManager tracks which auction rooms this session is subscribed to. Room
// membership is the one shared resource between facades: the same auction can
// be watched from a list view and a detail view at once, so membership is
// reference counted and the join-room/leave-room control messages go out only
// on the 0->1 and 1->0 transitions.
//
// Join and leave are fire and forget: a failed send is logged and the count
// still moves, because reconciliation falls back to the last fetched snapshot
// until the next successful push and membership is replayed on reconnect.
type RoomManager struct {
	transport transport.Transport
	log       zerolog.Logger

	mu   sync.Mutex
	refs map[string]int
}

// NewRoomManager creates a room manager on top of the given transport.
func NewRoomManager(tr transport.Transport, log zerolog.Logger) *RoomManager {
	return &RoomManager{
		transport: tr,
		log:       log,
		refs:      make(map[string]int),
	}
}

// Join registers interest in an auction's room. The underlying channel join is
// emitted only when this is the first interested party.
func (m *RoomManager) Join(ctx context.Context, auctionID string) {
	m.mu.Lock()
	m.refs[auctionID]++
	first := m.refs[auctionID] == 1
	m.mu.Unlock()

	if !first {
		return
	}
	msg := wire.MustMessage(wire.TypeJoinRoom, wire.JoinRoomPayload{AuctionID: auctionID})
	if err := m.transport.Send(ctx, msg); err != nil {
		m.log.Warn().Err(err).Str("auction_id", auctionID).Msg("join-room send failed")
	}
}

// Leave drops one registration of interest. Leaving an auction that was never
// joined is a no-op; the channel leave goes out when the last interested party
// is gone.
func (m *RoomManager) Leave(ctx context.Context, auctionID string) {
	m.mu.Lock()
	n, ok := m.refs[auctionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	n--
	if n <= 0 {
		delete(m.refs, auctionID)
	} else {
		m.refs[auctionID] = n
	}
	last := n <= 0
	m.mu.Unlock()

	if !last {
		return
	}
	msg := wire.MustMessage(wire.TypeLeaveRoom, wire.LeaveRoomPayload{AuctionID: auctionID})
	if err := m.transport.Send(ctx, msg); err != nil {
		m.log.Warn().Err(err).Str("auction_id", auctionID).Msg("leave-room send failed")
	}
}

// Joined returns the auction ids with at least one interested party. Used to
// replay room membership after a reconnect.
func (m *RoomManager) Joined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.refs))
	for id := range m.refs {
		ids = append(ids, id)
	}
	return ids
}

// Rejoin re-emits join-room for every room with live interest. Wired to the
// transport's reconnect hook.
func (m *RoomManager) Rejoin(ctx context.Context) {
	for _, id := range m.Joined() {
		msg := wire.MustMessage(wire.TypeJoinRoom, wire.JoinRoomPayload{AuctionID: id})
		if err := m.transport.Send(ctx, msg); err != nil {
			m.log.Warn().Err(err).Str("auction_id", id).Msg("rejoin send failed")
		}
	}
}
