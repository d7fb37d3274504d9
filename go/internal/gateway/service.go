package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/bidhaus/go/internal/auction"
	"github.com/bidhaus/bidhaus/go/internal/wire"
)

// Scheduler drives the pending -> active -> terminal lifecycle on the server
// clock.
type Scheduler interface {
	Schedule(ctx context.Context, snap *auction.Snapshot)
	Cancel(auctionID string)
}

// Service owns the auction room protocol: join/leave bookkeeping, bid
// validation against the authoritative store, and the fan-out of lifecycle
// and bid events to room members.
type Service struct {
	store     Store
	hub       *RoomHub
	publisher EventPublisher
	scheduler Scheduler
	clock     clockwork.Clock
}

// NewService creates the gateway service. The hub and scheduler are attached
// after construction because each of them holds a reference back to the
// service.
func NewService(store Store, publisher EventPublisher, clock clockwork.Clock) *Service {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		clock:     clock,
	}
}

// AttachHub wires the room hub used for broadcasts and unicasts.
func (s *Service) AttachHub(hub *RoomHub) { s.hub = hub }

// AttachScheduler wires the lifecycle scheduler consulted on create/update.
func (s *Service) AttachScheduler(sched Scheduler) { s.scheduler = sched }

// HandleMessage dispatches one inbound client message.
func (s *Service) HandleMessage(ctx context.Context, conn *Conn, msg wire.Message) {
	payload, err := wire.ParsePayload(msg)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Str("type", string(msg.Type)).
			Msg("dropping unparseable client message")
		return
	}

	switch p := payload.(type) {
	case *wire.JoinRoomPayload:
		s.handleJoin(ctx, conn, p.AuctionID)
	case *wire.LeaveRoomPayload:
		s.hub.LeaveRoom(conn, p.AuctionID)
	case *wire.PlaceBidPayload:
		s.handlePlaceBid(ctx, conn, p)
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("type", string(msg.Type)).
			Msg("ignoring client message type")
	}
}

// HandleDisconnect is called once when a connection drops. Room membership is
// already cleaned up by the hub.
func (s *Service) HandleDisconnect(conn *Conn) {
	log.Debug().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("client disconnected")
}

// handleJoin subscribes the connection and immediately unicasts the current
// snapshot so the client can reconcile whatever it missed.
func (s *Service) handleJoin(ctx context.Context, conn *Conn, auctionID string) {
	snap, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Str("auction_id", auctionID).
			Msg("join for unknown auction")
		return
	}

	s.hub.JoinRoom(conn, auctionID)
	s.hub.Send(conn, wire.MustMessage(wire.TypeAuctionUpdated, snap))
}

func (s *Service) handlePlaceBid(ctx context.Context, conn *Conn, p *wire.PlaceBidPayload) {
	reject := func(reason string) {
		s.hub.Send(conn, wire.MustMessage(wire.TypeBidError, wire.BidErrorPayload{
			AuctionID: p.AuctionID,
			Message:   reason,
		}))
	}

	// The connection identity wins over whatever the payload claims. An
	// unauthenticated connection can watch rooms but never bid.
	bidderID := conn.UserID
	bidderUsername := conn.Username
	if bidderID == "" || bidderID == AnonymousUser {
		reject("bidding requires an authenticated identity")
		return
	}

	snap, err := s.store.GetAuction(ctx, p.AuctionID)
	if err != nil {
		reject("auction not found")
		return
	}

	if reason := validateIncomingBid(snap, bidderID, p.Amount); reason != "" {
		reject(reason)
		return
	}

	bid := auction.Bid{
		ID:             uuid.New().String(),
		BidderID:       bidderID,
		BidderUsername: bidderUsername,
		Amount:         p.Amount,
		Timestamp:      s.clock.Now().UTC(),
	}

	updated, err := s.store.AppendBid(ctx, p.AuctionID, bid)
	if err != nil {
		switch {
		case errors.Is(err, ErrBidTooLow):
			reject(fmt.Sprintf("bid is below minimum of %.2f", snap.MinimumNextBid()))
		case errors.Is(err, ErrPhaseConflict):
			reject("auction is not active")
		case errors.Is(err, ErrNotFound):
			reject("auction not found")
		default:
			log.Error().Err(err).Str("auction_id", p.AuctionID).Msg("failed to record bid")
			reject("failed to record bid")
		}
		return
	}

	log.Info().
		Str("auction_id", p.AuctionID).
		Str("bidder_id", bidderID).
		Float64("amount", bid.Amount).
		Msg("bid accepted")

	s.hub.Send(conn, wire.MustMessage(wire.TypeBidPlaced, wire.BidPlacedPayload{
		AuctionID: p.AuctionID,
		Message:   "bid placed successfully",
		Bid:       &bid,
	}))
	s.hub.Broadcast(p.AuctionID, wire.MustMessage(wire.TypeBidAccepted, wire.BidAcceptedPayload{
		AuctionID: p.AuctionID,
		Bid:       bid,
	}))
	s.hub.Broadcast(p.AuctionID, wire.MustMessage(wire.TypeAuctionUpdated, updated))

	s.publisher.Publish(ctx, "bid.accepted", p.AuctionID, wire.BidAcceptedPayload{
		AuctionID: p.AuctionID,
		Bid:       bid,
	})
}

// validateIncomingBid checks everything that does not need store atomicity.
// The minimum-increment check is repeated inside AppendBid under the store's
// own lock.
func validateIncomingBid(snap *auction.Snapshot, bidderID string, amount float64) string {
	if snap.Phase != auction.PhaseActive {
		return "auction is not active"
	}
	if bidderID == "" {
		return "bidder identity is required"
	}
	if snap.CreatedBy.ID == bidderID {
		return "sellers cannot bid on their own auction"
	}
	if snap.HighestBidder != nil && snap.HighestBidder.ID == bidderID {
		return "you are already the highest bidder"
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return "bid amount must be a positive number"
	}
	if amount < snap.MinimumNextBid() {
		return fmt.Sprintf("bid is below minimum of %.2f", snap.MinimumNextBid())
	}
	return ""
}

// CreateAuction persists a new pending auction and schedules its lifecycle.
func (s *Service) CreateAuction(ctx context.Context, req auction.CreateRequest, seller auction.UserRef) (*auction.Snapshot, error) {
	if req.Title == "" {
		return nil, errors.New("title is required")
	}
	if req.StartingPrice <= 0 {
		return nil, errors.New("starting price must be positive")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, errors.New("end time must be after start time")
	}

	increment := req.MinimumIncrement
	if increment <= 0 {
		increment = 1
	}

	snap := &auction.Snapshot{
		ID:               uuid.New().String(),
		Title:            req.Title,
		Description:      req.Description,
		Category:         req.Category,
		Condition:        req.Condition,
		Location:         req.Location,
		CreatedBy:        seller,
		StartingPrice:    req.StartingPrice,
		CurrentPrice:     req.StartingPrice,
		MinimumIncrement: increment,
		Phase:            auction.PhasePending,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
	}

	if err := s.store.CreateAuction(ctx, snap); err != nil {
		return nil, err
	}

	log.Info().
		Str("auction_id", snap.ID).
		Str("seller_id", seller.ID).
		Time("start_time", snap.StartTime).
		Time("end_time", snap.EndTime).
		Msg("auction created")

	if s.scheduler != nil {
		s.scheduler.Schedule(ctx, snap)
	}
	return snap, nil
}

// UpdateAuction patches a pending auction and reschedules its lifecycle in
// case the start or end time moved.
func (s *Service) UpdateAuction(ctx context.Context, id string, patch auction.Patch) (*auction.Snapshot, error) {
	snap, err := s.store.UpdateAuction(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if s.scheduler != nil && (patch.StartTime != nil || patch.EndTime != nil) {
		s.scheduler.Schedule(ctx, snap)
	}
	return snap, nil
}

// GetAuction reads one auction.
func (s *Service) GetAuction(ctx context.Context, id string) (*auction.Snapshot, error) {
	return s.store.GetAuction(ctx, id)
}

// ListAuctions reads a filtered page of auctions.
func (s *Service) ListAuctions(ctx context.Context, params auction.ListParams) (*auction.Page, error) {
	return s.store.ListAuctions(ctx, params)
}

// StartAuction moves a pending auction to active and announces it. Called by
// the scheduler when the start time arrives.
func (s *Service) StartAuction(ctx context.Context, auctionID string) {
	snap, err := s.store.SetPhase(ctx, auctionID, auction.PhaseActive)
	if err != nil {
		if errors.Is(err, ErrPhaseConflict) {
			// Already started or cancelled, nothing to announce.
			return
		}
		log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to start auction")
		return
	}

	log.Info().Str("auction_id", auctionID).Msg("auction started")

	startedAt := s.clock.Now().UTC()
	s.hub.Broadcast(auctionID, wire.MustMessage(wire.TypeAuctionStarted, wire.AuctionStartedPayload{
		AuctionID: auctionID,
		StartedAt: startedAt,
	}))
	s.hub.Broadcast(auctionID, wire.MustMessage(wire.TypeAuctionUpdated, snap))

	s.publisher.Publish(ctx, "auction.started", auctionID, wire.AuctionStartedPayload{
		AuctionID: auctionID,
		StartedAt: startedAt,
	})
}

// EndAuction closes an active auction as sold or ended, depending on whether
// any bids arrived. Called by the scheduler when the end time arrives.
func (s *Service) EndAuction(ctx context.Context, auctionID string) {
	current, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to load auction for closing")
		return
	}
	if current.Phase.Terminal() {
		return
	}

	final := auction.PhaseEnded
	if len(current.Bids) > 0 {
		final = auction.PhaseSold
	}

	snap, err := s.store.SetPhase(ctx, auctionID, final)
	if err != nil {
		if errors.Is(err, ErrPhaseConflict) {
			return
		}
		log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to close auction")
		return
	}

	log.Info().
		Str("auction_id", auctionID).
		Str("status", string(final)).
		Float64("final_price", snap.CurrentPrice).
		Msg("auction closed")

	s.announceEnded(ctx, snap)
}

// CancelAuction force-cancels an auction and stops its lifecycle timers.
func (s *Service) CancelAuction(ctx context.Context, auctionID string) (*auction.Snapshot, error) {
	snap, err := s.store.SetPhase(ctx, auctionID, auction.PhaseCancelled)
	if err != nil {
		return nil, err
	}
	if s.scheduler != nil {
		s.scheduler.Cancel(auctionID)
	}

	log.Info().Str("auction_id", auctionID).Msg("auction cancelled")
	s.announceEnded(ctx, snap)
	return snap, nil
}

func (s *Service) announceEnded(ctx context.Context, snap *auction.Snapshot) {
	ended := wire.AuctionEndedPayload{
		AuctionID:     snap.ID,
		Status:        snap.Phase,
		FinalPrice:    snap.CurrentPrice,
		HighestBidder: snap.HighestBidder,
		EndedAt:       s.clock.Now().UTC(),
	}
	s.hub.Broadcast(snap.ID, wire.MustMessage(wire.TypeAuctionEnded, ended))
	s.hub.Broadcast(snap.ID, wire.MustMessage(wire.TypeAuctionUpdated, snap))

	s.publisher.Publish(ctx, "auction.ended", snap.ID, ended)
}
