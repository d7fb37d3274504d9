package gateway

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

// MemStore is an in-memory Store for development and tests.
type MemStore struct {
	mu       sync.RWMutex
	auctions map[string]*auction.Snapshot
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{auctions: make(map[string]*auction.Snapshot)}
}

func (s *MemStore) GetAuction(ctx context.Context, id string) (*auction.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

func (s *MemStore) ListAuctions(ctx context.Context, params auction.ListParams) (*auction.Page, error) {
	s.mu.RLock()
	matched := make([]*auction.Snapshot, 0, len(s.auctions))
	for _, snap := range s.auctions {
		if params.Status != "" && string(snap.Phase) != params.Status {
			continue
		}
		if params.Category != "" && !strings.EqualFold(snap.Category, params.Category) {
			continue
		}
		if params.Search != "" {
			needle := strings.ToLower(params.Search)
			if !strings.Contains(strings.ToLower(snap.Title), needle) &&
				!strings.Contains(strings.ToLower(snap.Description), needle) {
				continue
			}
		}
		matched = append(matched, snap.Clone())
	}
	s.mu.RUnlock()

	sortAuctions(matched, params.SortBy, params.SortOrder)

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}

	total := len(matched)
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &auction.Page{
		Items:       matched[start:end],
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
	}, nil
}

func sortAuctions(items []*auction.Snapshot, sortBy, sortOrder string) {
	less := func(a, b *auction.Snapshot) bool {
		switch sortBy {
		case "currentPrice":
			return a.CurrentPrice < b.CurrentPrice
		case "startTime":
			return a.StartTime.Before(b.StartTime)
		case "title":
			return a.Title < b.Title
		default: // endTime
			return a.EndTime.Before(b.EndTime)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if sortOrder == "desc" {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func (s *MemStore) CreateAuction(ctx context.Context, snap *auction.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[snap.ID] = snap.Clone()
	return nil
}

func (s *MemStore) UpdateAuction(ctx context.Context, id string, patch auction.Patch) (*auction.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if snap.Phase != auction.PhasePending {
		return nil, ErrNotPending
	}
	applyPatch(snap, patch)
	return snap.Clone(), nil
}

func (s *MemStore) AppendBid(ctx context.Context, id string, bid auction.Bid) (*auction.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if snap.Phase != auction.PhaseActive {
		return nil, ErrPhaseConflict
	}
	if bid.Amount < snap.MinimumNextBid() {
		return nil, ErrBidTooLow
	}
	snap.Bids = append(snap.Bids, bid)
	snap.CurrentPrice = bid.Amount
	snap.HighestBidder = &auction.UserRef{ID: bid.BidderID, Username: bid.BidderUsername}
	return snap.Clone(), nil
}

func (s *MemStore) SetPhase(ctx context.Context, id string, phase auction.Phase) (*auction.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !snap.Phase.CanTransition(phase) {
		return nil, ErrPhaseConflict
	}
	snap.Phase = phase
	return snap.Clone(), nil
}

func (s *MemStore) ListByPhase(ctx context.Context, phase auction.Phase) ([]*auction.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auction.Snapshot
	for _, snap := range s.auctions {
		if snap.Phase == phase {
			out = append(out, snap.Clone())
		}
	}
	return out, nil
}
