package auction

import "time"

// UserRef identifies a user on the wire: an opaque id plus a display name.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Bid is a single accepted bid. Immutable once accepted by the server.
type Bid struct {
	ID             string    `json:"id"`
	BidderID       string    `json:"bidderId"`
	BidderUsername string    `json:"bidderUsername"`
	Amount         float64   `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot is the authoritative-as-known view of one auction. On the client it
// is created by the initial fetch and mutated only through reconciliation.
type Snapshot struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Condition   string `json:"condition,omitempty"`
	Location    string `json:"location,omitempty"`

	StartingPrice    float64 `json:"startingPrice"`
	CurrentPrice     float64 `json:"currentPrice"`
	MinimumIncrement float64 `json:"minimumIncrement"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	Phase Phase `json:"status"`

	Bids          []Bid    `json:"bids"`
	HighestBidder *UserRef `json:"highestBidder,omitempty"`
	CreatedBy     UserRef  `json:"createdBy"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	if s.HighestBidder != nil {
		hb := *s.HighestBidder
		out.HighestBidder = &hb
	}
	if s.Bids != nil {
		out.Bids = make([]Bid, len(s.Bids))
		copy(out.Bids, s.Bids)
	}
	return &out
}

// HasBid reports whether a bid with the given id is already recorded.
func (s *Snapshot) HasBid(id string) bool {
	for i := range s.Bids {
		if s.Bids[i].ID == id {
			return true
		}
	}
	return false
}

// Increment returns the effective minimum increment, defaulting to 1 when the
// server omitted it.
func (s *Snapshot) Increment() float64 {
	if s.MinimumIncrement <= 0 {
		return 1
	}
	return s.MinimumIncrement
}

// MinimumNextBid returns the lowest amount the server would accept next.
func (s *Snapshot) MinimumNextBid() float64 {
	return s.CurrentPrice + s.Increment()
}

// ListParams are the query parameters for the paginated auction list.
type ListParams struct {
	Page      int
	Limit     int
	Search    string
	Status    string
	Category  string
	SortBy    string
	SortOrder string
}

// Page is one page of auction snapshots.
type Page struct {
	Items       []*Snapshot `json:"items"`
	CurrentPage int         `json:"currentPage"`
	TotalPages  int         `json:"totalPages"`
	TotalItems  int         `json:"totalItems"`
}

// CreateRequest carries the fields a seller supplies when creating an auction.
// The server forces the phase to pending and the current price to the starting
// price.
type CreateRequest struct {
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Condition        string    `json:"condition,omitempty"`
	Location         string    `json:"location,omitempty"`
	StartingPrice    float64   `json:"startingPrice"`
	MinimumIncrement float64   `json:"minimumIncrement,omitempty"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
}

// Patch is a partial update of an auction's descriptive fields. Only permitted
// while the auction is still pending, and only by its creator.
type Patch struct {
	Title            *string    `json:"title,omitempty"`
	Description      *string    `json:"description,omitempty"`
	Category         *string    `json:"category,omitempty"`
	Condition        *string    `json:"condition,omitempty"`
	Location         *string    `json:"location,omitempty"`
	StartingPrice    *float64   `json:"startingPrice,omitempty"`
	MinimumIncrement *float64   `json:"minimumIncrement,omitempty"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
}
