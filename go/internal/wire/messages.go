package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

// MessageType identifies a message on the auction room channel.
type MessageType string

const (
	// Client -> server.
	TypeJoinRoom  MessageType = "join-room"
	TypeLeaveRoom MessageType = "leave-room"
	TypePlaceBid  MessageType = "place-bid"

	// Server -> client.
	TypeAuctionUpdated MessageType = "auction-updated"
	TypeBidAccepted    MessageType = "bid-accepted"
	TypeBidPlaced      MessageType = "bid-placed-successfully"
	TypeBidError       MessageType = "bid-error"
	TypeAuctionStarted MessageType = "auction-started"
	TypeAuctionEnded   MessageType = "auction-ended"
)

// Message is the envelope for every frame on the channel, in both directions.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessage wraps a payload into an envelope of the given type.
func NewMessage(t MessageType, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{Type: t, Data: data}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(t MessageType, payload any) Message {
	msg, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// JoinRoomPayload subscribes the connection to one auction's room.
type JoinRoomPayload struct {
	AuctionID string `json:"auctionId"`
}

// LeaveRoomPayload unsubscribes the connection from one auction's room.
type LeaveRoomPayload struct {
	AuctionID string `json:"auctionId"`
}

// PlaceBidPayload is a bid request from a client.
type PlaceBidPayload struct {
	AuctionID      string  `json:"auctionId"`
	BidderID       string  `json:"bidderId"`
	BidderUsername string  `json:"bidderUsername"`
	Amount         float64 `json:"amount"`
}

// BidAcceptedPayload announces a bid the server accepted.
type BidAcceptedPayload struct {
	AuctionID string      `json:"auctionId"`
	Bid       auction.Bid `json:"bid"`
}

// BidPlacedPayload acknowledges the bidder's own accepted bid. The bid itself
// is included so a client that already timed out locally can still reconcile
// it into its snapshot.
type BidPlacedPayload struct {
	AuctionID string       `json:"auctionId"`
	Message   string       `json:"message"`
	Bid       *auction.Bid `json:"bid,omitempty"`
}

// BidErrorPayload reports a rejected bid to the bidder.
type BidErrorPayload struct {
	AuctionID string `json:"auctionId"`
	Message   string `json:"message"`
}

// AuctionStartedPayload announces the pending -> active transition.
type AuctionStartedPayload struct {
	AuctionID string    `json:"auctionId"`
	StartedAt time.Time `json:"startedAt"`
}

// AuctionEndedPayload announces a terminal transition. Status is sold, ended
// or cancelled; the server is the only authority on which one.
type AuctionEndedPayload struct {
	AuctionID     string           `json:"auctionId"`
	Status        auction.Phase    `json:"status"`
	FinalPrice    float64          `json:"finalPrice,omitempty"`
	HighestBidder *auction.UserRef `json:"highestBidder,omitempty"`
	EndedAt       time.Time        `json:"endedAt"`
}

// ParsePayload decodes the payload for the message's type.
func ParsePayload(msg Message) (any, error) {
	switch msg.Type {
	case TypeJoinRoom:
		var p JoinRoomPayload
		return &p, json.Unmarshal(msg.Data, &p)
	case TypeLeaveRoom:
		var p LeaveRoomPayload
		return &p, json.Unmarshal(msg.Data, &p)
	case TypePlaceBid:
		var p PlaceBidPayload
		return &p, json.Unmarshal(msg.Data, &p)
	case TypeAuctionUpdated:
		var p auction.Snapshot
		return &p, json.Unmarshal(msg.Data, &p)
	case TypeBidAccepted:
		var p BidAcceptedPayload
		return &p, json.Unmarshal(msg.Data, &p)
	case TypeBidPlaced:
		var p BidPlacedPayload
		return &p, json.Unmarshal(msg.Data, &p)
	case TypeBidError:
		var p BidErrorPayload
		return &p, json.Unmarshal(msg.Data, &p)
	case TypeAuctionStarted:
		var p AuctionStartedPayload
		return &p, json.Unmarshal(msg.Data, &p)
	case TypeAuctionEnded:
		var p AuctionEndedPayload
		return &p, json.Unmarshal(msg.Data, &p)
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// AuctionID extracts the auction id a message refers to, for routing. Full
// snapshot payloads carry it as "id", everything else as "auctionId".
func AuctionID(msg Message) (string, error) {
	var probe struct {
		AuctionID string `json:"auctionId"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(msg.Data, &probe); err != nil {
		return "", fmt.Errorf("probe %s payload for auction id: %w", msg.Type, err)
	}
	if probe.AuctionID != "" {
		return probe.AuctionID, nil
	}
	if probe.ID != "" {
		return probe.ID, nil
	}
	return "", fmt.Errorf("%s payload carries no auction id", msg.Type)
}
