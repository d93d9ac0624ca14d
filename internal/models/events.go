package models

import "encoding/json"

// Inbound event names
const (
	EventJoinAuction  = "joinAuction"
	EventLeaveAuction = "leaveAuction"
	EventPlaceBid     = "placeBid"
)

// Outbound event names
const (
	EventBidUpdate    = "bidUpdate"
	EventError        = "error"
	EventAuctionEnded = "auctionEnded"
)

// Envelope is a single named frame on the real-time channel
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// InboundEnvelope keeps Data raw so it can be decoded once the event name is known
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ErrorEvent is sent only to the connection that caused it
type ErrorEvent struct {
	Message string `json:"message"`
}

// AuctionEndedEvent announces a closed auction to every connection
type AuctionEndedEvent struct {
	AuctionID string     `json:"auctionId"`
	Winner    *BidderRef `json:"winner"`
	FinalBid  int64      `json:"finalBid"`
}

// NewBidUpdate wraps a snapshot as a bidUpdate frame
func NewBidUpdate(snapshot AuctionSnapshot) Envelope {
	return Envelope{Event: EventBidUpdate, Data: snapshot}
}

// NewError wraps a message as an error frame
func NewError(message string) Envelope {
	return Envelope{Event: EventError, Data: ErrorEvent{Message: message}}
}

// NewAuctionEnded wraps a closure announcement as an auctionEnded frame
func NewAuctionEnded(event AuctionEndedEvent) Envelope {
	return Envelope{Event: EventAuctionEnded, Data: event}
}
