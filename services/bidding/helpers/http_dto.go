package helpers

import (
	"encoding/json"
	"errors"
	"strings"
)

// PlaceBidRequest is the placeBid payload. Over HTTP the auction id comes
// from the path and AuctionID is ignored.
type PlaceBidRequest struct {
	AuctionID string `json:"auctionId"`
	BidAmount int64  `json:"bidAmount" binding:"required,gt=0"`
	UserID    string `json:"userId" binding:"required"`
}

// RoomRequest is the joinAuction / leaveAuction payload
type RoomRequest struct {
	AuctionID string `json:"auctionId"`
}

// ErrMissingAuctionID is returned when a room payload names no auction
var ErrMissingAuctionID = errors.New("auctionId is required")

// ParseRoomRequest accepts either a bare JSON string or {"auctionId": "..."}
func ParseRoomRequest(raw json.RawMessage) (string, error) {
	var auctionID string
	if err := json.Unmarshal(raw, &auctionID); err != nil {
		var req RoomRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return "", err
		}
		auctionID = req.AuctionID
	}

	auctionID = strings.TrimSpace(auctionID)
	if auctionID == "" {
		return "", ErrMissingAuctionID
	}
	return auctionID, nil
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Ready       bool `json:"ready"`
	Subscribers int  `json:"subscribers"`
	Rooms       int  `json:"rooms"`
}
