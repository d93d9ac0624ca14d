package models

import (
	"encoding/json"
	"errors"
	"time"
)

// User represents a participant in the auction
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Auction is the stored bidding record for one item
type Auction struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ImageURL      string    `json:"imageUrl"`
	StartingBid   int64     `json:"startingBid"`
	CurrentBid    int64     `json:"currentBid"`
	HighestBidder string    `json:"highestBidder,omitempty"` // empty until a bid is accepted
	Seller        string    `json:"seller"`
	EndTime       time.Time `json:"endTime"`
	IsFinished    bool      `json:"isFinished"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Validate checks the invariants an auction must satisfy when it is created
func (a Auction) Validate() error {
	switch {
	case a.ID == "":
		return errors.New("auction id is required")
	case a.Title == "":
		return errors.New("auction title is required")
	case a.Seller == "":
		return errors.New("auction seller is required")
	case a.StartingBid <= 0:
		return errors.New("starting bid must be positive")
	case a.CurrentBid < a.StartingBid:
		return errors.New("current bid must not be below the starting bid")
	case a.EndTime.IsZero():
		return errors.New("auction end time is required")
	}
	return nil
}

// BidderRef is a user reference resolved to its display name
type BidderRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// AuctionSnapshot is the outbound representation of an auction
type AuctionSnapshot struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	ImageURL      string     `json:"imageUrl"`
	StartingBid   int64      `json:"startingBid"`
	CurrentBid    int64      `json:"currentBid"`
	HighestBidder *BidderRef `json:"highestBidder"`
	Seller        BidderRef  `json:"seller"`
	EndTime       time.Time  `json:"endTime"`
	IsFinished    bool       `json:"isFinished"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// MarshalJSON also writes the id under "_id", the key browser clients
// built against the document-store schema look auctions up by.
func (s AuctionSnapshot) MarshalJSON() ([]byte, error) {
	type plain AuctionSnapshot
	return json.Marshal(struct {
		plain
		LegacyID string `json:"_id"`
	}{plain(s), s.ID})
}

// MarshalJSON writes the id under both "id" and "_id"
func (b BidderRef) MarshalJSON() ([]byte, error) {
	type plain BidderRef
	return json.Marshal(struct {
		plain
		LegacyID string `json:"_id"`
	}{plain(b), b.ID})
}
