package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuctionSnapshot_JSONCarriesBothIDKeys(t *testing.T) {
	t.Parallel()

	snap := AuctionSnapshot{
		ID:            "a1",
		Title:         "Vintage camera",
		CurrentBid:    150,
		HighestBidder: &BidderRef{ID: "user1", Username: "alice"},
		Seller:        BidderRef{ID: "seller1", Username: "sally"},
		EndTime:       time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC),
		Version:       2,
	}

	raw, err := json.Marshal(NewBidUpdate(snap))
	require.NoError(t, err)

	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &frame))
	require.Equal(t, EventBidUpdate, frame.Event)

	var data map[string]any
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	require.Equal(t, "a1", data["id"])
	require.Equal(t, "a1", data["_id"])
	require.Equal(t, 150.0, data["currentBid"])

	bidder := data["highestBidder"].(map[string]any)
	require.Equal(t, "user1", bidder["_id"])
	require.Equal(t, "alice", bidder["username"])
	require.Equal(t, "seller1", data["seller"].(map[string]any)["_id"])

	// the extra key does not disturb decoding
	var back AuctionSnapshot
	require.NoError(t, json.Unmarshal(frame.Data, &back))
	require.Equal(t, snap, back)
}

func TestAuctionSnapshot_NoBidderIsNull(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(AuctionSnapshot{ID: "a1"})
	require.NoError(t, err)

	var data map[string]any
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Contains(t, data, "highestBidder")
	require.Nil(t, data["highestBidder"])
}
