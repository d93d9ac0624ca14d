package handler

import (
	"context"
	"fmt"
	"net/http"

	model "realtime-auction/internal/models"
	"realtime-auction/services/bidding/helpers"
	"realtime-auction/utils"

	"github.com/gin-gonic/gin"
)

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, auctionID, userID string, amount int64) (model.AuctionSnapshot, error)
	GetAuction(ctx context.Context, auctionID string) (model.AuctionSnapshot, error)
}

// Broadcaster fans a room event out to its members
type Broadcaster interface {
	Publish(auctionID string, version int64, env model.Envelope) bool
}

type BiddingHandler struct {
	service     BiddingServiceInterface
	broadcaster Broadcaster
}

func NewBiddingHandler(service BiddingServiceInterface, broadcaster Broadcaster) *BiddingHandler {
	return &BiddingHandler{service: service, broadcaster: broadcaster}
}

// PlaceAndPublish applies a bid and, only when it is accepted, publishes the
// new snapshot to the auction's room. Both the socket and the HTTP path use it.
func (h *BiddingHandler) PlaceAndPublish(ctx context.Context, auctionID, userID string, amount int64) (model.AuctionSnapshot, error) {
	snapshot, err := h.service.PlaceBid(ctx, auctionID, userID, amount)
	if err != nil {
		return model.AuctionSnapshot{}, err
	}

	h.broadcaster.Publish(snapshot.ID, snapshot.Version, model.NewBidUpdate(snapshot))
	return snapshot, nil
}

// RecordBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) RecordBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}

	snapshot, err := h.PlaceAndPublish(c.Request.Context(), auctionID, req.UserID, req.BidAmount)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		fields := map[string]any{
			"handler":    "RecordBidHandler",
			"auction_id": auctionID,
			"user_id":    req.UserID,
			"amount":     req.BidAmount,
			"error":      err.Error(),
		}
		if helpers.IsRejection(err) {
			utils.Info("RecordBidHandler: bid rejected", fields)
		} else {
			utils.Error("RecordBidHandler: failed to record bid", fields)
		}
		return
	}

	utils.JSONResponse(c, http.StatusCreated, snapshot, "bid recorded successfully")
	helpers.LogSuccess("RecordBidHandler", "bid recorded successfully", map[string]any{
		"auction_id": snapshot.ID,
		"user_id":    req.UserID,
		"amount":     snapshot.CurrentBid,
		"version":    snapshot.Version,
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	snapshot, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, snapshot, "auction retrieved successfully")
}
