package helpers

import (
	"errors"
	"fmt"
	"net/http"

	"realtime-auction/internal/biddingerrors"
	"realtime-auction/utils"

	"github.com/gin-gonic/gin"
)

// User-facing messages for the real-time channel
const (
	MsgAuctionUnavailable = "Auction has ended or does not exist."
	MsgBidTooLow          = "Bid must be higher than the current bid."
	MsgInvalidBid         = "Invalid bid details."
	MsgBidFailed          = "An error occurred while placing the bid."
	MsgInvalidMessage     = "Invalid message."
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionFinished):
		return http.StatusGone, "auction has ended"
	case errors.Is(err, biddingerrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// MapErrorToMessage maps domain/service errors to the message sent in an
// error event to the submitting connection
func MapErrorToMessage(err error) string {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound), errors.Is(err, biddingerrors.ErrAuctionFinished):
		return MsgAuctionUnavailable
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return MsgBidTooLow
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return MsgInvalidBid
	default:
		return MsgBidFailed
	}
}

// IsRejection reports whether err is a normal business outcome rather than a fault
func IsRejection(err error) bool {
	return errors.Is(err, biddingerrors.ErrBidTooLow) ||
		errors.Is(err, biddingerrors.ErrAuctionFinished) ||
		errors.Is(err, biddingerrors.ErrAuctionNotFound) ||
		errors.Is(err, biddingerrors.ErrInvalidBid)
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
