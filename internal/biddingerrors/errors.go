package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrStoreUnavailable = errors.New("auction store unavailable")
)

// business logic errors
var (
	ErrInvalidBid      = errors.New("invalid bid")
	ErrBidTooLow       = errors.New("bid amount too low")
	ErrAuctionFinished = errors.New("auction has ended")
)
