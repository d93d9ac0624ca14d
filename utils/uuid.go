package utils

import (
	"github.com/google/uuid"
)

// NewID returns a random identifier for seeded users and auctions
func NewID() string {
	return uuid.NewString()
}

// NewConnectionID returns the identifier given to a live socket connection
func NewConnectionID() string {
	return "conn-" + uuid.NewString()
}
