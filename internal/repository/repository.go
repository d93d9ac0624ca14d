package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"realtime-auction/internal/biddingerrors"
	model "realtime-auction/internal/models"
)

// AuctionStore defines the auction storage interface. ConditionalApplyBid and
// SweepExpired are the only write paths and each is atomic per auction id.
type AuctionStore interface {
	Get(ctx context.Context, auctionID string) (model.Auction, error)
	ConditionalApplyBid(ctx context.Context, auctionID, bidderID string, amount int64, now time.Time) (model.Auction, error)
	SweepExpired(ctx context.Context, now time.Time) ([]model.Auction, error)
}

// UserDirectory resolves bidder references to display names
type UserDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// auctionRecord pairs an auction with the lock that serializes its mutations
type auctionRecord struct {
	mu      sync.Mutex
	auction model.Auction
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionStore
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]*auctionRecord // key: auctionID
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]*auctionRecord),
	}
}

func (r *MemoryRepo) record(auctionID string) (*auctionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.auctions[auctionID]
	return rec, ok
}

// Get returns a copy of the auction
func (r *MemoryRepo) Get(ctx context.Context, auctionID string) (model.Auction, error) {
	if err := ctx.Err(); err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}

	rec, ok := r.record(auctionID)
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.auction, nil
}

// ConditionalApplyBid compares and writes the bid under the auction's lock
func (r *MemoryRepo) ConditionalApplyBid(ctx context.Context, auctionID, bidderID string, amount int64, now time.Time) (model.Auction, error) {
	if err := ctx.Err(); err != nil {
		return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w", auctionID, err)
	}

	rec, ok := r.record(auctionID)
	if !ok {
		return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	a := &rec.auction
	if a.IsFinished || !now.Before(a.EndTime) {
		return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w", auctionID, biddingerrors.ErrAuctionFinished)
	}
	if amount <= a.CurrentBid {
		return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w - current bid is %d", auctionID, biddingerrors.ErrBidTooLow, a.CurrentBid)
	}

	a.CurrentBid = amount
	a.HighestBidder = bidderID
	a.Version++
	a.UpdatedAt = now.UTC()

	return *a, nil
}

// SweepExpired marks every overdue open auction finished and returns the ones
// transitioned by this call, oldest deadline first
func (r *MemoryRepo) SweepExpired(ctx context.Context, now time.Time) ([]model.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sweep expired auctions: %w", err)
	}

	r.mu.RLock()
	records := make([]*auctionRecord, 0, len(r.auctions))
	for _, rec := range r.auctions {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	var closed []model.Auction
	for _, rec := range records {
		rec.mu.Lock()
		a := &rec.auction
		if !a.IsFinished && !a.EndTime.After(now) {
			a.IsFinished = true
			a.Version++
			a.UpdatedAt = now.UTC()
			closed = append(closed, *a)
		}
		rec.mu.Unlock()
	}

	sort.Slice(closed, func(i, j int) bool { return closed[i].EndTime.Before(closed[j].EndTime) })
	return closed, nil
}

// AddAuction seeds an auction. Auction creation is owned by the listing
// service; this is used for demo seeding and tests.
func (r *MemoryRepo) AddAuction(auction model.Auction) error {
	if err := auction.Validate(); err != nil {
		return fmt.Errorf("add auction %s: %w", auction.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.ID] = &auctionRecord{auction: auction}
	return nil
}

// MemoryUserDirectory is an in-memory implementation of UserDirectory
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]model.User // key: userID
}

// NewMemoryUserDirectory creates an empty directory
func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{users: make(map[string]model.User)}
}

// AddUser registers or replaces a user
func (d *MemoryUserDirectory) AddUser(user model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.UserID] = user
}

// DisplayName returns the username for userID
func (d *MemoryUserDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return "", fmt.Errorf("display name for user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	return user.Username, nil
}
