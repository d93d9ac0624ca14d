package repository

import (
	"context"
	"fmt"

	model "realtime-auction/internal/models"
)

// Seeder persists fixture users and auctions
type Seeder interface {
	SeedUser(ctx context.Context, user model.User) error
	SeedAuction(ctx context.Context, auction model.Auction) error
}

// MemorySeeder adapts the in-memory repo and directory to Seeder
type MemorySeeder struct {
	Auctions *MemoryRepo
	Users    *MemoryUserDirectory
}

func (s MemorySeeder) SeedUser(_ context.Context, user model.User) error {
	s.Users.AddUser(user)
	return nil
}

func (s MemorySeeder) SeedAuction(_ context.Context, auction model.Auction) error {
	return s.Auctions.AddAuction(auction)
}

// Seed writes users first so auctions can reference them
func Seed(ctx context.Context, s Seeder, users []model.User, auctions []model.Auction) error {
	for _, u := range users {
		if err := s.SeedUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.UserID, err)
		}
	}
	for _, a := range auctions {
		if err := s.SeedAuction(ctx, a); err != nil {
			return fmt.Errorf("seed auction %s: %w", a.ID, err)
		}
	}
	return nil
}

// SeedUser upserts a user row.
func (r *PostgresRepo) SeedUser(ctx context.Context, user model.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
	INSERT INTO users (id, username) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`, user.UserID, user.Username)
	if err != nil {
		return classify(err)
	}
	return nil
}

// SeedAuction inserts an auction row, leaving an existing row untouched.
func (r *PostgresRepo) SeedAuction(ctx context.Context, a model.Auction) error {
	if err := a.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var highestBidder any
	if a.HighestBidder != "" {
		highestBidder = a.HighestBidder
	}

	_, err := r.db.ExecContext(ctx, `
	INSERT INTO auctions (id, title, description, image_url, starting_bid, current_bid, highest_bidder,
		seller, end_time, is_finished, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Title, a.Description, a.ImageURL, a.StartingBid, a.CurrentBid, highestBidder,
		a.Seller, a.EndTime.UTC(), a.IsFinished, a.Version)
	if err != nil {
		return classify(err)
	}
	return nil
}
