package perftests

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	bidding "realtime-auction/internal/biddingService"
	model "realtime-auction/internal/models"
	repository "realtime-auction/internal/repository"
)

const numUsers = 50

func auctionID(i int) string {
	return fmt.Sprintf("auction_%d", i)
}

// setupRepo creates the repository and bidding service with open auctions
func setupRepo(b *testing.B, numAuctions int) (*repository.MemoryRepo, *bidding.BiddingService) {
	b.Helper()

	repo := repository.NewMemoryRepo()
	users := repository.NewMemoryUserDirectory()
	users.AddUser(model.User{UserID: "seller", Username: "seller"})
	for i := 0; i < numUsers; i++ {
		users.AddUser(model.User{UserID: fmt.Sprintf("user_%d", i), Username: fmt.Sprintf("bidder %d", i)})
	}

	end := time.Now().Add(time.Hour)
	for i := 0; i < numAuctions; i++ {
		err := repo.AddAuction(model.Auction{
			ID:          auctionID(i),
			Title:       fmt.Sprintf("title_%d", i),
			Description: "Load test auction",
			StartingBid: 100,
			CurrentBid:  100,
			Seller:      "seller",
			EndTime:     end,
		})
		if err != nil {
			b.Fatalf("add auction: %v", err)
		}
	}
	return repo, bidding.NewBiddingService(repo, users)
}

// Benchmark 1: PlaceBid - Isolated Auctions (Low Contention - Micro Benchmark)
func Benchmark_PlaceBid_Isolated(b *testing.B) {
	_, svc := setupRepo(b, b.N)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		userID := fmt.Sprintf("user_%d", i%numUsers)
		if _, err := svc.PlaceBid(ctx, auctionID(i), userID, int64(101+rand.Intn(100))); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark 2: PlaceBid - Shared Auction (High Contention - Concurrency Benchmark)
func Benchmark_PlaceBid_ConcurrentSharedAuction(b *testing.B) {
	repo, svc := setupRepo(b, 1)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 100

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			userID := fmt.Sprintf("user_%d", rnd.Intn(numUsers))
			nextBid := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
			_, _ = svc.PlaceBid(ctx, auctionID(0), userID, nextBid)
		}
	})

	b.StopTimer()
	a, err := repo.Get(ctx, auctionID(0))
	if err != nil {
		b.Fatal(err)
	}
	if a.CurrentBid != atomic.LoadInt64(&lastBid) {
		b.Fatalf("final bid %d, want highest submitted %d", a.CurrentBid, lastBid)
	}
}

// Benchmark 3: GetAuction - Single-Threaded (Low Contention)
func Benchmark_GetAuction_SingleThreaded(b *testing.B) {
	_, svc := setupRepo(b, 100)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, _ = svc.PlaceBid(ctx, auctionID(i), "user_1", 150)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := svc.GetAuction(ctx, auctionID(i%100)); err != nil {
			b.Fatalf("failed to get auction: %v", err)
		}
	}
}

// Benchmark 4: GetAuction - Concurrent readers while one writer bids
func Benchmark_GetAuction_ConcurrentWithWriter(b *testing.B) {
	_, svc := setupRepo(b, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		amount := int64(100)
		for ctx.Err() == nil {
			amount++
			_, _ = svc.PlaceBid(ctx, auctionID(0), "user_2", amount)
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		var last int64
		for pb.Next() {
			snap, err := svc.GetAuction(ctx, auctionID(0))
			if err != nil {
				b.Errorf("failed to get auction: %v", err)
				return
			}
			if snap.CurrentBid < last {
				b.Errorf("current bid went backwards: %d after %d", snap.CurrentBid, last)
				return
			}
			last = snap.CurrentBid
		}
	})
}
