package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "realtime-auction/internal/biddingService"
	"realtime-auction/internal/broadcast"
	"realtime-auction/internal/config"
	model "realtime-auction/internal/models"
	"realtime-auction/internal/repository"
	"realtime-auction/internal/server"
	"realtime-auction/internal/sweeper"
	handler "realtime-auction/services/bidding/handler"
	"realtime-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stores bundles the auction store and user directory picked by config
type stores struct {
	auctions repository.AuctionStore
	users    repository.UserDirectory
	seeder   repository.Seeder
	close    func() error
}

func run() error {
	var (
		configPath string
		seed       bool
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("auction-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.BoolVar(&seed, "seed", false, "load demo users and auctions on startup")
	flagSet.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := utils.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if seed {
		users, auctions := demoFixtures(time.Now().UTC())
		if err := repository.Seed(ctx, st.seeder, users, auctions); err != nil {
			return err
		}
		utils.Info("Seeded demo data", map[string]any{"users": len(users), "auctions": len(auctions)})
	}

	hub := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer)

	biddingSvc := bidding.NewBiddingService(st.auctions, st.users, bidding.WithRetryPolicy(bidding.RetryPolicy{
		MaxAttempts:    cfg.Bidding.MaxAttempts,
		InitialBackoff: cfg.Bidding.InitialBackoff,
		MaxBackoff:     cfg.Bidding.MaxBackoff,
		AttemptTimeout: cfg.Bidding.AttemptTimeout,
	}))

	bids := handler.NewBiddingHandler(biddingSvc, hub)
	sockets := handler.NewSocketHandler(bids, hub, handler.SocketConfig{
		PingInterval: cfg.Broadcast.PingInterval,
		WriteTimeout: cfg.Broadcast.WriteTimeout,
	})

	srv := server.New(server.Config{
		Addr:            cfg.ServerAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, bids, sockets, hub)

	expiry := sweeper.New(st.auctions, hub, st.users, cfg.Sweeper)

	utils.Info("Starting auction server", map[string]any{
		"address":        cfg.ServerAddress(),
		"store":          cfg.Store.Driver,
		"sweep_interval": cfg.Sweeper.Interval.String(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return expiry.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	utils.Info("Auction server stopped", nil)
	return nil
}

func openStores(cfg *config.Config) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		repo, err := repository.NewPostgresRepo(&cfg.Store.Postgres)
		if err != nil {
			return nil, err
		}
		return &stores{auctions: repo, users: repo, seeder: repo, close: repo.Close}, nil
	default:
		auctions := repository.NewMemoryRepo()
		users := repository.NewMemoryUserDirectory()
		return &stores{
			auctions: auctions,
			users:    users,
			seeder:   repository.MemorySeeder{Auctions: auctions, Users: users},
			close:    func() error { return nil },
		}, nil
	}
}

// demoFixtures returns a seller, two bidders and auctions closing at
// staggered times so the sweeper has work within the first minutes
func demoFixtures(now time.Time) ([]model.User, []model.Auction) {
	seller := model.User{UserID: utils.NewID(), Username: "seller"}
	users := []model.User{
		seller,
		{UserID: utils.NewID(), Username: "alice"},
		{UserID: utils.NewID(), Username: "bob"},
	}

	items := []struct {
		title       string
		description string
		startingBid int64
		endsIn      time.Duration
	}{
		{"Vintage film camera", "Fully working 35mm rangefinder", 100, 2 * time.Minute},
		{"Mechanical keyboard", "Tenkeyless, tactile switches", 80, 5 * time.Minute},
		{"Signed vinyl record", "First pressing, near mint", 250, 15 * time.Minute},
	}

	auctions := make([]model.Auction, 0, len(items))
	for _, it := range items {
		auctions = append(auctions, model.Auction{
			ID:          utils.NewID(),
			Title:       it.title,
			Description: it.description,
			StartingBid: it.startingBid,
			CurrentBid:  it.startingBid,
			Seller:      seller.UserID,
			EndTime:     now.Add(it.endsIn),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return users, auctions
}
