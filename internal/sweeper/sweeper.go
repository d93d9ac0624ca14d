// Package sweeper closes auctions whose deadline has passed and announces
// the result to every connection.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"realtime-auction/internal/models"
	"realtime-auction/utils"

	"go.uber.org/atomic"
)

// ErrSweepInProgress is returned by RunOnce when a previous run is still active.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Expirer atomically closes overdue auctions.
type Expirer interface {
	SweepExpired(ctx context.Context, now time.Time) ([]models.Auction, error)
}

// Announcer delivers an event to every connected client.
type Announcer interface {
	PublishGlobal(env models.Envelope)
}

// Namer resolves a user id to a display name.
type Namer interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Config controls sweep cadence.
type Config struct {
	Interval         time.Duration `yaml:"interval"`
	WatchdogMultiple int           `yaml:"watchdog_multiple"`
}

// DefaultConfig sweeps every 10 seconds and abandons a run after three periods.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		WatchdogMultiple: 3,
	}
}

// Sweeper runs the periodic expiry scan. Runs never overlap.
type Sweeper struct {
	store     Expirer
	announcer Announcer
	users     Namer
	cfg       Config
	now       func() time.Time
	running   atomic.Bool
	inflight  sync.WaitGroup
}

// New creates a Sweeper. Zero config fields fall back to DefaultConfig.
func New(store Expirer, announcer Announcer, users Namer, cfg Config) *Sweeper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.WatchdogMultiple <= 0 {
		cfg.WatchdogMultiple = def.WatchdogMultiple
	}
	return &Sweeper{
		store:     store,
		announcer: announcer,
		users:     users,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps on every tick until ctx is cancelled. Each run happens on its
// own goroutine so a slow run only causes later ticks to be skipped. Run
// returns only after the run in flight, if any, has finished.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	utils.Info("sweeper: started", map[string]any{
		"interval":          s.cfg.Interval.String(),
		"watchdog_multiple": s.cfg.WatchdogMultiple,
	})

	for {
		select {
		case <-ctx.Done():
			s.inflight.Wait()
			utils.Info("sweeper: stopped", nil)
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				s.tick(ctx)
			}()
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	closed, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		utils.Warn("sweeper: previous run still in flight, skipping tick", nil)
	case err != nil:
		utils.Error("sweeper: run failed, overdue auctions stay pending", map[string]any{"error": err.Error()})
	case closed > 0:
		utils.Info("sweeper: auctions closed", map[string]any{"count": closed})
	}
}

// RunOnce performs one sweep and announces every auction it closed. It
// returns the number closed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrSweepInProgress
	}
	defer s.running.Store(false)

	watchdog := time.Duration(s.cfg.WatchdogMultiple) * s.cfg.Interval
	runCtx, cancel := context.WithTimeout(ctx, watchdog)
	defer cancel()

	start := time.Now()
	closed, err := s.store.SweepExpired(runCtx, s.now())
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			utils.Error("sweeper: run exceeded watchdog", map[string]any{
				"watchdog": watchdog.String(),
				"elapsed":  time.Since(start).String(),
			})
		}
		return 0, fmt.Errorf("sweep expired auctions: %w", err)
	}

	for _, a := range closed {
		event := models.AuctionEndedEvent{
			AuctionID: a.ID,
			FinalBid:  a.CurrentBid,
		}
		if a.HighestBidder != "" {
			event.Winner = s.winner(runCtx, a.HighestBidder)
		}

		s.announcer.PublishGlobal(models.NewAuctionEnded(event))
		utils.Info("sweeper: auction ended", map[string]any{
			"auction_id": a.ID,
			"winner":     a.HighestBidder,
			"final_bid":  a.CurrentBid,
		})
	}

	return len(closed), nil
}

func (s *Sweeper) winner(ctx context.Context, userID string) *models.BidderRef {
	ref := &models.BidderRef{ID: userID}
	name, err := s.users.DisplayName(ctx, userID)
	if err != nil {
		utils.Warn("sweeper: winner name lookup failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return ref
	}
	ref.Username = name
	return ref
}
