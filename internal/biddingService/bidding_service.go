package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"realtime-auction/internal/biddingerrors"
	"realtime-auction/internal/models"
	"realtime-auction/internal/repository"
	"realtime-auction/utils"
)

// RetryPolicy bounds how storage faults are retried
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *BiddingService) {
		s.retry = policy
	}
}

// WithClock overrides the clock used to judge auction deadlines
func WithClock(now func() time.Time) Option {
	return func(s *BiddingService) {
		s.now = now
	}
}

// BiddingService validates and applies bids. It never broadcasts; callers
// publish the returned snapshot.
type BiddingService struct {
	store repository.AuctionStore
	users repository.UserDirectory
	retry RetryPolicy
	now   func() time.Time
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(store repository.AuctionStore, users repository.UserDirectory, opts ...Option) *BiddingService {
	s := &BiddingService{
		store: store,
		users: users,
		retry: DefaultRetryPolicy(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.MaxAttempts < 1 {
		s.retry.MaxAttempts = 1
	}
	return s
}

// PlaceBid validates and applies a user's bid for an auction
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, userID string, amount int64) (models.AuctionSnapshot, error) {
	if err := validateBid(auctionID, userID, amount); err != nil {
		return models.AuctionSnapshot{}, err
	}

	baseline, err := s.baselineVersion(ctx, auctionID)
	if err != nil {
		return models.AuctionSnapshot{}, fmt.Errorf("service: failed to place bid on auction %s by user %s: %w", auctionID, userID, err)
	}

	var updated models.Auction
	attempts, err := s.withRetry(ctx, "apply bid", func(ctx context.Context) error {
		var err error
		updated, err = s.store.ConditionalApplyBid(ctx, auctionID, userID, amount, s.now())
		return err
	})

	// A retry rejected as too low may follow an attempt that did commit.
	// Only that commit leaves the auction one version past the baseline with
	// this bidder and amount.
	if attempts > 1 && baseline >= 0 && errors.Is(err, biddingerrors.ErrBidTooLow) {
		if current, getErr := s.store.Get(ctx, auctionID); getErr == nil &&
			current.Version == baseline+1 && current.HighestBidder == userID && current.CurrentBid == amount {
			updated, err = current, nil
		}
	}

	if err != nil {
		return models.AuctionSnapshot{}, fmt.Errorf("service: failed to place bid on auction %s by user %s: %w", auctionID, userID, err)
	}

	return s.Snapshot(ctx, updated), nil
}

// baselineVersion reads the auction's version before the first attempt so a
// retry can recognise its own earlier commit. It returns -1 when retries are
// disabled or the read hit a storage fault; the bid then goes ahead without
// commit recovery.
func (s *BiddingService) baselineVersion(ctx context.Context, auctionID string) (int64, error) {
	if s.retry.MaxAttempts < 2 {
		return -1, nil
	}

	before, err := s.store.Get(ctx, auctionID)
	switch {
	case err == nil:
		return before.Version, nil
	case isTransient(ctx, err):
		utils.Warn("service: baseline read failed, bid proceeds without commit recovery", map[string]any{
			"auction_id": auctionID,
			"error":      err.Error(),
		})
		return -1, nil
	default:
		return -1, err
	}
}

// validateBid checks input validity before touching the store
func validateBid(auctionID, userID string, amount int64) error {
	if auctionID == "" || userID == "" {
		return fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrInvalidBid)
	}
	if amount <= 0 {
		return fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	return nil
}

// GetAuction returns the current snapshot of an auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.AuctionSnapshot, error) {
	if auctionID == "" {
		return models.AuctionSnapshot{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	var auction models.Auction
	_, err := s.withRetry(ctx, "get auction", func(ctx context.Context) error {
		var err error
		auction, err = s.store.Get(ctx, auctionID)
		return err
	})
	if err != nil {
		return models.AuctionSnapshot{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}

	return s.Snapshot(ctx, auction), nil
}

// Snapshot resolves the seller and highest bidder display names. A failed
// lookup leaves the name empty rather than failing the caller.
func (s *BiddingService) Snapshot(ctx context.Context, a models.Auction) models.AuctionSnapshot {
	snapshot := models.AuctionSnapshot{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		ImageURL:    a.ImageURL,
		StartingBid: a.StartingBid,
		CurrentBid:  a.CurrentBid,
		Seller:      s.resolve(ctx, a.Seller),
		EndTime:     a.EndTime,
		IsFinished:  a.IsFinished,
		Version:     a.Version,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.HighestBidder != "" {
		bidder := s.resolve(ctx, a.HighestBidder)
		snapshot.HighestBidder = &bidder
	}
	return snapshot
}

func (s *BiddingService) resolve(ctx context.Context, userID string) models.BidderRef {
	ref := models.BidderRef{ID: userID}
	name, err := s.users.DisplayName(ctx, userID)
	if err != nil {
		utils.Warn("service: display name lookup failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return ref
	}
	ref.Username = name
	return ref
}

// withRetry runs op until it succeeds, fails with a non-transient error, or
// the attempt budget is spent. It returns the number of attempts made.
func (s *BiddingService) withRetry(ctx context.Context, opName string, op func(context.Context) error) (int, error) {
	backoff := s.retry.InitialBackoff
	var err error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		err = s.attempt(ctx, op)
		if err == nil || !isTransient(ctx, err) {
			return attempt, err
		}

		if attempt == s.retry.MaxAttempts {
			break
		}

		utils.Warn("service: storage fault, retrying", map[string]any{
			"operation": opName,
			"attempt":   attempt,
			"backoff":   backoff.String(),
			"error":     err.Error(),
		})

		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("%s: %w", opName, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if s.retry.MaxBackoff > 0 && backoff > s.retry.MaxBackoff {
			backoff = s.retry.MaxBackoff
		}
	}

	if !errors.Is(err, biddingerrors.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", biddingerrors.ErrStoreUnavailable, err)
	}
	return s.retry.MaxAttempts, fmt.Errorf("%s: giving up after %d attempts: %w", opName, s.retry.MaxAttempts, err)
}

func (s *BiddingService) attempt(ctx context.Context, op func(context.Context) error) error {
	if s.retry.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.retry.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

// isTransient reports whether err is a storage fault worth retrying. A
// deadline hit by a single attempt is transient; the caller's own
// cancellation is not.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, biddingerrors.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
