package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"realtime-auction/internal/biddingerrors"
	model "realtime-auction/internal/models"

	"github.com/lib/pq"
)

const (
	queryTimeout   = 5 * time.Second
	migrateTimeout = 30 * time.Second
)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresRepo implements AuctionStore and UserDirectory on PostgreSQL.
// Bid and sweep writes are single conditional UPDATE statements, so the row
// lock taken by the statement is the serialization point per auction.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo opens the pool, checks connectivity and applies the schema.
func NewPostgresRepo(config *PostgresConfig) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", classify(err))
	}

	repo := newPostgresRepoWithDB(db)
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return repo, nil
}

func newPostgresRepoWithDB(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// schema keeps user ids on auctions as plain references. Bidders are
// identified by whatever id the client sends, so no foreign key ties them
// to the users table; it only backs display-name lookups.
const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(128) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id VARCHAR(64) PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		starting_bid BIGINT NOT NULL CHECK (starting_bid > 0),
		current_bid BIGINT NOT NULL,
		highest_bidder VARCHAR(64),
		seller VARCHAR(64) NOT NULL,
		end_time TIMESTAMP WITH TIME ZONE NOT NULL,
		is_finished BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		CHECK (current_bid >= starting_bid)
	);

	ALTER TABLE auctions DROP CONSTRAINT IF EXISTS auctions_highest_bidder_fkey;
	ALTER TABLE auctions DROP CONSTRAINT IF EXISTS auctions_seller_fkey;

	CREATE INDEX IF NOT EXISTS idx_auctions_open_end_time ON auctions(end_time) WHERE NOT is_finished;
	`

func (r *PostgresRepo) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, schema)
	return err
}

const auctionColumns = `id, title, description, image_url, starting_bid, current_bid, highest_bidder,
	seller, end_time, is_finished, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a             model.Auction
		highestBidder sql.NullString
	)
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.ImageURL, &a.StartingBid, &a.CurrentBid,
		&highestBidder, &a.Seller, &a.EndTime, &a.IsFinished, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Auction{}, err
	}
	a.HighestBidder = highestBidder.String
	return a, nil
}

// Get returns the auction with the given id.
func (r *PostgresRepo) Get(ctx context.Context, auctionID string) (model.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, auctionID)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, classify(err))
	}
	return a, nil
}

// ConditionalApplyBid writes the bid only if the auction is open and the
// amount beats the stored current bid at commit time.
func (r *PostgresRepo) ConditionalApplyBid(ctx context.Context, auctionID, bidderID string, amount int64, now time.Time) (model.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
	UPDATE auctions SET
		current_bid = $2,
		highest_bidder = $3,
		version = version + 1,
		updated_at = $4
	WHERE id = $1
		AND NOT is_finished
		AND end_time > $4
		AND current_bid < $2
	RETURNING ` + auctionColumns

	row := r.db.QueryRowContext(ctx, query, auctionID, amount, bidderID, now.UTC())
	a, err := scanAuction(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w", auctionID, classify(err))
	}

	// No row matched the precondition; read the current state to report why.
	current, err := r.Get(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w", auctionID, err)
	}
	if current.IsFinished || !now.Before(current.EndTime) {
		return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w", auctionID, biddingerrors.ErrAuctionFinished)
	}
	return model.Auction{}, fmt.Errorf("apply bid on auction %s: %w - current bid is %d", auctionID, biddingerrors.ErrBidTooLow, current.CurrentBid)
}

// SweepExpired closes every overdue open auction in one statement and returns
// the rows it transitioned.
func (r *PostgresRepo) SweepExpired(ctx context.Context, now time.Time) ([]model.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
	UPDATE auctions SET
		is_finished = TRUE,
		version = version + 1,
		updated_at = $1
	WHERE end_time <= $1 AND NOT is_finished
	RETURNING ` + auctionColumns

	rows, err := r.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("sweep expired auctions: %w", classify(err))
	}
	defer rows.Close()

	var closed []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", classify(err))
		}
		closed = append(closed, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sweep expired auctions: %w", classify(err))
	}
	return closed, nil
}

// DisplayName returns the username for userID.
func (r *PostgresRepo) DisplayName(ctx context.Context, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var username string
	err := r.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = $1`, userID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("display name for user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("display name for user %s: %w", userID, classify(err))
	}
	return username, nil
}

// Close closes the database connection.
func (r *PostgresRepo) Close() error {
	return r.db.Close()
}

// classify tags driver errors a caller may retry with ErrStoreUnavailable.
func classify(err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %w", biddingerrors.ErrStoreUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return true
		}
		switch pqErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return true
		}
	}
	return false
}
