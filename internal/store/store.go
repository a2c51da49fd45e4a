// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (development and testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/parimarket/market-engine/internal/model"
)

// ErrPositionNotFound is returned when no holder position exists for the
// requested (market, outcome, user) triple.
var ErrPositionNotFound = errors.New("store: holder position not found")

// Trade is the unit committed after a successful buy: the curve delta, the
// market aggregates, the audit record, and the position upsert are applied
// together.
type Trade struct {
	Tx model.MarketTransaction
}

// Store is the persistence interface.
type Store interface {
	// --- Markets ---

	// CreateMarket persists a market together with its bonding curves,
	// atomically.
	CreateMarket(ctx context.Context, m *model.Market, curves []model.BondingCurve) error

	// GetMarket retrieves a market by id. Returns model.ErrMarketNotFound
	// when absent.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// SetResolution stores a market's terminal resolution and flips it
	// inactive. Fails if the market is already resolved.
	SetResolution(ctx context.Context, id string, r model.Resolution, at time.Time) error

	// SetActive toggles the administrative active flag.
	SetActive(ctx context.Context, id string, active bool) error

	// --- Bonding curves ---

	// GetCurve retrieves one outcome's curve state.
	GetCurve(ctx context.Context, marketID string, key model.OutcomeKey) (*model.BondingCurve, error)

	// ListCurves returns every curve of a market in registration order.
	ListCurves(ctx context.Context, marketID string) ([]model.BondingCurve, error)

	// --- Trades ---

	// CommitTrade atomically applies a successful buy: curve supply/pool
	// increments, market volume/share aggregates, the appended transaction
	// record (Seq assigned here), and the holder position upsert.
	CommitTrade(ctx context.Context, t *Trade) error

	// --- Positions ---

	// GetPosition retrieves one holder position. Returns ErrPositionNotFound
	// when absent.
	GetPosition(ctx context.Context, marketID string, key model.OutcomeKey, userID string) (*model.HolderPosition, error)

	// ListPositionsByMarket returns every position in a market (the holder
	// list).
	ListPositionsByMarket(ctx context.Context, marketID string) ([]model.HolderPosition, error)

	// MarkClaimed zeroes a position's shares and sets its claimed flag.
	MarkClaimed(ctx context.Context, marketID string, key model.OutcomeKey, userID string) error

	// --- Transaction log ---

	// ListTransactionsByMarket returns a market's audit log in sequence order.
	ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.MarketTransaction, error)

	// ListTransactionsByUser returns a user's audit log in sequence order.
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.MarketTransaction, error)
}
