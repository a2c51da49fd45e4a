package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parimarket/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. The cache is best-effort:
// a Redis failure never fails the operation.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, curves []model.BondingCurve) error {
	if err := s.primary.CreateMarket(ctx, m, curves); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SetResolution(ctx context.Context, id string, r model.Resolution, at time.Time) error {
	if err := s.primary.SetResolution(ctx, id, r, at); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the resolved state.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.primary.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) CommitTrade(ctx context.Context, t *Trade) error {
	if err := s.primary.CommitTrade(ctx, t); err != nil {
		return err
	}
	// The trade moved a curve, the market aggregates, and one position.
	s.rdb.Del(ctx,
		marketKey(t.Tx.MarketID),
		curveKey(t.Tx.MarketID, t.Tx.OutcomeKey),
	)
	return nil
}

func (s *CachedStore) MarkClaimed(ctx context.Context, marketID string, key model.OutcomeKey, userID string) error {
	return s.primary.MarkClaimed(ctx, marketID, key, userID)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetCurve(ctx context.Context, marketID string, key model.OutcomeKey) (*model.BondingCurve, error) {
	data, err := s.rdb.Get(ctx, curveKey(marketID, key)).Bytes()
	if err == nil {
		var c model.BondingCurve
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetCurve(ctx, marketID, key)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, curveKey(marketID, key), data, s.ttl)
	}
	return c, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListCurves(ctx context.Context, marketID string) ([]model.BondingCurve, error) {
	return s.primary.ListCurves(ctx, marketID)
}

func (s *CachedStore) GetPosition(ctx context.Context, marketID string, key model.OutcomeKey, userID string) (*model.HolderPosition, error) {
	return s.primary.GetPosition(ctx, marketID, key, userID)
}

func (s *CachedStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.HolderPosition, error) {
	return s.primary.ListPositionsByMarket(ctx, marketID)
}

func (s *CachedStore) ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.MarketTransaction, error) {
	return s.primary.ListTransactionsByMarket(ctx, marketID)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.MarketTransaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }

func curveKey(marketID string, key model.OutcomeKey) string {
	return fmt.Sprintf("curve:%s:%s", marketID, key)
}
