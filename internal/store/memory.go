package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parimarket/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for development
// mode and testing. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	curves    map[string]map[model.OutcomeKey]*model.BondingCurve
	positions map[string]*model.HolderPosition // posKey(market, outcome, user)
	log       []model.MarketTransaction
	nextSeq   uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		curves:    make(map[string]map[model.OutcomeKey]*model.BondingCurve),
		positions: make(map[string]*model.HolderPosition),
		nextSeq:   1,
	}
}

func posKey(marketID string, key model.OutcomeKey, userID string) string {
	return marketID + "|" + string(key) + "|" + userID
}

func copyMarket(m *model.Market) *model.Market {
	cp := *m
	if m.Resolution != nil {
		r := *m.Resolution
		if m.Resolution.Subjects != nil {
			r.Subjects = make(map[string]model.Side, len(m.Resolution.Subjects))
			for k, v := range m.Resolution.Subjects {
				r.Subjects[k] = v
			}
		}
		cp.Resolution = &r
	}
	if m.ResolvedAt != nil {
		at := *m.ResolvedAt
		cp.ResolvedAt = &at
	}
	cp.Outcomes = append([]string(nil), m.Outcomes...)
	cp.Subjects = append([]string(nil), m.Subjects...)
	if m.TokenIDs != nil {
		cp.TokenIDs = make(map[model.OutcomeKey]string, len(m.TokenIDs))
		for k, v := range m.TokenIDs {
			cp.TokenIDs[k] = v
		}
	}
	return &cp
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, curves []model.BondingCurve) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s already exists", m.ID)
	}

	s.markets[m.ID] = copyMarket(m)
	byKey := make(map[model.OutcomeKey]*model.BondingCurve, len(curves))
	for _, c := range curves {
		cp := c
		byKey[c.OutcomeKey] = &cp
	}
	s.curves[m.ID] = byKey
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrMarketNotFound, id)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *copyMarket(m))
	}
	return markets, nil
}

func (s *MemoryStore) SetResolution(_ context.Context, id string, r model.Resolution, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrMarketNotFound, id)
	}
	if m.Resolution != nil {
		return model.ErrMarketResolved
	}
	m.Resolution = &r
	m.ResolvedAt = &at
	m.Active = false
	return nil
}

func (s *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrMarketNotFound, id)
	}
	m.Active = active
	return nil
}

func (s *MemoryStore) GetCurve(_ context.Context, marketID string, key model.OutcomeKey) (*model.BondingCurve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.curves[marketID][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", model.ErrUnknownOutcome, marketID, key)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCurves(_ context.Context, marketID string) ([]model.BondingCurve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrMarketNotFound, marketID)
	}

	// Follow the market's stable key order rather than map iteration order.
	keys := m.OutcomeKeys()
	curves := make([]model.BondingCurve, 0, len(keys))
	for _, key := range keys {
		if c, ok := s.curves[marketID][key]; ok {
			curves = append(curves, *c)
		}
	}
	return curves, nil
}

func (s *MemoryStore) CommitTrade(_ context.Context, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := t.Tx
	m, ok := s.markets[tx.MarketID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrMarketNotFound, tx.MarketID)
	}
	c, ok := s.curves[tx.MarketID][tx.OutcomeKey]
	if !ok {
		return fmt.Errorf("%w: %s/%s", model.ErrUnknownOutcome, tx.MarketID, tx.OutcomeKey)
	}

	c.CurrentSupply += tx.Shares
	c.PoolBalance += tx.Cost
	m.TotalShares += tx.Shares
	m.TotalVolume += tx.Cost

	tx.Seq = s.nextSeq
	s.nextSeq++
	s.log = append(s.log, tx)

	pk := posKey(tx.MarketID, tx.OutcomeKey, tx.UserID)
	pos, ok := s.positions[pk]
	if !ok {
		pos = &model.HolderPosition{
			MarketID:   tx.MarketID,
			OutcomeKey: tx.OutcomeKey,
			UserID:     tx.UserID,
		}
		s.positions[pk] = pos
	}
	pos.Shares += tx.Shares
	pos.TotalPaid += tx.Cost
	pos.UpdatedAt = tx.Timestamp

	t.Tx.Seq = tx.Seq
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, marketID string, key model.OutcomeKey, userID string) (*model.HolderPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[posKey(marketID, key, userID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrPositionNotFound, marketID, key, userID)
	}
	cp := *pos
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByMarket(_ context.Context, marketID string) ([]model.HolderPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.HolderPosition
	for _, pos := range s.positions {
		if pos.MarketID == marketID {
			out = append(out, *pos)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkClaimed(_ context.Context, marketID string, key model.OutcomeKey, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[posKey(marketID, key, userID)]
	if !ok {
		return fmt.Errorf("%w: %s/%s/%s", ErrPositionNotFound, marketID, key, userID)
	}
	pos.Shares = 0
	pos.Claimed = true
	pos.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListTransactionsByMarket(_ context.Context, marketID string) ([]model.MarketTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MarketTransaction
	for _, tx := range s.log {
		if tx.MarketID == marketID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.MarketTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MarketTransaction
	for _, tx := range s.log {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}
