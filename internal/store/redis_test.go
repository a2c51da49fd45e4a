package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/parimarket/market-engine/internal/model"
)

func newCachedStore(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func TestCachedStore_MarketReadThrough(t *testing.T) {
	cached, _, mr := newCachedStore(t)
	ctx := context.Background()

	m, curves := newBinaryMarket("m1")
	if err := cached.CreateMarket(ctx, m, curves); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	// CreateMarket populated the cache.
	if !mr.Exists("market:m1") {
		t.Error("market not cached after create")
	}

	got, err := cached.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.Question != m.Question {
		t.Errorf("unexpected market from cache: %+v", got)
	}
}

func TestCachedStore_CommitTradeInvalidates(t *testing.T) {
	cached, _, mr := newCachedStore(t)
	ctx := context.Background()

	m, curves := newBinaryMarket("m1")
	if err := cached.CreateMarket(ctx, m, curves); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	// Warm the curve cache.
	if _, err := cached.GetCurve(ctx, "m1", "YES"); err != nil {
		t.Fatalf("GetCurve: %v", err)
	}
	if !mr.Exists("curve:m1:YES") {
		t.Fatal("curve not cached after read")
	}

	trade := &Trade{Tx: model.MarketTransaction{
		ID: "tx1", MarketID: "m1", UserID: "alice", Kind: model.TxBuy,
		OutcomeKey: "YES", Shares: 8, Cost: 9600, Timestamp: time.Now().UTC(),
	}}
	if err := cached.CommitTrade(ctx, trade); err != nil {
		t.Fatalf("CommitTrade: %v", err)
	}

	if mr.Exists("curve:m1:YES") {
		t.Error("curve cache not invalidated by trade")
	}
	if mr.Exists("market:m1") {
		t.Error("market cache not invalidated by trade")
	}

	// Re-read reflects the committed trade.
	c, err := cached.GetCurve(ctx, "m1", "YES")
	if err != nil {
		t.Fatalf("GetCurve after trade: %v", err)
	}
	if c.CurrentSupply != 8 || c.PoolBalance != 9600 {
		t.Errorf("stale curve after invalidation: %+v", c)
	}
}

func TestCachedStore_ResolutionInvalidates(t *testing.T) {
	cached, _, mr := newCachedStore(t)
	ctx := context.Background()

	m, curves := newBinaryMarket("m1")
	if err := cached.CreateMarket(ctx, m, curves); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	if err := cached.SetResolution(ctx, "m1", model.Resolution{Winner: model.SideYes}, time.Now().UTC()); err != nil {
		t.Fatalf("SetResolution: %v", err)
	}
	if mr.Exists("market:m1") {
		t.Error("market cache not invalidated by resolution")
	}

	got, err := cached.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if !got.IsResolved() || got.Active {
		t.Errorf("resolved state not visible through cache: %+v", got)
	}
}

func TestCachedStore_CacheMissFallsBack(t *testing.T) {
	cached, primary, mr := newCachedStore(t)
	ctx := context.Background()

	m, curves := newBinaryMarket("m1")
	if err := primary.CreateMarket(ctx, m, curves); err != nil {
		t.Fatalf("CreateMarket on primary: %v", err)
	}
	mr.FlushAll()

	got, err := cached.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.ID != "m1" {
		t.Errorf("unexpected market: %+v", got)
	}
	// Miss re-populated the cache.
	if !mr.Exists("market:m1") {
		t.Error("cache not re-populated on miss")
	}
}
