// Package vault defines the contract with the external custodial vault that
// holds pooled funds per market. The engine's internal pool balances are a
// settlement ledger only; the vault is the source of truth for actual funds
// and is never assumed consistent with them without reconciliation.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Vault is the consumed interface. Pull moves funds from a user into the
// market's pool; Pay moves funds from the pool back to a user. Setup is
// invoked once during market registration and its failure aborts
// registration entirely.
type Vault interface {
	Setup(ctx context.Context, marketID, topology string, subjects []string) (vaultID string, err error)
	Pull(ctx context.Context, marketID, user string, amount uint64) error
	Pay(ctx context.Context, marketID, user string, amount uint64) error
}

var (
	// ErrInsufficientFunds is returned by Pull when the user cannot cover the
	// amount.
	ErrInsufficientFunds = errors.New("vault: insufficient user funds")

	// ErrPoolShort is returned by Pay when the market pool cannot cover the
	// amount.
	ErrPoolShort = errors.New("vault: market pool cannot cover payout")

	// ErrUnknownMarket is returned when no vault exists for the market.
	ErrUnknownMarket = errors.New("vault: unknown market")
)

// Memory is an in-process Vault used in dev mode and tests. User balances
// are credited out of band (deposits are outside the engine's scope).
type Memory struct {
	mu    sync.Mutex
	users map[string]uint64
	pools map[string]uint64 // marketID → pooled funds
}

// NewMemory creates an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]uint64),
		pools: make(map[string]uint64),
	}
}

// Credit funds a user account. Test and dev helper; not part of Vault.
func (v *Memory) Credit(user string, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.users[user] += amount
}

// UserBalance reports a user's uncommitted funds. Test and dev helper.
func (v *Memory) UserBalance(user string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.users[user]
}

// PoolBalance reports a market's pooled funds. Test and dev helper.
func (v *Memory) PoolBalance(marketID string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pools[marketID]
}

func (v *Memory) Setup(_ context.Context, marketID, _ string, _ []string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pools[marketID]; !ok {
		v.pools[marketID] = 0
	}
	return "vault-" + uuid.NewString(), nil
}

func (v *Memory) Pull(_ context.Context, marketID, user string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.pools[marketID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, marketID)
	}
	if v.users[user] < amount {
		return fmt.Errorf("%w: user %s has %d, need %d", ErrInsufficientFunds, user, v.users[user], amount)
	}
	v.users[user] -= amount
	v.pools[marketID] += amount
	return nil
}

func (v *Memory) Pay(_ context.Context, marketID, user string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.pools[marketID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, marketID)
	}
	if v.pools[marketID] < amount {
		return fmt.Errorf("%w: market %s pool has %d, need %d", ErrPoolShort, marketID, v.pools[marketID], amount)
	}
	v.pools[marketID] -= amount
	v.users[user] += amount
	return nil
}
