// Package ledger defines the contract with the external multi-token ledger
// that holds outcome shares. Token identifiers are opaque handles issued by
// the token factory once per outcome at market creation; the engine only
// mints and burns against them, never creates or deletes tokens.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// TokenLedger is the consumed interface. Calls are out-of-process in
// production; any error aborts the calling pipeline and triggers its
// compensation logic.
type TokenLedger interface {
	// Mint credits amount units of tokenID to account.
	Mint(ctx context.Context, tokenID, account string, amount uint64) error

	// Burn debits amount units of tokenID from account.
	Burn(ctx context.Context, tokenID, account string, amount uint64) error

	// BalanceOf returns the current balance of tokenID held by account.
	BalanceOf(ctx context.Context, tokenID, account string) (uint64, error)
}

// ErrInsufficientTokens is returned by Burn when the account holds fewer
// units than requested.
var ErrInsufficientTokens = errors.New("ledger: insufficient token balance")

// Memory is an in-process TokenLedger used in dev mode and tests.
type Memory struct {
	mu       sync.Mutex
	balances map[string]map[string]uint64 // tokenID → account → amount
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[string]map[string]uint64)}
}

func (l *Memory) Mint(_ context.Context, tokenID, account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, ok := l.balances[tokenID]
	if !ok {
		accounts = make(map[string]uint64)
		l.balances[tokenID] = accounts
	}
	accounts[account] += amount
	return nil
}

func (l *Memory) Burn(_ context.Context, tokenID, account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts := l.balances[tokenID]
	if accounts[account] < amount {
		return fmt.Errorf("%w: token %s account %s has %d, need %d",
			ErrInsufficientTokens, tokenID, account, accounts[account], amount)
	}
	accounts[account] -= amount
	return nil
}

func (l *Memory) BalanceOf(_ context.Context, tokenID, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tokenID][account], nil
}
