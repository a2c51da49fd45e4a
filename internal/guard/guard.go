// Package guard serializes mutating operations per (market, outcome) curve.
//
// The buy and claim pipelines read curve state, then suspend on external
// vault and ledger calls before writing the updated state back. Without
// exclusion, two concurrent buys against the same outcome can both read the
// pre-trade supply and both commit — a lost update that mints more shares
// than the curve allows. Every mutating span therefore holds the outcome's
// lock from the first state read through the final commit.
package guard

import (
	"sort"
	"sync"
)

// Keyed is a set of named mutexes, created lazily per key. Keys are
// "<marketID>/<outcomeKey>" strings; the set only grows, which is fine for
// the bounded number of outcomes a process serves.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyed creates an empty lock set.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

func (g *Keyed) get(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.locks[key]
	if !ok {
		m = &sync.Mutex{}
		g.locks[key] = m
	}
	return m
}

// Lock acquires the mutex for one key.
func (g *Keyed) Lock(key string) {
	g.get(key).Lock()
}

// Unlock releases the mutex for one key.
func (g *Keyed) Unlock(key string) {
	g.get(key).Unlock()
}

// LockAll acquires every key in sorted order, so that two callers locking
// overlapping sets cannot deadlock. Resolution uses this to fence off all of
// a market's outcomes at once.
func (g *Keyed) LockAll(keys []string) []string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	sorted = dedup(sorted)
	for _, k := range sorted {
		g.Lock(k)
	}
	return sorted
}

// UnlockAll releases keys previously acquired with LockAll, in reverse
// order.
func (g *Keyed) UnlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		g.Unlock(keys[i])
	}
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			out = append(out, k)
		}
	}
	return out
}
