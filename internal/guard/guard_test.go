package guard

import (
	"sync"
	"testing"
)

func TestKeyed_SerializesSameKey(t *testing.T) {
	g := NewKeyed()
	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Lock("m1/YES")
			defer g.Unlock("m1/YES")
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("expected %d increments, got %d", workers, counter)
	}
}

func TestKeyed_IndependentKeysDoNotBlock(t *testing.T) {
	g := NewKeyed()
	g.Lock("m1/YES")
	defer g.Unlock("m1/YES")

	done := make(chan struct{})
	go func() {
		g.Lock("m1/NO")
		g.Unlock("m1/NO")
		close(done)
	}()
	<-done // must complete while m1/YES is held
}

func TestLockAll_OverlappingSetsNoDeadlock(t *testing.T) {
	g := NewKeyed()
	keysA := []string{"m1/NO", "m1/YES"}
	keysB := []string{"m1/YES", "m1/NO"}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			held := g.LockAll(keysA)
			g.UnlockAll(held)
		}()
		go func() {
			defer wg.Done()
			held := g.LockAll(keysB)
			g.UnlockAll(held)
		}()
	}
	wg.Wait()
}

func TestLockAll_Dedup(t *testing.T) {
	g := NewKeyed()
	held := g.LockAll([]string{"a", "a", "b"})
	if len(held) != 2 {
		t.Fatalf("expected 2 deduped keys, got %v", held)
	}
	g.UnlockAll(held)

	// Lockable again after release.
	g.Lock("a")
	g.Unlock("a")
}
