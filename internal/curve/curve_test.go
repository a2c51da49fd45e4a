package curve

import (
	"math"
	"math/big"
	"testing"
)

// --- Integer square root ---

func TestIsqrt_KnownValues(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{144, 12},
		{999999, 999},
		{1000000, 1000},
		{1099900, 1048},   // budget just under one share, base=1000 slope=50
		{1102500, 1050},   // perfect square
		{1500000, 1224},
		{2000000, 1414},
	}
	for _, tt := range tests {
		got := isqrt(new(big.Int).SetUint64(tt.in))
		if got.Uint64() != tt.want {
			t.Errorf("isqrt(%d) = %s, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIsqrt_LargeDiscriminant(t *testing.T) {
	// (2^40)^2 = 2^80 does not fit in uint64; the root must still be exact.
	d := new(big.Int).Lsh(big.NewInt(1), 80)
	want := new(big.Int).Lsh(big.NewInt(1), 40)
	if got := isqrt(d); got.Cmp(want) != 0 {
		t.Errorf("isqrt(2^80) = %s, want %s", got, want)
	}
}

// --- Price ---

func TestPriceAt_AffineInSupply(t *testing.T) {
	base, slope := uint64(1000), uint64(50)
	prev := PriceAt(base, slope, 0)
	if prev != 1000 {
		t.Fatalf("price at zero supply = %d, want 1000", prev)
	}
	for s := uint64(1); s <= 100; s++ {
		p := PriceAt(base, slope, s)
		if p != prev+slope {
			t.Fatalf("price at supply %d = %d, want %d", s, p, prev+slope)
		}
		prev = p
	}
}

func TestPriceAt_Saturates(t *testing.T) {
	p := PriceAt(math.MaxUint64, math.MaxUint64, 2)
	if p != math.MaxUint64 {
		t.Errorf("expected saturated price, got %d", p)
	}
}

// --- Cost ---

func TestCostForShares_KnownValues(t *testing.T) {
	tests := []struct {
		base, slope, supply, n uint64
		want                   uint64
	}{
		{1000, 50, 0, 0, 0},
		{1000, 50, 0, 1, 1025},  // base + slope/2
		{1000, 50, 0, 8, 9600},  // 8 * (1000 + 200)
		{1000, 50, 0, 9, 11025}, // 9 * (1000 + 225)
		{1000, 50, 8, 4, 6000},  // 4 * (1000 + 400 + 100)
		{250, 0, 0, 4, 1000},    // flat curve
		{1, 1, 0, 3, 6},         // odd slope: 3 * (1 + floor(3/2))
	}
	for _, tt := range tests {
		got := CostForShares(tt.base, tt.slope, tt.supply, tt.n)
		if got != tt.want {
			t.Errorf("CostForShares(base=%d slope=%d supply=%d n=%d) = %d, want %d",
				tt.base, tt.slope, tt.supply, tt.n, got, tt.want)
		}
	}
}

// --- Inverse solving ---

func TestSharesForBudget_KnownValues(t *testing.T) {
	tests := []struct {
		base, slope, supply, budget uint64
		want                        uint64
	}{
		{1000, 50, 0, 10000, 8},
		{1000, 50, 0, 9600, 8},  // exact cost of 8 shares
		{1000, 50, 0, 1025, 1},  // exact cost of the first share
		{1000, 50, 0, 1024, 0},  // one unit short of the first share
		{1000, 50, 0, 999, 0},
		{1000, 50, 0, 0, 0},
		{250, 0, 0, 1000, 4},  // flat curve: floor division
		{250, 0, 0, 999, 3},
		{0, 0, 0, 1000, 0},  // degenerate zero-price curve buys nothing
		{1000, 50, 8, 5000, 3}, // mid-curve: price floor already at 1400
	}
	for _, tt := range tests {
		got := SharesForBudget(tt.base, tt.slope, tt.supply, tt.budget)
		if got != tt.want {
			t.Errorf("SharesForBudget(base=%d slope=%d supply=%d budget=%d) = %d, want %d",
				tt.base, tt.slope, tt.supply, tt.budget, got, tt.want)
		}
	}
}

func TestSharesForBudget_CostNeverExceedsBudget(t *testing.T) {
	bases := []uint64{1, 7, 250, 1000, 50000}
	slopes := []uint64{0, 1, 2, 13, 50, 1000}
	supplies := []uint64{0, 1, 9, 100, 12345}
	budgets := []uint64{0, 1, 999, 1025, 10000, 123456789}

	for _, base := range bases {
		for _, slope := range slopes {
			for _, supply := range supplies {
				for _, budget := range budgets {
					n := SharesForBudget(base, slope, supply, budget)
					cost := CostForShares(base, slope, supply, n)
					if cost > budget {
						t.Fatalf("cost %d exceeds budget %d (base=%d slope=%d supply=%d n=%d)",
							cost, budget, base, slope, supply, n)
					}
				}
			}
		}
	}
}

func TestSharesForBudget_Maximal(t *testing.T) {
	// With an even slope the truncated half-term is exact and one more share
	// must always overshoot the budget.
	bases := []uint64{1, 250, 1000}
	slopes := []uint64{2, 50, 1000}
	supplies := []uint64{0, 8, 100}
	budgets := []uint64{1025, 9600, 10000, 5000000}

	for _, base := range bases {
		for _, slope := range slopes {
			for _, supply := range supplies {
				for _, budget := range budgets {
					n := SharesForBudget(base, slope, supply, budget)
					over := CostForShares(base, slope, supply, n+1)
					if over <= budget {
						t.Fatalf("n+1 shares still affordable: cost(%d)=%d budget=%d (base=%d slope=%d supply=%d)",
							n+1, over, budget, base, slope, supply)
					}
				}
			}
		}
	}
}

func TestSharesForBudget_RoundTripThroughSupply(t *testing.T) {
	// Buying with the same budget repeatedly walks the curve upward and every
	// purchase must stay affordable at the supply it executes against.
	base, slope := uint64(1000), uint64(50)
	supply := uint64(0)
	budget := uint64(25000)

	for i := 0; i < 10; i++ {
		n := SharesForBudget(base, slope, supply, budget)
		if n == 0 {
			break
		}
		cost := CostForShares(base, slope, supply, n)
		if cost > budget {
			t.Fatalf("iteration %d: cost %d > budget %d", i, cost, budget)
		}
		supply += n
	}
	if supply == 0 {
		t.Fatal("expected at least one successful purchase")
	}
}
