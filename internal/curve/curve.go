// Package curve implements the linear bonding curve used to price outcome
// shares. The marginal price of a share is an affine function of the shares
// already minted:
//
//	price(s) = basePrice + priceSlope * s
//
// Buying n shares at supply s therefore costs the discrete integral
//
//	cost(n) = n * (basePrice + priceSlope*s + priceSlope*n/2)
//
// and the inverse — how many whole shares a budget buys — is the largest
// non-negative integer root of the corresponding quadratic.
//
// All arithmetic is exact. Monetary values are unsigned integers in the
// smallest currency unit; intermediates that can exceed 64 bits use big.Int.
// Never float64 anywhere in this package: the results determine exact token
// mint amounts and must be reproducible bit for bit.
package curve

import "math/big"

// PriceAt returns the marginal price of the next share at the given supply:
// basePrice + priceSlope*supply. Saturates at the maximum uint64 when the
// true value does not fit; a saturated price still compares correctly
// against any caller-supplied price ceiling.
func PriceAt(basePrice, priceSlope, supply uint64) uint64 {
	p := new(big.Int).SetUint64(priceSlope)
	p.Mul(p, new(big.Int).SetUint64(supply))
	p.Add(p, new(big.Int).SetUint64(basePrice))
	return toUint64Sat(p)
}

// CostForShares returns the exact cost of buying n shares at the given
// supply:
//
//	n * (basePrice + priceSlope*supply + priceSlope*n/2)
//
// The priceSlope*n/2 term uses integer division, truncating toward zero.
// This is the inverse used to recompute the charged amount once n has been
// chosen, so a trade's cost never exceeds the budget that produced n.
func CostForShares(basePrice, priceSlope, supply, n uint64) uint64 {
	if n == 0 {
		return 0
	}
	slope := new(big.Int).SetUint64(priceSlope)

	half := new(big.Int).Mul(slope, new(big.Int).SetUint64(n))
	half.Quo(half, big.NewInt(2))

	unit := new(big.Int).Mul(slope, new(big.Int).SetUint64(supply))
	unit.Add(unit, new(big.Int).SetUint64(basePrice))
	unit.Add(unit, half)

	unit.Mul(unit, new(big.Int).SetUint64(n))
	return toUint64Sat(unit)
}

// SharesForBudget returns the largest whole number of shares purchasable at
// the given supply without the cost exceeding budget. Returns 0 when the
// budget cannot cover even one share.
//
// Solves (slope/2)*n^2 + (basePrice + slope*supply)*n - budget = 0 for n:
// with a = slope, b = basePrice + slope*supply, c = budget, the discriminant
// is D = b^2 + 2ac and n = floor((isqrt(D) - b) / a).
func SharesForBudget(basePrice, priceSlope, supply, budget uint64) uint64 {
	if budget == 0 {
		return 0
	}
	if priceSlope == 0 {
		if basePrice == 0 {
			return 0
		}
		return budget / basePrice
	}

	a := new(big.Int).SetUint64(priceSlope)
	b := new(big.Int).SetUint64(priceSlope)
	b.Mul(b, new(big.Int).SetUint64(supply))
	b.Add(b, new(big.Int).SetUint64(basePrice))
	c := new(big.Int).SetUint64(budget)

	// D = b^2 + 2ac
	d := new(big.Int).Mul(b, b)
	two := new(big.Int).Mul(a, c)
	two.Lsh(two, 1)
	d.Add(d, two)

	root := isqrt(d)
	if root.Cmp(b) <= 0 {
		return 0
	}
	root.Sub(root, b)
	root.Quo(root, a)
	return toUint64Sat(root)
}

// isqrt computes floor(sqrt(d)) by Newton's method with floor division,
// starting from x0 = d and iterating x' = (x + d/x) / 2 until the iterate
// stops decreasing. This exact sequence is load-bearing: it is the
// fixed-point convention the share amounts are defined against.
func isqrt(d *big.Int) *big.Int {
	if d.Sign() <= 0 {
		return new(big.Int)
	}
	x := new(big.Int).Set(d)
	for {
		next := new(big.Int).Quo(d, x)
		next.Add(next, x)
		next.Rsh(next, 1)
		if next.Cmp(x) >= 0 {
			return x
		}
		x = next
	}
}

func toUint64Sat(v *big.Int) uint64 {
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
