package model

import "errors"

// Sentinel errors — compare with errors.Is().

// Validation errors, rejected before any external call.
var (
	// ErrInvalidTopology is returned when a market's outcome configuration
	// does not match its declared type.
	ErrInvalidTopology = errors.New("invalid market topology")

	// ErrDuplicateOutcome is returned when an outcome or subject name repeats.
	ErrDuplicateOutcome = errors.New("duplicate outcome name")

	// ErrUnknownOutcome is returned when a request names an outcome the
	// market does not have.
	ErrUnknownOutcome = errors.New("unknown outcome")

	// ErrInvalidCurve is returned when a bonding curve's base price or slope
	// is zero at registration time.
	ErrInvalidCurve = errors.New("base price and price slope must be positive")

	// ErrZeroAmount is returned when a monetary amount is zero.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrMissingUser is returned when a request omits the acting user.
	ErrMissingUser = errors.New("user id is required")
)

// Precondition errors, rejected before any external call.
var (
	// ErrMarketNotFound is returned when no market matches the given id.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketInactive is returned when trading is attempted on a
	// deactivated market.
	ErrMarketInactive = errors.New("market is not active")

	// ErrMarketResolved is returned when a buy or a second resolution hits an
	// already-resolved market.
	ErrMarketResolved = errors.New("market is already resolved")

	// ErrMarketNotResolved is returned when a claim arrives before resolution.
	ErrMarketNotResolved = errors.New("market is not resolved yet")

	// ErrMarketExpired is returned when a buy arrives at or after expiry.
	ErrMarketExpired = errors.New("market has expired")

	// ErrMarketNotExpired is returned when resolution is attempted early.
	ErrMarketNotExpired = errors.New("market has not expired yet")

	// ErrVaultNotLinked is returned when a market has no vault linkage.
	ErrVaultNotLinked = errors.New("market has no vault configured")

	// ErrNotResolver is returned when a caller other than the designated
	// resolver attempts resolution.
	ErrNotResolver = errors.New("caller is not the market resolver")

	// ErrResolutionShape is returned when a resolution's shape does not match
	// the market topology.
	ErrResolutionShape = errors.New("resolution does not match market topology")
)

// Trading errors.
var (
	// ErrBudgetTooSmall is returned when a budget cannot buy one whole share.
	ErrBudgetTooSmall = errors.New("budget too small to buy a single share")

	// ErrSlippage is returned when the projected post-trade price exceeds the
	// caller's price ceiling.
	ErrSlippage = errors.New("projected price exceeds the acceptable maximum")

	// ErrSellingDisabled is the fixed rejection for every sell request:
	// positions are locked until resolution by design.
	ErrSellingDisabled = errors.New("selling is not supported: positions are locked until resolution")
)

// Settlement errors.
var (
	// ErrNoWinningPosition is returned when the caller holds no shares of the
	// winning outcome.
	ErrNoWinningPosition = errors.New("no winning position to claim")

	// ErrAlreadyClaimed is returned on a repeat claim of a settled position.
	ErrAlreadyClaimed = errors.New("position already claimed")

	// ErrNoWinningShares is returned when the winning curve reports zero
	// supply at claim time. It guards the payout division and indicates state
	// inconsistency, never a payout of zero.
	ErrNoWinningShares = errors.New("winning outcome has zero total shares")

	// ErrNothingToClaim is returned when a compound claim settles zero
	// subjects.
	ErrNothingToClaim = errors.New("nothing to claim")
)

// IsValidation reports whether err is a request-shape error that should map
// to a 400 response.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidTopology, ErrDuplicateOutcome, ErrUnknownOutcome,
		ErrInvalidCurve, ErrZeroAmount, ErrMissingUser, ErrResolutionShape,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err represents a state conflict (409): a
// precondition, slippage, or settlement-state failure.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrMarketInactive, ErrMarketResolved, ErrMarketNotResolved,
		ErrMarketExpired, ErrMarketNotExpired, ErrVaultNotLinked,
		ErrNotResolver, ErrBudgetTooSmall, ErrSlippage, ErrSellingDisabled,
		ErrNoWinningPosition, ErrAlreadyClaimed, ErrNoWinningShares,
		ErrNothingToClaim,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
