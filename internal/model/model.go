// Package model defines the core domain types shared across the market
// engine: markets, per-outcome bonding curves, holder positions, and the
// append-only transaction log. All monetary values are unsigned integers in
// the smallest currency unit — never float64 for money.
package model

import (
	"fmt"
	"strings"
	"time"
)

// MarketType is the outcome topology of a market.
type MarketType string

const (
	// MarketBinary has exactly the YES and NO outcomes.
	MarketBinary MarketType = "binary"

	// MarketMultipleChoice has 2–50 uniquely named outcomes.
	MarketMultipleChoice MarketType = "multiple_choice"

	// MarketCompound has 2–20 named subjects, each independently binary.
	MarketCompound MarketType = "compound"
)

// Topology limits.
const (
	MinChoices  = 2
	MaxChoices  = 50
	MinSubjects = 2
	MaxSubjects = 20
)

// Side is one half of a binary outcome pair.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// IsValid reports whether the side is YES or NO.
func (s Side) IsValid() bool { return s == SideYes || s == SideNo }

// Opposite returns the other side of the pair.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OutcomeKey identifies one purchasable outcome within a market. Every
// market type reduces to a flat set of keys, each owning one bonding curve
// and one token id:
//
//	binary            "YES", "NO"
//	multiple choice   the outcome name
//	compound          "<subject>/YES", "<subject>/NO"
type OutcomeKey string

// BinaryKey returns the outcome key for a binary market side.
func BinaryKey(s Side) OutcomeKey { return OutcomeKey(s) }

// ChoiceKey returns the outcome key for a named multiple-choice outcome.
func ChoiceKey(name string) OutcomeKey { return OutcomeKey(name) }

// CompoundKey returns the outcome key for one side of a compound subject.
func CompoundKey(subject string, s Side) OutcomeKey {
	return OutcomeKey(subject + "/" + string(s))
}

// BondingCurve is the pricing and pool state for one outcome of one market.
// CurrentSupply and PoolBalance are monotonically non-decreasing: shares are
// never sold back, pools only grow until settlement pays them out through
// the vault.
type BondingCurve struct {
	MarketID      string     `json:"market_id" db:"market_id"`
	OutcomeKey    OutcomeKey `json:"outcome_key" db:"outcome_key"`
	BasePrice     uint64     `json:"base_price" db:"base_price"`
	PriceSlope    uint64     `json:"price_slope" db:"price_slope"`
	CurrentSupply uint64     `json:"current_supply" db:"current_supply"`
	PoolBalance   uint64     `json:"pool_balance" db:"pool_balance"`
}

// Resolution is the terminal outcome of a market. Exactly one field is
// populated, matching the market's topology.
type Resolution struct {
	Winner   Side            `json:"winner,omitempty"`   // binary
	Choice   string          `json:"choice,omitempty"`   // multiple choice
	Subjects map[string]Side `json:"subjects,omitempty"` // compound
}

// Market is one outcome-share market. It is created atomically with its
// bonding curves, mutated on every buy, resolved exactly once, and never
// deleted — deactivation is a separate administrative switch.
type Market struct {
	ID         string                `json:"id" db:"id"`
	Type       MarketType            `json:"type" db:"type"`
	Question   string                `json:"question" db:"question"`
	Outcomes   []string              `json:"outcomes,omitempty" db:"outcomes"` // multiple choice names
	Subjects   []string              `json:"subjects,omitempty" db:"subjects"` // compound subjects
	Resolver   string                `json:"resolver" db:"resolver"`
	ExpiresAt  time.Time             `json:"expires_at" db:"expires_at"`
	Resolution *Resolution           `json:"resolution,omitempty" db:"resolution"`
	ResolvedAt *time.Time            `json:"resolved_at,omitempty" db:"resolved_at"`
	Active     bool                  `json:"active" db:"active"`
	LedgerID   string                `json:"ledger_id" db:"ledger_id"`
	TokenIDs   map[OutcomeKey]string `json:"token_ids" db:"token_ids"`
	VaultID    string                `json:"vault_id" db:"vault_id"`

	// Aggregate counters, incremented on every buy.
	TotalVolume uint64 `json:"total_volume" db:"total_volume"` // cumulative cost charged
	TotalShares uint64 `json:"total_shares" db:"total_shares"` // cumulative shares minted

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsResolved reports whether the market has reached its terminal state.
func (m *Market) IsResolved() bool { return m.Resolution != nil }

// OutcomeKeys returns every purchasable outcome key of the market, in a
// stable order.
func (m *Market) OutcomeKeys() []OutcomeKey {
	switch m.Type {
	case MarketBinary:
		return []OutcomeKey{BinaryKey(SideYes), BinaryKey(SideNo)}
	case MarketMultipleChoice:
		keys := make([]OutcomeKey, 0, len(m.Outcomes))
		for _, name := range m.Outcomes {
			keys = append(keys, ChoiceKey(name))
		}
		return keys
	case MarketCompound:
		keys := make([]OutcomeKey, 0, 2*len(m.Subjects))
		for _, subject := range m.Subjects {
			keys = append(keys, CompoundKey(subject, SideYes), CompoundKey(subject, SideNo))
		}
		return keys
	}
	return nil
}

// ParseOutcomeKey validates a raw outcome identifier from a request against
// the market's topology and returns the canonical key.
func (m *Market) ParseOutcomeKey(raw string) (OutcomeKey, error) {
	switch m.Type {
	case MarketBinary:
		side := Side(strings.ToUpper(raw))
		if !side.IsValid() {
			return "", fmt.Errorf("%w: %q is not YES or NO", ErrUnknownOutcome, raw)
		}
		return BinaryKey(side), nil

	case MarketMultipleChoice:
		for _, name := range m.Outcomes {
			if name == raw {
				return ChoiceKey(name), nil
			}
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, raw)

	case MarketCompound:
		subject, sideRaw, ok := strings.Cut(raw, "/")
		if !ok {
			return "", fmt.Errorf("%w: %q (expected subject/YES or subject/NO)", ErrUnknownOutcome, raw)
		}
		side := Side(strings.ToUpper(sideRaw))
		if !side.IsValid() {
			return "", fmt.Errorf("%w: %q is not YES or NO", ErrUnknownOutcome, sideRaw)
		}
		for _, s := range m.Subjects {
			if s == subject {
				return CompoundKey(subject, side), nil
			}
		}
		return "", fmt.Errorf("%w: unknown subject %q", ErrUnknownOutcome, subject)
	}
	return "", fmt.Errorf("%w: market type %q", ErrUnknownOutcome, m.Type)
}

// ValidateTopology checks the outcome configuration captured at
// registration time.
func (m *Market) ValidateTopology() error {
	switch m.Type {
	case MarketBinary:
		if len(m.Outcomes) != 0 || len(m.Subjects) != 0 {
			return fmt.Errorf("%w: binary markets carry no outcome or subject list", ErrInvalidTopology)
		}
	case MarketMultipleChoice:
		if len(m.Subjects) != 0 {
			return fmt.Errorf("%w: multiple-choice markets carry no subject list", ErrInvalidTopology)
		}
		if len(m.Outcomes) < MinChoices || len(m.Outcomes) > MaxChoices {
			return fmt.Errorf("%w: need %d-%d outcomes, got %d", ErrInvalidTopology, MinChoices, MaxChoices, len(m.Outcomes))
		}
		if err := uniqueNonEmpty(m.Outcomes); err != nil {
			return err
		}
	case MarketCompound:
		if len(m.Outcomes) != 0 {
			return fmt.Errorf("%w: compound markets carry no outcome list", ErrInvalidTopology)
		}
		if len(m.Subjects) < MinSubjects || len(m.Subjects) > MaxSubjects {
			return fmt.Errorf("%w: need %d-%d subjects, got %d", ErrInvalidTopology, MinSubjects, MaxSubjects, len(m.Subjects))
		}
		if err := uniqueNonEmpty(m.Subjects); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown market type %q", ErrInvalidTopology, m.Type)
	}
	return nil
}

func uniqueNonEmpty(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidTopology)
		}
		if strings.Contains(name, "/") {
			return fmt.Errorf("%w: name %q contains '/'", ErrInvalidTopology, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: %q", ErrDuplicateOutcome, name)
		}
		seen[name] = true
	}
	return nil
}

// ValidateResolution checks that a proposed resolution's shape matches the
// market's topology. Shape mismatch is a hard error, never coerced.
func (m *Market) ValidateResolution(r Resolution) error {
	switch m.Type {
	case MarketBinary:
		if r.Choice != "" || r.Subjects != nil {
			return fmt.Errorf("%w: binary markets resolve to a single YES/NO", ErrResolutionShape)
		}
		if !r.Winner.IsValid() {
			return fmt.Errorf("%w: winner must be YES or NO", ErrResolutionShape)
		}
	case MarketMultipleChoice:
		if r.Winner != "" || r.Subjects != nil {
			return fmt.Errorf("%w: multiple-choice markets resolve to one outcome name", ErrResolutionShape)
		}
		found := false
		for _, name := range m.Outcomes {
			if name == r.Choice {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q is not an outcome of this market", ErrResolutionShape, r.Choice)
		}
	case MarketCompound:
		if r.Winner != "" || r.Choice != "" {
			return fmt.Errorf("%w: compound markets resolve per subject", ErrResolutionShape)
		}
		if len(r.Subjects) != len(m.Subjects) {
			return fmt.Errorf("%w: resolution must cover all %d subjects", ErrResolutionShape, len(m.Subjects))
		}
		for _, subject := range m.Subjects {
			side, ok := r.Subjects[subject]
			if !ok {
				return fmt.Errorf("%w: missing subject %q", ErrResolutionShape, subject)
			}
			if !side.IsValid() {
				return fmt.Errorf("%w: subject %q must resolve YES or NO", ErrResolutionShape, subject)
			}
		}
	}
	return nil
}

// SettlementLeg is one independently settled winning outcome together with
// the losing outcome keys whose pools fund its payout.
type SettlementLeg struct {
	Subject    string // empty for binary / multiple choice
	WinningKey OutcomeKey
	LosingKeys []OutcomeKey
}

// SettlementLegs derives the settlement plan from a resolved market. Binary
// and multiple-choice markets settle in one leg; compound markets settle one
// leg per subject, each funded only by that subject's losing side.
func (m *Market) SettlementLegs() []SettlementLeg {
	if m.Resolution == nil {
		return nil
	}
	r := m.Resolution
	switch m.Type {
	case MarketBinary:
		return []SettlementLeg{{
			WinningKey: BinaryKey(r.Winner),
			LosingKeys: []OutcomeKey{BinaryKey(r.Winner.Opposite())},
		}}
	case MarketMultipleChoice:
		losing := make([]OutcomeKey, 0, len(m.Outcomes)-1)
		for _, name := range m.Outcomes {
			if name != r.Choice {
				losing = append(losing, ChoiceKey(name))
			}
		}
		return []SettlementLeg{{
			WinningKey: ChoiceKey(r.Choice),
			LosingKeys: losing,
		}}
	case MarketCompound:
		legs := make([]SettlementLeg, 0, len(m.Subjects))
		for _, subject := range m.Subjects {
			side := r.Subjects[subject]
			legs = append(legs, SettlementLeg{
				Subject:    subject,
				WinningKey: CompoundKey(subject, side),
				LosingKeys: []OutcomeKey{CompoundKey(subject, side.Opposite())},
			})
		}
		return legs
	}
	return nil
}

// HolderPosition is a user's shareholding and cumulative spend in one
// outcome of one market. Created lazily on first purchase; zeroed and
// flagged once claimed.
type HolderPosition struct {
	MarketID   string     `json:"market_id" db:"market_id"`
	OutcomeKey OutcomeKey `json:"outcome_key" db:"outcome_key"`
	UserID     string     `json:"user_id" db:"user_id"`
	Shares     uint64     `json:"shares" db:"shares"`
	TotalPaid  uint64     `json:"total_paid" db:"total_paid"`
	Claimed    bool       `json:"claimed" db:"claimed"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// TxKind is the operation recorded by a transaction log entry.
type TxKind string

// TxBuy is currently the only kind: selling is disabled and claims are
// tracked on the position itself.
const TxBuy TxKind = "buy"

// MarketTransaction is an immutable audit record appended on every
// successful buy. Seq is assigned by the store, monotonically increasing.
type MarketTransaction struct {
	Seq        uint64     `json:"seq" db:"seq"`
	ID         string     `json:"id" db:"id"`
	MarketID   string     `json:"market_id" db:"market_id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Kind       TxKind     `json:"kind" db:"kind"`
	OutcomeKey OutcomeKey `json:"outcome_key" db:"outcome_key"`
	Shares     uint64     `json:"shares" db:"shares"`
	Price      uint64     `json:"price" db:"price"` // marginal price after the trade
	Cost       uint64     `json:"cost" db:"cost"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
}

// ClaimResult is the computed output of a claim. It is returned to the
// caller and never stored.
type ClaimResult struct {
	StakeReturned          uint64   `json:"stake_returned"`
	WinningsFromLosingPool uint64   `json:"winnings_from_losing_pool"`
	TotalPayout            uint64   `json:"total_payout"`
	SubjectsSettled        []string `json:"subjects_settled,omitempty"` // compound only
}
