// Package settle provides the resolution and settlement engines: the
// resolver-gated terminal outcome of a market and the parimutuel claim
// pipeline that pays winners out of the losing pools.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parimarket/market-engine/internal/guard"
	"github.com/parimarket/market-engine/internal/ledger"
	"github.com/parimarket/market-engine/internal/metrics"
	"github.com/parimarket/market-engine/internal/model"
	"github.com/parimarket/market-engine/internal/store"
	"github.com/parimarket/market-engine/internal/trade"
	"github.com/parimarket/market-engine/internal/vault"
)

// ErrCollaborator wraps failures of the external vault or token ledger.
// The HTTP layer maps it to 502.
var ErrCollaborator = errors.New("external collaborator failure")

// Service handles market resolution and claims. It shares the keyed guard
// with the trade service: resolution locks every outcome of the market so
// it cannot interleave with in-flight buys, and each claim locks the
// winning outcome it settles.
type Service struct {
	store  store.Store
	vault  vault.Vault
	ledger ledger.TokenLedger
	guard  *guard.Keyed
	hub    *trade.WSHub // optional
}

// NewService creates a new settlement service.
func NewService(st store.Store, v vault.Vault, l ledger.TokenLedger, g *guard.Keyed, hub *trade.WSHub) *Service {
	return &Service{
		store:  st,
		vault:  v,
		ledger: l,
		guard:  g,
		hub:    hub,
	}
}

// ResolveRequest carries a proposed terminal outcome.
type ResolveRequest struct {
	MarketID   string           `json:"market_id"`
	Caller     string           `json:"caller"`
	Resolution model.Resolution `json:"resolution"`
}

// Resolve records a market's terminal outcome. Only the designated
// resolver may resolve, only after expiry, and only once. Resolution moves
// no funds; payouts happen claim by claim.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}

	// Identity is checked before expiry so an impostor learns nothing about
	// the market's timing.
	if req.Caller != m.Resolver {
		return nil, model.ErrNotResolver
	}
	if time.Now().Before(m.ExpiresAt) {
		return nil, model.ErrMarketNotExpired
	}
	if m.IsResolved() {
		return nil, model.ErrMarketResolved
	}
	if err := m.ValidateResolution(req.Resolution); err != nil {
		return nil, err
	}

	// Lock every outcome so no buy is mid-flight when the resolution lands.
	keys := m.OutcomeKeys()
	lockKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		lockKeys = append(lockKeys, m.ID+"/"+string(key))
	}
	held := s.guard.LockAll(lockKeys)
	defer s.guard.UnlockAll(held)

	wasActive := m.Active
	now := time.Now().UTC()
	if err := s.store.SetResolution(ctx, m.ID, req.Resolution, now); err != nil {
		return nil, err
	}

	metrics.ResolutionsTotal.WithLabelValues(string(m.Type)).Inc()
	if wasActive {
		metrics.ActiveMarkets.Dec()
	}

	slog.Info("market resolved",
		"market", m.ID,
		"type", m.Type,
		"resolver", req.Caller,
		"resolved_at", now,
	)
	if s.hub != nil {
		s.hub.Broadcast(trade.WSMessage{
			Type:     "market_resolved",
			MarketID: m.ID,
		})
	}

	return s.store.GetMarket(ctx, m.ID)
}

// Claim settles a user's winning positions in a resolved market. Binary and
// multiple-choice markets settle in a single leg; compound markets settle
// each subject independently, skipping subjects where the user holds
// nothing, and fail only when zero subjects pay.
//
// Payout per leg: totalPaid + floor(shares × losingPool / totalWinningShares).
func (s *Service) Claim(ctx context.Context, marketID, userID string) (*model.ClaimResult, error) {
	if userID == "" {
		return nil, model.ErrMissingUser
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.IsResolved() {
		return nil, model.ErrMarketNotResolved
	}

	legs := m.SettlementLegs()
	if m.Type != model.MarketCompound {
		leg := legs[0]
		stake, winnings, err := s.settleLeg(ctx, m, leg, userID)
		if err != nil {
			return nil, err
		}
		result := &model.ClaimResult{
			StakeReturned:          stake,
			WinningsFromLosingPool: winnings,
			TotalPayout:            stake + winnings,
		}
		s.recordClaim(m, userID, result)
		return result, nil
	}

	// Compound: best-effort across subjects.
	result := &model.ClaimResult{}
	for _, leg := range legs {
		stake, winnings, err := s.settleLeg(ctx, m, leg, userID)
		if err != nil {
			if errors.Is(err, ErrCollaborator) {
				slog.Warn("subject settlement failed",
					"market", m.ID, "subject", leg.Subject, "user", userID, "err", err)
			}
			continue
		}
		result.StakeReturned += stake
		result.WinningsFromLosingPool += winnings
		result.TotalPayout += stake + winnings
		result.SubjectsSettled = append(result.SubjectsSettled, leg.Subject)
	}
	if len(result.SubjectsSettled) == 0 {
		return nil, model.ErrNothingToClaim
	}
	s.recordClaim(m, userID, result)
	return result, nil
}

// settleLeg settles one winning outcome for one user under that outcome's
// lock: position check, payout computation against frozen pools, token
// burn, vault payout, claimed flag. A payout failure re-mints the burned
// shares so the position stays claimable.
func (s *Service) settleLeg(ctx context.Context, m *model.Market, leg model.SettlementLeg, userID string) (stake, winnings uint64, err error) {
	lockKey := m.ID + "/" + string(leg.WinningKey)
	s.guard.Lock(lockKey)
	defer s.guard.Unlock(lockKey)

	pos, err := s.store.GetPosition(ctx, m.ID, leg.WinningKey, userID)
	if err != nil {
		if errors.Is(err, store.ErrPositionNotFound) {
			return 0, 0, model.ErrNoWinningPosition
		}
		return 0, 0, err
	}
	if pos.Claimed {
		return 0, 0, model.ErrAlreadyClaimed
	}
	if pos.Shares == 0 {
		return 0, 0, model.ErrNoWinningPosition
	}

	winCurve, err := s.store.GetCurve(ctx, m.ID, leg.WinningKey)
	if err != nil {
		return 0, 0, err
	}
	if winCurve.CurrentSupply == 0 {
		return 0, 0, model.ErrNoWinningShares
	}

	var losingPool uint64
	for _, key := range leg.LosingKeys {
		c, err := s.store.GetCurve(ctx, m.ID, key)
		if err != nil {
			return 0, 0, err
		}
		losingPool += c.PoolBalance
	}

	// floor(shares × losingPool / totalWinningShares), overflow-safe. The
	// result never exceeds losingPool because shares ≤ total supply.
	product := new(big.Int).Mul(
		new(big.Int).SetUint64(pos.Shares),
		new(big.Int).SetUint64(losingPool),
	)
	winnings = product.Div(product, new(big.Int).SetUint64(winCurve.CurrentSupply)).Uint64()
	payout := pos.TotalPaid + winnings

	tokenID := m.TokenIDs[leg.WinningKey]
	if err := s.ledger.Burn(ctx, tokenID, userID, pos.Shares); err != nil {
		return 0, 0, fmt.Errorf("%w: token burn: %w", ErrCollaborator, err)
	}
	if err := s.vault.Pay(ctx, m.ID, userID, payout); err != nil {
		// Shares are burned but no money moved; restore them so the claim
		// can be retried.
		metrics.Compensations.WithLabelValues("pay").Inc()
		if mintErr := s.ledger.Mint(ctx, tokenID, userID, pos.Shares); mintErr != nil {
			slog.Error("re-mint after payout failure also failed",
				"market", m.ID, "user", userID, "shares", pos.Shares, "err", mintErr)
		}
		return 0, 0, fmt.Errorf("%w: vault payout: %w", ErrCollaborator, err)
	}
	if err := s.store.MarkClaimed(ctx, m.ID, leg.WinningKey, userID); err != nil {
		// Money and tokens already moved; the flag is the only thing left.
		slog.Error("mark claimed failed after payout",
			"market", m.ID, "outcome", leg.WinningKey, "user", userID, "err", err)
		return 0, 0, fmt.Errorf("mark claimed: %w", err)
	}

	return pos.TotalPaid, winnings, nil
}

func (s *Service) recordClaim(m *model.Market, userID string, result *model.ClaimResult) {
	metrics.ClaimsTotal.Inc()
	metrics.PayoutUnits.Add(float64(result.TotalPayout))

	slog.Info("claim paid",
		"market", m.ID,
		"user", userID,
		"stake", result.StakeReturned,
		"winnings", result.WinningsFromLosingPool,
		"payout", result.TotalPayout,
		"subjects", len(result.SubjectsSettled),
	)
	if s.hub != nil {
		s.hub.Broadcast(trade.WSMessage{
			Type:     "claim_paid",
			MarketID: m.ID,
			UserID:   userID,
			Payout:   result.TotalPayout,
		})
	}
}

// --- HTTP Handlers ---

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.MarketID = chi.URLParam(r, "marketID")

	m, err := s.Resolve(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// ClaimWinnings handles POST /api/v1/markets/{marketID}/claim with body
// {"user_id": "..."}.
func (s *Service) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.Claim(r.Context(), chi.URLParam(r, "marketID"), req.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case model.IsValidation(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrMarketNotFound), errors.Is(err, store.ErrPositionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case model.IsConflict(err):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrCollaborator):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
