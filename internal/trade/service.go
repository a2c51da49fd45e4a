// Package trade provides the HTTP handlers and business logic for
// registering markets, executing buys, and querying prices, positions,
// and transaction history.
//
// All monetary values are uint64 in the smallest currency unit — never
// float64 for money. shopspring/decimal appears only in read-only display
// fields (average cost, implied probability).
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/parimarket/market-engine/internal/curve"
	"github.com/parimarket/market-engine/internal/guard"
	"github.com/parimarket/market-engine/internal/ledger"
	"github.com/parimarket/market-engine/internal/metrics"
	"github.com/parimarket/market-engine/internal/model"
	"github.com/parimarket/market-engine/internal/store"
	"github.com/parimarket/market-engine/internal/vault"
)

// ErrCollaborator wraps failures of the external vault or token ledger.
// The HTTP layer maps it to 502.
var ErrCollaborator = errors.New("external collaborator failure")

// Service handles market registration and trade execution. Buys hold a
// per-(market, outcome) lock across the whole read-compute-commit span so
// concurrent buys on the same curve serialize while other curves proceed.
type Service struct {
	store      store.Store
	vault      vault.Vault
	ledger     ledger.TokenLedger
	guard      *guard.Keyed
	hub        *WSHub // optional WebSocket hub for real-time broadcasts
	adminToken string
}

// NewService creates a new trade service. The guard must be shared with the
// settlement service operating on the same store. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewService(st store.Store, v vault.Vault, l ledger.TokenLedger, g *guard.Keyed, hub *WSHub, adminToken string) *Service {
	return &Service{
		store:      st,
		vault:      v,
		ledger:     l,
		guard:      g,
		hub:        hub,
		adminToken: adminToken,
	}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for market registration.
type RegisterRequest struct {
	Question   string            `json:"question"`
	Type       model.MarketType  `json:"type"`
	Outcomes   []string          `json:"outcomes,omitempty"` // multiple choice
	Subjects   []string          `json:"subjects,omitempty"` // compound
	Resolver   string            `json:"resolver"`
	ExpiresAt  time.Time         `json:"expires_at"`
	BasePrice  uint64            `json:"base_price"`
	PriceSlope uint64            `json:"price_slope"`
	LedgerID   string            `json:"ledger_id"`
	TokenIDs   map[string]string `json:"token_ids"` // outcome key → token id
}

// BuyRequest is the JSON body for POST /trade/buy.
type BuyRequest struct {
	MarketID string `json:"market_id"`
	UserID   string `json:"user_id"`
	Outcome  string `json:"outcome"`
	Budget   uint64 `json:"budget"`
	// MaxPrice is an absolute ceiling on the post-trade marginal price.
	// Zero means no ceiling.
	MaxPrice uint64 `json:"max_price,omitempty"`
}

// BuyResult is returned from a successful buy.
type BuyResult struct {
	Tx       model.MarketTransaction `json:"transaction"`
	NewPrice uint64                  `json:"new_price"`
	Supply   uint64                  `json:"supply"`
	Pool     uint64                  `json:"pool"`
	Position model.HolderPosition    `json:"position"`
}

// --- Business logic ---

// Register validates a market request, provisions its vault, and persists
// the market with one zeroed bonding curve per outcome. Vault setup runs
// first: if it fails nothing is created.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*model.Market, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("%w: question is required", model.ErrInvalidTopology)
	}
	if req.Resolver == "" {
		return nil, fmt.Errorf("%w: resolver is required", model.ErrInvalidTopology)
	}
	if !req.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", model.ErrInvalidTopology)
	}
	if req.BasePrice == 0 || req.PriceSlope == 0 {
		return nil, model.ErrInvalidCurve
	}

	m := &model.Market{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Question:  req.Question,
		Outcomes:  req.Outcomes,
		Subjects:  req.Subjects,
		Resolver:  req.Resolver,
		ExpiresAt: req.ExpiresAt,
		Active:    true,
		LedgerID:  req.LedgerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.ValidateTopology(); err != nil {
		return nil, err
	}

	// Every outcome needs a token id from the external factory.
	keys := m.OutcomeKeys()
	m.TokenIDs = make(map[model.OutcomeKey]string, len(keys))
	for _, key := range keys {
		tokenID, ok := req.TokenIDs[string(key)]
		if !ok || tokenID == "" {
			return nil, fmt.Errorf("%w: missing token id for outcome %q", model.ErrInvalidTopology, key)
		}
		m.TokenIDs[key] = tokenID
	}

	vaultID, err := s.vault.Setup(ctx, m.ID, string(m.Type), m.Subjects)
	if err != nil {
		return nil, fmt.Errorf("%w: vault setup: %w", ErrCollaborator, err)
	}
	m.VaultID = vaultID

	curves := make([]model.BondingCurve, 0, len(keys))
	for _, key := range keys {
		curves = append(curves, model.BondingCurve{
			MarketID:   m.ID,
			OutcomeKey: key,
			BasePrice:  req.BasePrice,
			PriceSlope: req.PriceSlope,
		})
	}
	if err := s.store.CreateMarket(ctx, m, curves); err != nil {
		// The vault was provisioned but the market was not recorded; the
		// vault is orphaned until operator cleanup.
		slog.Error("market create failed after vault setup",
			"market", m.ID, "vault", vaultID, "err", err)
		return nil, fmt.Errorf("create market: %w", err)
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market registered",
		"id", m.ID,
		"type", m.Type,
		"outcomes", len(keys),
		"resolver", m.Resolver,
		"expires_at", m.ExpiresAt,
	)
	return m, nil
}

// Buy executes a budget-driven purchase of one outcome. The whole pipeline
// runs under the (market, outcome) lock: curve read, share computation,
// slippage check, vault pull, token mint, and commit.
func (s *Service) Buy(ctx context.Context, req BuyRequest) (*BuyResult, error) {
	start := time.Now()

	if req.UserID == "" {
		return nil, model.ErrMissingUser
	}
	if req.Budget == 0 {
		return nil, fmt.Errorf("%w: budget", model.ErrZeroAmount)
	}

	m, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	key, err := m.ParseOutcomeKey(req.Outcome)
	if err != nil {
		return nil, err
	}

	lockKey := m.ID + "/" + string(key)
	s.guard.Lock(lockKey)
	defer s.guard.Unlock(lockKey)

	// Re-read under the lock: a resolution or deactivation may have landed
	// between the first read and lock acquisition.
	m, err = s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if err := checkTradable(m); err != nil {
		return nil, err
	}
	tokenID, ok := m.TokenIDs[key]
	if !ok {
		return nil, fmt.Errorf("market %s has no token for outcome %s", m.ID, key)
	}

	c, err := s.store.GetCurve(ctx, m.ID, key)
	if err != nil {
		return nil, err
	}

	// Prior position, read before any funds move. The post-trade position
	// is derived from it rather than re-read after commit, so a committed
	// trade never reports failure.
	var prevShares, prevPaid uint64
	switch prev, err := s.store.GetPosition(ctx, m.ID, key, req.UserID); {
	case err == nil:
		prevShares, prevPaid = prev.Shares, prev.TotalPaid
	case !errors.Is(err, store.ErrPositionNotFound):
		return nil, err
	}

	shares := curve.SharesForBudget(c.BasePrice, c.PriceSlope, c.CurrentSupply, req.Budget)
	if shares == 0 {
		return nil, fmt.Errorf("%w: budget %d at price %d", model.ErrBudgetTooSmall,
			req.Budget, curve.PriceAt(c.BasePrice, c.PriceSlope, c.CurrentSupply))
	}
	cost := curve.CostForShares(c.BasePrice, c.PriceSlope, c.CurrentSupply, shares)
	newPrice := curve.PriceAt(c.BasePrice, c.PriceSlope, c.CurrentSupply+shares)

	if req.MaxPrice > 0 && newPrice > req.MaxPrice {
		metrics.SlippageRejections.Inc()
		return nil, fmt.Errorf("%w: projected %d, ceiling %d", model.ErrSlippage, newPrice, req.MaxPrice)
	}

	if err := s.vault.Pull(ctx, m.ID, req.UserID, cost); err != nil {
		if errors.Is(err, vault.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: vault pull: %w", ErrCollaborator, err)
	}

	if err := s.ledger.Mint(ctx, tokenID, req.UserID, shares); err != nil {
		// Funds left the user; refund before reporting failure.
		metrics.Compensations.WithLabelValues("mint").Inc()
		if refundErr := s.vault.Pay(ctx, m.ID, req.UserID, cost); refundErr != nil {
			slog.Error("refund after mint failure also failed",
				"market", m.ID, "user", req.UserID, "amount", cost, "err", refundErr)
		}
		return nil, fmt.Errorf("%w: token mint: %w", ErrCollaborator, err)
	}

	trade := &store.Trade{Tx: model.MarketTransaction{
		ID:         uuid.NewString(),
		MarketID:   m.ID,
		UserID:     req.UserID,
		Kind:       model.TxBuy,
		OutcomeKey: key,
		Shares:     shares,
		Price:      newPrice,
		Cost:       cost,
		Timestamp:  time.Now().UTC(),
	}}
	if err := s.store.CommitTrade(ctx, trade); err != nil {
		// Funds pulled and shares minted but nothing recorded; unwind both.
		metrics.Compensations.WithLabelValues("commit").Inc()
		if burnErr := s.ledger.Burn(ctx, tokenID, req.UserID, shares); burnErr != nil {
			slog.Error("burn after commit failure also failed",
				"market", m.ID, "user", req.UserID, "shares", shares, "err", burnErr)
		}
		if refundErr := s.vault.Pay(ctx, m.ID, req.UserID, cost); refundErr != nil {
			slog.Error("refund after commit failure also failed",
				"market", m.ID, "user", req.UserID, "amount", cost, "err", refundErr)
		}
		return nil, fmt.Errorf("commit trade: %w", err)
	}

	pos := model.HolderPosition{
		MarketID:   m.ID,
		OutcomeKey: key,
		UserID:     req.UserID,
		Shares:     prevShares + shares,
		TotalPaid:  prevPaid + cost,
		UpdatedAt:  trade.Tx.Timestamp,
	}

	metrics.TradesTotal.WithLabelValues(string(m.Type)).Inc()
	metrics.TradeVolume.WithLabelValues(m.ID).Add(float64(cost))
	metrics.TradeLatency.Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", trade.Tx.ID,
		"seq", trade.Tx.Seq,
		"market", m.ID,
		"user", req.UserID,
		"outcome", key,
		"shares", shares,
		"cost", cost,
		"new_price", newPrice,
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:       "trade_executed",
			MarketID:   m.ID,
			OutcomeKey: string(key),
			Shares:     shares,
			Cost:       cost,
			Price:      newPrice,
			Supply:     c.CurrentSupply + shares,
		})
	}

	return &BuyResult{
		Tx:       trade.Tx,
		NewPrice: newPrice,
		Supply:   c.CurrentSupply + shares,
		Pool:     c.PoolBalance + cost,
		Position: pos,
	}, nil
}

// Sell rejects every request: positions are locked until resolution.
func (s *Service) Sell(context.Context, BuyRequest) (*BuyResult, error) {
	return nil, model.ErrSellingDisabled
}

func checkTradable(m *model.Market) error {
	if m.IsResolved() {
		return model.ErrMarketResolved
	}
	if !m.Active {
		return model.ErrMarketInactive
	}
	if !time.Now().Before(m.ExpiresAt) {
		return model.ErrMarketExpired
	}
	if m.VaultID == "" {
		return model.ErrVaultNotLinked
	}
	return nil
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := s.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// PriceRow is one outcome's entry in the price table. AvgCost and
// ImpliedProbability are display-only decimal strings.
type PriceRow struct {
	OutcomeKey         model.OutcomeKey `json:"outcome_key"`
	Price              uint64           `json:"price"`
	Supply             uint64           `json:"supply"`
	Pool               uint64           `json:"pool"`
	AvgCost            decimal.Decimal  `json:"avg_cost"`
	ImpliedProbability decimal.Decimal  `json:"implied_probability"`
}

// GetPrices handles GET /api/v1/markets/{marketID}/prices
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	curves, err := s.store.ListCurves(r.Context(), marketID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rows := make([]PriceRow, 0, len(curves))
	priceSum := decimal.Zero
	for _, c := range curves {
		price := curve.PriceAt(c.BasePrice, c.PriceSlope, c.CurrentSupply)
		row := PriceRow{
			OutcomeKey: c.OutcomeKey,
			Price:      price,
			Supply:     c.CurrentSupply,
			Pool:       c.PoolBalance,
		}
		if c.CurrentSupply > 0 {
			row.AvgCost = decimal.NewFromUint64(c.PoolBalance).
				Div(decimal.NewFromUint64(c.CurrentSupply)).Round(4)
		}
		rows = append(rows, row)
		priceSum = priceSum.Add(decimal.NewFromUint64(price))
	}
	if priceSum.IsPositive() {
		for i := range rows {
			rows[i].ImpliedProbability = decimal.NewFromUint64(rows[i].Price).
				Div(priceSum).Round(4)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// ExecuteBuy handles POST /api/v1/trade/buy
func (s *Service) ExecuteBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.Buy(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ExecuteSell handles POST /api/v1/trade/sell. Always rejected.
func (s *Service) ExecuteSell(w http.ResponseWriter, r *http.Request) {
	writeServiceError(w, model.ErrSellingDisabled)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/transactions
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	txs, err := s.store.ListTransactionsByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.MarketTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// GetUserHistory handles GET /api/v1/users/{userID}/transactions
func (s *Service) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txs, err := s.store.ListTransactionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to get user history", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.MarketTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// ListHolders handles GET /api/v1/markets/{marketID}/holders
func (s *Service) ListHolders(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	positions, err := s.store.ListPositionsByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to list holders", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.HolderPosition{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// SetActive handles POST /api/v1/admin/markets/{marketID}/active with body
// {"active": bool}. Requires the admin bearer token. Deactivation is
// independent of resolution and reversible.
func (s *Service) SetActive(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" || r.Header.Get("Authorization") != "Bearer "+s.adminToken {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	ctx := r.Context()

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SetActive(ctx, marketID, req.Active); err != nil {
		writeServiceError(w, err)
		return
	}
	if m.Active && !req.Active {
		metrics.ActiveMarkets.Dec()
	} else if !m.Active && req.Active {
		metrics.ActiveMarkets.Inc()
	}

	slog.Info("market active flag changed", "market", marketID, "active", req.Active)
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case model.IsValidation(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrMarketNotFound), errors.Is(err, store.ErrPositionNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case model.IsConflict(err), errors.Is(err, vault.ErrInsufficientFunds):
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
