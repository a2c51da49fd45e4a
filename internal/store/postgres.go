package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parimarket/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values and share counts are stored as NUMERIC so the full uint64
// range survives the round trip; structured fields (outcome lists, token id
// map, resolution) are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, curves []model.BondingCurve) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return err
	}
	subjects, err := json.Marshal(m.Subjects)
	if err != nil {
		return err
	}
	tokenIDs, err := json.Marshal(m.TokenIDs)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, type, question, outcomes, subjects, resolver, expires_at,
		                      active, ledger_id, token_ids, vault_id,
		                      total_volume, total_shares, created_at)
		 VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6, $7, $8, $9, $10::JSONB, $11,
		         $12::NUMERIC, $13::NUMERIC, $14)`,
		m.ID, m.Type, m.Question, outcomes, subjects, m.Resolver, m.ExpiresAt,
		m.Active, m.LedgerID, tokenIDs, m.VaultID,
		u64(m.TotalVolume), u64(m.TotalShares), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create market %s: %w", m.ID, err)
	}

	for _, c := range curves {
		_, err = tx.Exec(ctx,
			`INSERT INTO bonding_curves (market_id, outcome_key, base_price, price_slope, current_supply, pool_balance)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)`,
			c.MarketID, c.OutcomeKey,
			u64(c.BasePrice), u64(c.PriceSlope), u64(c.CurrentSupply), u64(c.PoolBalance),
		)
		if err != nil {
			return fmt.Errorf("create curve %s/%s: %w", c.MarketID, c.OutcomeKey, err)
		}
	}

	return tx.Commit(ctx)
}

const marketColumns = `id, type, question, outcomes, subjects, resolver, expires_at,
       resolution, resolved_at, active, ledger_id, token_ids, vault_id,
       total_volume::TEXT, total_shares::TEXT, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var outcomes, subjects, tokenIDs []byte
	var resolution []byte
	var totalVolume, totalShares string

	err := row.Scan(&m.ID, &m.Type, &m.Question, &outcomes, &subjects, &m.Resolver, &m.ExpiresAt,
		&resolution, &m.ResolvedAt, &m.Active, &m.LedgerID, &tokenIDs, &m.VaultID,
		&totalVolume, &totalShares, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(outcomes, &m.Outcomes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subjects, &m.Subjects); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tokenIDs, &m.TokenIDs); err != nil {
		return nil, err
	}
	if resolution != nil {
		var r model.Resolution
		if err := json.Unmarshal(resolution, &r); err != nil {
			return nil, err
		}
		m.Resolution = &r
	}
	if m.TotalVolume, err = parseU64(totalVolume); err != nil {
		return nil, err
	}
	if m.TotalShares, err = parseU64(totalShares); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SetResolution(ctx context.Context, id string, r model.Resolution, at time.Time) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET resolution = $2::JSONB, resolved_at = $3, active = FALSE
		 WHERE id = $1 AND resolution IS NULL`,
		id, data, at,
	)
	if err != nil {
		return fmt.Errorf("resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either absent or already resolved; disambiguate.
		if _, err := s.GetMarket(ctx, id); err != nil {
			return err
		}
		return model.ErrMarketResolved
	}
	return nil
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrMarketNotFound, id)
	}
	return nil
}

func scanCurve(row pgx.Row) (*model.BondingCurve, error) {
	var c model.BondingCurve
	var basePrice, priceSlope, supply, pool string

	err := row.Scan(&c.MarketID, &c.OutcomeKey, &basePrice, &priceSlope, &supply, &pool)
	if err != nil {
		return nil, err
	}
	if c.BasePrice, err = parseU64(basePrice); err != nil {
		return nil, err
	}
	if c.PriceSlope, err = parseU64(priceSlope); err != nil {
		return nil, err
	}
	if c.CurrentSupply, err = parseU64(supply); err != nil {
		return nil, err
	}
	if c.PoolBalance, err = parseU64(pool); err != nil {
		return nil, err
	}
	return &c, nil
}

const curveColumns = `market_id, outcome_key,
       base_price::TEXT, price_slope::TEXT, current_supply::TEXT, pool_balance::TEXT`

func (s *PostgresStore) GetCurve(ctx context.Context, marketID string, key model.OutcomeKey) (*model.BondingCurve, error) {
	c, err := scanCurve(s.pool.QueryRow(ctx,
		`SELECT `+curveColumns+` FROM bonding_curves WHERE market_id = $1 AND outcome_key = $2`,
		marketID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", model.ErrUnknownOutcome, marketID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get curve %s/%s: %w", marketID, key, err)
	}
	return c, nil
}

func (s *PostgresStore) ListCurves(ctx context.Context, marketID string) ([]model.BondingCurve, error) {
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+curveColumns+` FROM bonding_curves WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byKey := make(map[model.OutcomeKey]model.BondingCurve)
	for rows.Next() {
		c, err := scanCurve(rows)
		if err != nil {
			return nil, err
		}
		byKey[c.OutcomeKey] = *c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Return in the market's stable key order, not table order.
	keys := m.OutcomeKeys()
	curves := make([]model.BondingCurve, 0, len(keys))
	for _, key := range keys {
		if c, ok := byKey[key]; ok {
			curves = append(curves, c)
		}
	}
	return curves, nil
}

func (s *PostgresStore) CommitTrade(ctx context.Context, t *Trade) error {
	trx := t.Tx

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE bonding_curves
		 SET current_supply = current_supply + $3::NUMERIC,
		     pool_balance = pool_balance + $4::NUMERIC
		 WHERE market_id = $1 AND outcome_key = $2`,
		trx.MarketID, trx.OutcomeKey, u64(trx.Shares), u64(trx.Cost),
	)
	if err != nil {
		return fmt.Errorf("commit trade: update curve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", model.ErrUnknownOutcome, trx.MarketID, trx.OutcomeKey)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE markets
		 SET total_volume = total_volume + $2::NUMERIC,
		     total_shares = total_shares + $3::NUMERIC
		 WHERE id = $1`,
		trx.MarketID, u64(trx.Cost), u64(trx.Shares),
	)
	if err != nil {
		return fmt.Errorf("commit trade: update market: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrMarketNotFound, trx.MarketID)
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO market_transactions (id, market_id, user_id, kind, outcome_key, shares, price, cost, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 RETURNING seq`,
		trx.ID, trx.MarketID, trx.UserID, trx.Kind, trx.OutcomeKey,
		u64(trx.Shares), u64(trx.Price), u64(trx.Cost), trx.Timestamp,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("commit trade: insert transaction: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO holder_positions (market_id, outcome_key, user_id, shares, total_paid, claimed, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, FALSE, $6)
		 ON CONFLICT (market_id, outcome_key, user_id) DO UPDATE
		 SET shares = holder_positions.shares + EXCLUDED.shares,
		     total_paid = holder_positions.total_paid + EXCLUDED.total_paid,
		     updated_at = EXCLUDED.updated_at`,
		trx.MarketID, trx.OutcomeKey, trx.UserID,
		u64(trx.Shares), u64(trx.Cost), trx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("commit trade: upsert position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	t.Tx.Seq = uint64(seq)
	return nil
}

func scanPosition(row pgx.Row) (*model.HolderPosition, error) {
	var p model.HolderPosition
	var shares, totalPaid string

	err := row.Scan(&p.MarketID, &p.OutcomeKey, &p.UserID, &shares, &totalPaid, &p.Claimed, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Shares, err = parseU64(shares); err != nil {
		return nil, err
	}
	if p.TotalPaid, err = parseU64(totalPaid); err != nil {
		return nil, err
	}
	return &p, nil
}

const positionColumns = `market_id, outcome_key, user_id, shares::TEXT, total_paid::TEXT, claimed, updated_at`

func (s *PostgresStore) GetPosition(ctx context.Context, marketID string, key model.OutcomeKey, userID string) (*model.HolderPosition, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+`
		 FROM holder_positions WHERE market_id = $1 AND outcome_key = $2 AND user_id = $3`,
		marketID, key, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrPositionNotFound, marketID, key, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s/%s: %w", marketID, key, userID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID string) ([]model.HolderPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM holder_positions WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.HolderPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) MarkClaimed(ctx context.Context, marketID string, key model.OutcomeKey, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holder_positions
		 SET shares = 0, claimed = TRUE, updated_at = NOW()
		 WHERE market_id = $1 AND outcome_key = $2 AND user_id = $3`,
		marketID, key, userID,
	)
	if err != nil {
		return fmt.Errorf("mark claimed %s/%s/%s: %w", marketID, key, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s/%s", ErrPositionNotFound, marketID, key, userID)
	}
	return nil
}

const txColumns = `seq, id, market_id, user_id, kind, outcome_key,
       shares::TEXT, price::TEXT, cost::TEXT, timestamp`

func scanTransactions(rows pgx.Rows) ([]model.MarketTransaction, error) {
	var out []model.MarketTransaction
	for rows.Next() {
		var trx model.MarketTransaction
		var seq int64
		var shares, price, cost string

		if err := rows.Scan(&seq, &trx.ID, &trx.MarketID, &trx.UserID, &trx.Kind, &trx.OutcomeKey,
			&shares, &price, &cost, &trx.Timestamp); err != nil {
			return nil, err
		}

		trx.Seq = uint64(seq)
		var err error
		if trx.Shares, err = parseU64(shares); err != nil {
			return nil, err
		}
		if trx.Price, err = parseU64(price); err != nil {
			return nil, err
		}
		if trx.Cost, err = parseU64(cost); err != nil {
			return nil, err
		}
		out = append(out, trx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactionsByMarket(ctx context.Context, marketID string) ([]model.MarketTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+` FROM market_transactions WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.MarketTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+` FROM market_transactions WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}
