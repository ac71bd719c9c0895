package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslane/hedgebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Both legs live
// inline on the trade row, so every status transition is a single-row
// compare-and-set and two writers can never cross the same state machine
// edge twice.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeColumns = `
	id, user_id, opportunity_id, investment_amount, status,
	expected_profit, actual_profit, failure_reason,
	leg1_venue, leg1_market_id, leg1_side, leg1_amount,
	leg1_order_id, leg1_shares, leg1_price_ticks, leg1_error,
	leg2_venue, leg2_market_id, leg2_side, leg2_amount,
	leg2_order_id, leg2_shares, leg2_price_ticks, leg2_error,
	created_at, settled_at`

// Create inserts a new trade row. The caller sets the initial status;
// execution writes every later change through Transition.
func (s *TradeStore) Create(ctx context.Context, trade domain.ArbitrageTrade) error {
	if trade.ID == "" {
		trade.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO arb_trades (
			id, user_id, opportunity_id, investment_amount, status,
			expected_profit, actual_profit, failure_reason,
			leg1_venue, leg1_market_id, leg1_side, leg1_amount,
			leg1_order_id, leg1_shares, leg1_price_ticks, leg1_error,
			leg2_venue, leg2_market_id, leg2_side, leg2_amount,
			leg2_order_id, leg2_shares, leg2_price_ticks, leg2_error,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24,
			NOW()
		)`,
		trade.ID, trade.UserID, trade.OpportunityID, trade.InvestmentAmount, string(trade.Status),
		trade.ExpectedProfit, trade.ActualProfit, trade.FailureReason,
		string(trade.Leg1.Venue), trade.Leg1.MarketID, string(trade.Leg1.Side), trade.Leg1.Amount,
		trade.Leg1.OrderID, trade.Leg1.SharesMicros, trade.Leg1.PriceTicks, trade.Leg1.Error,
		string(trade.Leg2.Venue), trade.Leg2.MarketID, string(trade.Leg2.Side), trade.Leg2.Amount,
		trade.Leg2.OrderID, trade.Leg2.SharesMicros, trade.Leg2.PriceTicks, trade.Leg2.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", trade.ID, err)
	}
	return nil
}

// GetByID returns a single trade. It maps missing rows to domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.ArbitrageTrade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM arb_trades WHERE id = $1`, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbitrageTrade{}, domain.ErrNotFound
		}
		return domain.ArbitrageTrade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return trade, nil
}

// Transition moves a trade from one status to another atomically, applying
// upd in the same statement. The WHERE clause pins the expected current
// status, so a row already moved by another writer affects zero rows; that
// case is reported as ErrInvalidTransition, a vanished row as ErrNotFound.
func (s *TradeStore) Transition(ctx context.Context, id string, from, to domain.TradeStatus, upd domain.TradeUpdate) error {
	set := []string{"status = $1"}
	args := []any{string(to)}
	argIdx := 2

	add := func(col string, v any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, v)
		argIdx++
	}

	if upd.Leg1 != nil {
		add("leg1_order_id", upd.Leg1.OrderID)
		add("leg1_shares", upd.Leg1.SharesMicros)
		add("leg1_price_ticks", upd.Leg1.PriceTicks)
		add("leg1_amount", upd.Leg1.Amount)
		add("leg1_error", upd.Leg1.Error)
	}
	if upd.Leg2 != nil {
		add("leg2_order_id", upd.Leg2.OrderID)
		add("leg2_shares", upd.Leg2.SharesMicros)
		add("leg2_price_ticks", upd.Leg2.PriceTicks)
		add("leg2_amount", upd.Leg2.Amount)
		add("leg2_error", upd.Leg2.Error)
	}
	if upd.ActualProfit != nil {
		add("actual_profit", *upd.ActualProfit)
	}
	if upd.FailureReason != nil {
		add("failure_reason", *upd.FailureReason)
	}
	if upd.SettledAt != nil {
		add("settled_at", *upd.SettledAt)
	}

	query := "UPDATE arb_trades SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", argIdx, argIdx+1)
	args = append(args, id, string(from))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: transition trade %s %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row changed: distinguish a missing trade from a lost race.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM arb_trades WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: transition trade %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("postgres: transition trade %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
}

// ListByUser returns a user's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, f domain.TradeFilter) ([]domain.ArbitrageTrade, error) {
	query := `SELECT ` + tradeColumns + ` FROM arb_trades WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.SettledOnly {
		query += " AND settled_at IS NOT NULL"
	}

	query += " ORDER BY created_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by user: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListByStatus returns trades in the given status, oldest first so pollers
// work through a backlog in arrival order.
func (s *TradeStore) ListByStatus(ctx context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.ArbitrageTrade, error) {
	query := `SELECT ` + tradeColumns + ` FROM arb_trades WHERE status = $1 ORDER BY created_at ASC`
	args := []any{string(status)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by status: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListExpired returns non-terminal trades whose pair deadline passed before
// asOf. The settlement sweep moves them to stale.
func (s *TradeStore) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]domain.ArbitrageTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+prefixTradeColumns("t")+`
		FROM arb_trades t
		JOIN matched_pairs p ON p.id = t.opportunity_id
		WHERE t.status IN ('pending', 'partial', 'completed')
		  AND p.deadline < $1
		ORDER BY p.deadline ASC
		LIMIT $2`,
		asOf, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListSettledBetween returns settled trades whose settled_at falls inside
// [from, to), oldest first. The archiver uses it for monthly exports.
func (s *TradeStore) ListSettledBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.ArbitrageTrade, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM arb_trades
		WHERE settled_at IS NOT NULL AND settled_at >= $1 AND settled_at < $2
		ORDER BY settled_at ASC
		LIMIT $3`,
		from, to, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// SumProfit returns total realized profit across trades settled since the
// given time, in minor units.
func (s *TradeStore) SumProfit(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(actual_profit), 0) FROM arb_trades
		WHERE actual_profit IS NOT NULL AND settled_at >= $1`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum profit: %w", err)
	}
	return total, nil
}

// Count returns the total number of trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM arb_trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}

// prefixTradeColumns qualifies tradeColumns with a table alias for joins.
func prefixTradeColumns(alias string) string {
	return alias + `.id, ` + alias + `.user_id, ` + alias + `.opportunity_id, ` +
		alias + `.investment_amount, ` + alias + `.status, ` +
		alias + `.expected_profit, ` + alias + `.actual_profit, ` + alias + `.failure_reason, ` +
		alias + `.leg1_venue, ` + alias + `.leg1_market_id, ` + alias + `.leg1_side, ` + alias + `.leg1_amount, ` +
		alias + `.leg1_order_id, ` + alias + `.leg1_shares, ` + alias + `.leg1_price_ticks, ` + alias + `.leg1_error, ` +
		alias + `.leg2_venue, ` + alias + `.leg2_market_id, ` + alias + `.leg2_side, ` + alias + `.leg2_amount, ` +
		alias + `.leg2_order_id, ` + alias + `.leg2_shares, ` + alias + `.leg2_price_ticks, ` + alias + `.leg2_error, ` +
		alias + `.created_at, ` + alias + `.settled_at`
}

// scanTrade reads one arb_trades row in tradeColumns order.
func scanTrade(row pgx.Row) (domain.ArbitrageTrade, error) {
	var t domain.ArbitrageTrade
	var status, v1, side1, v2, side2 string
	err := row.Scan(
		&t.ID, &t.UserID, &t.OpportunityID, &t.InvestmentAmount, &status,
		&t.ExpectedProfit, &t.ActualProfit, &t.FailureReason,
		&v1, &t.Leg1.MarketID, &side1, &t.Leg1.Amount,
		&t.Leg1.OrderID, &t.Leg1.SharesMicros, &t.Leg1.PriceTicks, &t.Leg1.Error,
		&v2, &t.Leg2.MarketID, &side2, &t.Leg2.Amount,
		&t.Leg2.OrderID, &t.Leg2.SharesMicros, &t.Leg2.PriceTicks, &t.Leg2.Error,
		&t.CreatedAt, &t.SettledAt,
	)
	if err != nil {
		return domain.ArbitrageTrade{}, err
	}
	t.Status = domain.TradeStatus(status)
	t.Leg1.Venue = domain.VenueName(v1)
	t.Leg1.Side = domain.OutcomeSide(side1)
	t.Leg2.Venue = domain.VenueName(v2)
	t.Leg2.Side = domain.OutcomeSide(side2)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.ArbitrageTrade, error) {
	var trades []domain.ArbitrageTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
