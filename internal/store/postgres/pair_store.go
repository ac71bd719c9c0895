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

// PairStore implements domain.PairStore using PostgreSQL.
type PairStore struct {
	pool *pgxpool.Pool
}

// NewPairStore creates a new PairStore backed by the given connection pool.
func NewPairStore(pool *pgxpool.Pool) *PairStore {
	return &PairStore{pool: pool}
}

const pairColumns = `
	id, pair_key, market1_venue, market1_id, market2_venue, market2_id,
	question, similarity, market1_ticks, market2_ticks, spread_percent,
	liquidity, active, deadline, last_checked_at, created_at`

// Upsert inserts a pair or refreshes the existing row sharing its pair_key.
// A refresh keeps the original id and created_at, flips the pair back to
// active, and rewrites every spread-related column. The boolean result is
// true when a new row was created.
func (s *PairStore) Upsert(ctx context.Context, pair domain.MatchedPair) (domain.MatchedPair, bool, error) {
	if pair.ID == "" {
		pair.ID = uuid.New().String()
	}
	if pair.PairKey == "" {
		pair.PairKey = domain.PairKeyFor(pair.Market1Venue, pair.Market1ID, pair.Market2Venue, pair.Market2ID)
	}

	const query = `
		INSERT INTO matched_pairs (
			id, pair_key, market1_venue, market1_id, market2_venue, market2_id,
			question, similarity, market1_ticks, market2_ticks, spread_percent,
			liquidity, active, deadline, last_checked_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, TRUE, $13, $14, NOW()
		)
		ON CONFLICT (pair_key) DO UPDATE SET
			question        = EXCLUDED.question,
			similarity      = EXCLUDED.similarity,
			market1_ticks   = EXCLUDED.market1_ticks,
			market2_ticks   = EXCLUDED.market2_ticks,
			spread_percent  = EXCLUDED.spread_percent,
			liquidity       = EXCLUDED.liquidity,
			active          = TRUE,
			deadline        = EXCLUDED.deadline,
			last_checked_at = EXCLUDED.last_checked_at
		RETURNING ` + pairColumns + `, (xmax = 0) AS inserted`

	row := s.pool.QueryRow(ctx, query,
		pair.ID, pair.PairKey,
		string(pair.Market1Venue), pair.Market1ID,
		string(pair.Market2Venue), pair.Market2ID,
		pair.Question, pair.Similarity,
		pair.Market1Ticks, pair.Market2Ticks, pair.SpreadPercent,
		pair.Liquidity, pair.Deadline, pair.LastCheckedAt,
	)

	var stored domain.MatchedPair
	var v1, v2 string
	var inserted bool
	err := row.Scan(
		&stored.ID, &stored.PairKey, &v1, &stored.Market1ID, &v2, &stored.Market2ID,
		&stored.Question, &stored.Similarity, &stored.Market1Ticks, &stored.Market2Ticks,
		&stored.SpreadPercent, &stored.Liquidity, &stored.Active, &stored.Deadline,
		&stored.LastCheckedAt, &stored.CreatedAt, &inserted,
	)
	if err != nil {
		return domain.MatchedPair{}, false, fmt.Errorf("postgres: upsert pair %s: %w", pair.PairKey, err)
	}
	stored.Market1Venue = domain.VenueName(v1)
	stored.Market2Venue = domain.VenueName(v2)
	return stored, inserted, nil
}

// GetByID returns a single pair. It maps missing rows to domain.ErrNotFound.
func (s *PairStore) GetByID(ctx context.Context, id string) (domain.MatchedPair, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pairColumns+` FROM matched_pairs WHERE id = $1`, id)
	pair, err := scanPair(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MatchedPair{}, domain.ErrNotFound
		}
		return domain.MatchedPair{}, fmt.Errorf("postgres: get pair %s: %w", id, err)
	}
	return pair, nil
}

// List returns pairs ordered by spread, widest first.
func (s *PairStore) List(ctx context.Context, f domain.PairFilter) ([]domain.MatchedPair, error) {
	query := `SELECT ` + pairColumns + ` FROM matched_pairs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.ActiveOnly {
		query += " AND active"
	}
	if f.MinSpread > 0 {
		query += fmt.Sprintf(" AND spread_percent >= $%d", argIdx)
		args = append(args, f.MinSpread)
		argIdx++
	}

	query += " ORDER BY spread_percent DESC, last_checked_at DESC"

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
		return nil, fmt.Errorf("postgres: list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []domain.MatchedPair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// DeactivateCheckedBefore flips active=false on every active pair whose
// last_checked_at predates cutoff. Rows are kept so trade history stays
// linked; a later refresh that re-finds the pair reactivates it.
func (s *PairStore) DeactivateCheckedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matched_pairs SET active = FALSE WHERE active AND last_checked_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: deactivate pairs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDeactivatedBetween returns inactive pairs last seen inside [from, to),
// oldest first. The archiver uses it for monthly exports.
func (s *PairStore) ListDeactivatedBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.MatchedPair, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+pairColumns+` FROM matched_pairs
		WHERE NOT active AND last_checked_at >= $1 AND last_checked_at < $2
		ORDER BY last_checked_at ASC
		LIMIT $3`,
		from, to, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deactivated pairs: %w", err)
	}
	defer rows.Close()

	var pairs []domain.MatchedPair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// Count returns the number of pairs, optionally active ones only.
func (s *PairStore) Count(ctx context.Context, activeOnly bool) (int64, error) {
	query := `SELECT COUNT(*) FROM matched_pairs`
	if activeOnly {
		query += ` WHERE active`
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count pairs: %w", err)
	}
	return n, nil
}

// scanPair reads one matched_pairs row in pairColumns order.
func scanPair(row pgx.Row) (domain.MatchedPair, error) {
	var pair domain.MatchedPair
	var v1, v2 string
	err := row.Scan(
		&pair.ID, &pair.PairKey, &v1, &pair.Market1ID, &v2, &pair.Market2ID,
		&pair.Question, &pair.Similarity, &pair.Market1Ticks, &pair.Market2Ticks,
		&pair.SpreadPercent, &pair.Liquidity, &pair.Active, &pair.Deadline,
		&pair.LastCheckedAt, &pair.CreatedAt,
	)
	if err != nil {
		return domain.MatchedPair{}, err
	}
	pair.Market1Venue = domain.VenueName(v1)
	pair.Market2Venue = domain.VenueName(v2)
	return pair, nil
}

// Compile-time interface check.
var _ domain.PairStore = (*PairStore)(nil)
