package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslane/hedgebot/internal/domain"
)

// AuditStore implements domain.AuditStore on PostgreSQL. The audit_log
// table is append-only; rows are never updated or deleted, and the archive
// job exports them without pruning.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry. A nil detail map is stored as an empty JSONB
// object so readers never have to special-case NULL.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload := []byte(`{}`)
	if len(detail) > 0 {
		var err error
		payload, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal detail for audit event %s: %w", event, err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, payload)
	if err != nil {
		return fmt.Errorf("postgres: insert audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first. The id column is a bigserial, so
// ordering by it preserves insertion order even when created_at ties.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, event, detail, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit_log: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode detail of audit row %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate audit rows: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
