package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

const contractColumns = `id, announcement_id, goalkeeper_user_id, contractor_user_id, offered_amount, additional_notes, status, created_at, responded_at, expires_at`

// CreateContract inserts a new pending contract.
func (r *PostgresRepository) CreateContract(ctx context.Context, c *domain.Contract) (*domain.Contract, error) {
	query := `
		INSERT INTO contracts (id, announcement_id, goalkeeper_user_id, contractor_user_id, offered_amount, additional_notes, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + contractColumns
	row := r.db.QueryRow(ctx, query,
		c.ID,
		c.AnnouncementID,
		c.GoalkeeperUserID,
		c.ContractorUserID,
		c.OfferedAmount,
		c.AdditionalNotes,
		c.Status,
		c.CreatedAt,
		c.ExpiresAt,
	)
	return scanContract(row)
}

// GetContract retrieves a contract by ID
func (r *PostgresRepository) GetContract(ctx context.Context, id uuid.UUID) (*domain.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`
	return scanContract(r.db.QueryRow(ctx, query, id))
}

// ResolveContract applies a terminal transition guarded on the row still
// being pending. The WHERE clause is the durable check-then-write guard:
// when another writer already resolved the row, no row matches and
// ErrContractNotFound comes back.
func (r *PostgresRepository) ResolveContract(ctx context.Context, id uuid.UUID, to domain.ContractStatus, respondedAt *time.Time) (*domain.Contract, error) {
	query := `
		UPDATE contracts SET status = $2, responded_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + contractColumns
	row := r.db.QueryRow(ctx, query, id, to, respondedAt, domain.ContractStatusPending)
	return scanContract(row)
}

// ListContractsForUser returns contracts where the user is either party,
// newest first.
func (r *PostgresRepository) ListContractsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Contract, error) {
	query := `
		SELECT ` + contractColumns + `
		FROM contracts
		WHERE goalkeeper_user_id = $1 OR contractor_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExpirePendingBefore transitions every pending contract past its TTL.
func (r *PostgresRepository) ExpirePendingBefore(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE contracts SET status = $1 WHERE status = $2 AND expires_at < $3`
	tag, err := r.db.Exec(ctx, query, domain.ContractStatusExpired, domain.ContractStatusPending, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanContract(row pgx.Row) (*domain.Contract, error) {
	var c domain.Contract
	err := row.Scan(
		&c.ID,
		&c.AnnouncementID,
		&c.GoalkeeperUserID,
		&c.ContractorUserID,
		&c.OfferedAmount,
		&c.AdditionalNotes,
		&c.Status,
		&c.CreatedAt,
		&c.RespondedAt,
		&c.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrContractNotFound
		}
		return nil, err
	}
	return &c, nil
}
