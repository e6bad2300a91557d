package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

// GetPreferences retrieves a user's notification preferences.
func (r *PostgresRepository) GetPreferences(ctx context.Context, userID uuid.UUID) (*domain.NotificationPreferences, error) {
	query := `
		SELECT user_id, contracts, full_lobbies, general, push_enabled, updated_at
		FROM notification_preferences WHERE user_id = $1
	`
	var p domain.NotificationPreferences
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.Contracts,
		&p.FullLobbies,
		&p.General,
		&p.PushEnabled,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPreferencesNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpsertPreferences writes the full preference record, creating it on first
// sight of the user.
func (r *PostgresRepository) UpsertPreferences(ctx context.Context, p *domain.NotificationPreferences) (*domain.NotificationPreferences, error) {
	query := `
		INSERT INTO notification_preferences (user_id, contracts, full_lobbies, general, push_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			contracts = EXCLUDED.contracts,
			full_lobbies = EXCLUDED.full_lobbies,
			general = EXCLUDED.general,
			push_enabled = EXCLUDED.push_enabled,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, contracts, full_lobbies, general, push_enabled, updated_at
	`
	var out domain.NotificationPreferences
	err := r.db.QueryRow(ctx, query,
		p.UserID,
		p.Contracts,
		p.FullLobbies,
		p.General,
		p.PushEnabled,
		p.UpdatedAt,
	).Scan(
		&out.UserID,
		&out.Contracts,
		&out.FullLobbies,
		&out.General,
		&out.PushEnabled,
		&out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertPushToken records or reactivates a device token. The (user, token)
// pair is unique; re-registration flips it back to active.
func (r *PostgresRepository) UpsertPushToken(ctx context.Context, t *domain.PushToken) (*domain.PushToken, error) {
	query := `
		INSERT INTO push_tokens (user_id, token, platform, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, token) DO UPDATE SET
			platform = EXCLUDED.platform,
			is_active = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, token, platform, is_active, created_at, updated_at
	`
	var out domain.PushToken
	err := r.db.QueryRow(ctx, query,
		t.UserID,
		t.Token,
		t.Platform,
		t.IsActive,
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(
		&out.UserID,
		&out.Token,
		&out.Platform,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetActivePushTokens returns every active device destination for a user.
func (r *PostgresRepository) GetActivePushTokens(ctx context.Context, userID uuid.UUID) ([]*domain.PushToken, error) {
	query := `
		SELECT user_id, token, platform, is_active, created_at, updated_at
		FROM push_tokens WHERE user_id = $1 AND is_active = TRUE
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PushToken
	for rows.Next() {
		var t domain.PushToken
		if err := rows.Scan(&t.UserID, &t.Token, &t.Platform, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeactivatePushToken soft-deletes a token, keeping the row for audit
// history.
func (r *PostgresRepository) DeactivatePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	query := `UPDATE push_tokens SET is_active = FALSE, updated_at = NOW() WHERE user_id = $1 AND token = $2`
	_, err := r.db.Exec(ctx, query, userID, token)
	return err
}
