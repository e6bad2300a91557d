package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

// PostgresRepository implements the domain repository interfaces
// (notifications, contracts, preferences, push tokens, announcements)
// using PostgreSQL.
type PostgresRepository struct {
	db       *pgxpool.Pool
	listener *Listener
}

// NewPostgresRepository creates a new PostgreSQL repository. The listener
// carries the LISTEN/NOTIFY change feeds; it may be nil in tests.
func NewPostgresRepository(db *pgxpool.Pool, listener *Listener) *PostgresRepository {
	return &PostgresRepository{db: db, listener: listener}
}

// notifyChange publishes a row-level change on the notification channel
// inside the writing transaction, so feed consumers only ever observe
// committed rows.
func notifyChange(ctx context.Context, tx pgx.Tx, ev domain.NotificationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notificationChannel, string(payload))
	return err
}
