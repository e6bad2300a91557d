package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

const notificationColumns = `id, user_id, type, category, title, body, data, sent_at, created_at, read_at, archived_at, requires_action, action_taken_at, expires_at`

// CreateNotification inserts a notification and publishes the insert event
// in the same transaction.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO notifications (id, user_id, type, category, title, body, data, sent_at, created_at, requires_action, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + notificationColumns
	row := tx.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Category,
		n.Title,
		n.Body,
		n.Data,
		n.SentAt,
		n.CreatedAt,
		n.RequiresAction,
		n.ExpiresAt,
	)
	created, err := scanNotification(row)
	if err != nil {
		return nil, err
	}

	if err := notifyChange(ctx, tx, domain.NotificationEvent{
		Op:           domain.OpInsert,
		ID:           created.ID,
		UserID:       created.UserID,
		Notification: created,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// GetNotification retrieves a notification by ID
func (r *PostgresRepository) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	return scanNotification(row)
}

// buildNotificationPredicate translates filters into a WHERE clause.
func buildNotificationPredicate(userID uuid.UUID, f domain.NotificationFilters) (string, []interface{}) {
	conds := []string{"user_id = $1"}
	args := []interface{}{userID}

	if !f.IncludeArchived {
		conds = append(conds, "archived_at IS NULL")
	}
	if f.Category != nil {
		args = append(args, *f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR body ILIKE $%d OR data::text ILIKE $%d)", n, n, n))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if f.Unread != nil {
		if *f.Unread {
			conds = append(conds, "read_at IS NULL")
		} else {
			conds = append(conds, "read_at IS NOT NULL")
		}
	}
	return strings.Join(conds, " AND "), args
}

// ListNotifications returns a filtered, paginated page of a user's records.
func (r *PostgresRepository) ListNotifications(ctx context.Context, userID uuid.UUID, f domain.NotificationFilters) ([]*domain.Notification, error) {
	where, args := buildNotificationPredicate(userID, f)

	sortCol := "created_at"
	if f.SortBy == domain.SortBySentAt {
		sortCol = "sent_at"
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(
		`SELECT %s FROM notifications WHERE %s ORDER BY %s DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, sortCol, len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountNotifications mirrors ListNotifications' predicate for pagination.
func (r *PostgresRepository) CountNotifications(ctx context.Context, userID uuid.UUID, f domain.NotificationFilters) (int, error) {
	where, args := buildNotificationPredicate(userID, f)
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&count)
	return count, err
}

func (r *PostgresRepository) UnreadCount(ctx context.Context, userID uuid.UUID, category *domain.Category) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL AND archived_at IS NULL`
	args := []interface{}{userID}
	if category != nil {
		query += ` AND category = $2`
		args = append(args, *category)
	}
	var count int
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

// MarkNotificationRead sets read_at once; repeat calls leave it untouched.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET read_at = NOW() WHERE id = $1 AND read_at IS NULL RETURNING ` + notificationColumns
	return r.updateAndNotify(ctx, query, id)
}

func (r *PostgresRepository) MarkActionTaken(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET action_taken_at = NOW() WHERE id = $1 AND action_taken_at IS NULL RETURNING ` + notificationColumns
	return r.updateAndNotify(ctx, query, id)
}

// updateAndNotify runs a single-row conditional update and publishes the
// update event when a row actually changed. A guard miss is not an error;
// these mutations are idempotent.
func (r *PostgresRepository) updateAndNotify(ctx context.Context, query string, args ...interface{}) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	updated, err := scanNotification(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, domain.ErrNotificationNotFound) {
			return nil
		}
		return err
	}

	if err := notifyChange(ctx, tx, domain.NotificationEvent{
		Op:           domain.OpUpdate,
		ID:           updated.ID,
		UserID:       updated.UserID,
		Notification: updated,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID, category *domain.Category) error {
	query := `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL AND archived_at IS NULL`
	args := []interface{}{userID}
	if category != nil {
		query += ` AND category = $2`
		args = append(args, *category)
	}
	query += ` RETURNING ` + notificationColumns
	return r.updateManyAndNotify(ctx, query, args...)
}

// ArchiveNotificationsBefore archives active records created before the
// cutoff. Records still awaiting action that have not expired are skipped,
// and already-archived rows are excluded from the input set. userID may be
// uuid.Nil to sweep all users.
func (r *PostgresRepository) ArchiveNotificationsBefore(ctx context.Context, userID uuid.UUID, before time.Time) (int64, error) {
	query := `
		UPDATE notifications SET archived_at = NOW()
		WHERE ($1::uuid IS NULL OR user_id = $1)
		  AND archived_at IS NULL
		  AND created_at < $2
		  AND (requires_action = FALSE OR action_taken_at IS NOT NULL OR (expires_at IS NOT NULL AND expires_at < NOW()))
		RETURNING ` + notificationColumns

	var user interface{}
	if userID != uuid.Nil {
		user = userID
	}
	return r.updateManyCountAndNotify(ctx, query, user, before)
}

// RestoreNotification clears archived_at, returning the record to default
// listings.
func (r *PostgresRepository) RestoreNotification(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET archived_at = NULL WHERE id = $1 AND archived_at IS NOT NULL RETURNING ` + notificationColumns
	return r.updateAndNotify(ctx, query, id)
}

func (r *PostgresRepository) updateManyAndNotify(ctx context.Context, query string, args ...interface{}) error {
	_, err := r.updateManyCountAndNotify(ctx, query, args...)
	return err
}

func (r *PostgresRepository) updateManyCountAndNotify(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	var updated []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		updated = append(updated, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, n := range updated {
		if err := notifyChange(ctx, tx, domain.NotificationEvent{
			Op:           domain.OpUpdate,
			ID:           n.ID,
			UserID:       n.UserID,
			Notification: n,
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(updated)), nil
}

func (r *PostgresRepository) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	_, err := r.deleteAndNotify(ctx, `DELETE FROM notifications WHERE id = $1 RETURNING id, user_id`, id)
	return err
}

// DeleteNotifications removes the caller's rows among ids. Ownership sits in
// the predicate, so foreign ids are skipped without per-id lookups.
func (r *PostgresRepository) DeleteNotifications(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return r.deleteAndNotify(ctx, `DELETE FROM notifications WHERE user_id = $1 AND id = ANY($2) RETURNING id, user_id`, userID, ids)
}

func (r *PostgresRepository) DeleteAllNotifications(ctx context.Context, userID uuid.UUID, category *domain.Category) error {
	query := `DELETE FROM notifications WHERE user_id = $1`
	args := []interface{}{userID}
	if category != nil {
		query += ` AND category = $2`
		args = append(args, *category)
	}
	query += ` RETURNING id, user_id`
	_, err := r.deleteAndNotify(ctx, query, args...)
	return err
}

func (r *PostgresRepository) deleteAndNotify(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	type deleted struct {
		id     uuid.UUID
		userID uuid.UUID
	}
	var removed []deleted
	for rows.Next() {
		var d deleted
		if err := rows.Scan(&d.id, &d.userID); err != nil {
			rows.Close()
			return 0, err
		}
		removed = append(removed, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, d := range removed {
		if err := notifyChange(ctx, tx, domain.NotificationEvent{
			Op:     domain.OpDelete,
			ID:     d.id,
			UserID: d.userID,
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(removed)), nil
}

// PurgeArchivedBefore permanently removes archived rows past the retention
// cutoff. No change events: the rows already left every default listing.
func (r *PostgresRepository) PurgeArchivedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE archived_at IS NOT NULL AND archived_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListFullLobbyAnnouncementIDs extracts the announcement ids already covered
// by a persisted full_lobby notification.
func (r *PostgresRepository) ListFullLobbyAnnouncementIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT (data->>'announcement_id')::uuid
		FROM notifications
		WHERE type = $1 AND data->>'announcement_id' IS NOT NULL
	`
	rows, err := r.db.Query(ctx, query, domain.TypeFullLobby)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Category,
		&n.Title,
		&n.Body,
		&n.Data,
		&n.SentAt,
		&n.CreatedAt,
		&n.ReadAt,
		&n.ArchivedAt,
		&n.RequiresAction,
		&n.ActionTakenAt,
		&n.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, err
	}
	return &n, nil
}
