package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

// GetCapacitySnapshot reads one announcement's occupancy. The participant
// count is computed at read time so near-simultaneous joins are reflected
// before the detection engine decides.
func (r *PostgresRepository) GetCapacitySnapshot(ctx context.Context, id uuid.UUID) (*domain.CapacitySnapshot, error) {
	query := `
		SELECT a.id, a.created_by, a.title, a.scheduled_at, a.location, a.max_participants,
		       (SELECT COUNT(*) FROM announcement_participants p WHERE p.announcement_id = a.id)
		FROM announcements a
		WHERE a.id = $1
	`
	var s domain.CapacitySnapshot
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.EntityID,
		&s.CreatedByUserID,
		&s.Title,
		&s.ScheduledAt,
		&s.Location,
		&s.MaxCount,
		&s.CurrentCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAnnouncementNotFound
		}
		return nil, err
	}
	return &s, nil
}

// SubscribeParticipants exposes the participant change feed owned by the
// booking collaborator; joins arrive as LISTEN/NOTIFY events.
func (r *PostgresRepository) SubscribeParticipants(ctx context.Context) (domain.ParticipantSubscription, error) {
	if r.listener == nil {
		return nil, fmt.Errorf("subscribe participants: no listener configured")
	}
	return r.listener.SubscribeParticipants(ctx)
}
