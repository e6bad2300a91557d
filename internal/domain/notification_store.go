package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultArchiveAge is how long an active notification stays in default
// listings before the archiving sweep moves it out.
const DefaultArchiveAge = 30 * 24 * time.Hour

// NotificationStore owns the persisted notification records and their
// lifecycle. It enforces no cross-record invariants; those belong to the
// services writing through it.
type NotificationStore struct {
	repo   NotificationRepository
	feed   NotificationFeed
	logger *zap.Logger
}

func NewNotificationStore(repo NotificationRepository, feed NotificationFeed, logger *zap.Logger) *NotificationStore {
	return &NotificationStore{
		repo:   repo,
		feed:   feed,
		logger: logger,
	}
}

// NewNotificationInput carries the caller-supplied fields of a new record.
type NewNotificationInput struct {
	UserID         uuid.UUID
	Type           string
	Title          string
	Body           string
	Data           Map
	RequiresAction bool
	ExpiresAt      *time.Time
}

// Create persists a new notification. Category is derived from the type so
// the three buckets stay a total partition of the type space.
func (s *NotificationStore) Create(ctx context.Context, in NewNotificationInput) (*Notification, error) {
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("create notification: missing user id")
	}
	if in.Title == "" {
		return nil, fmt.Errorf("create notification: missing title")
	}
	if in.Type == "" {
		in.Type = TypeGeneral
	}
	if in.Data == nil {
		in.Data = Map{}
	}

	now := time.Now().UTC()
	n := &Notification{
		ID:             uuid.New(),
		UserID:         in.UserID,
		Type:           in.Type,
		Category:       CategoryForType(in.Type),
		Title:          in.Title,
		Body:           in.Body,
		Data:           in.Data,
		SentAt:         now,
		CreatedAt:      now,
		RequiresAction: in.RequiresAction,
		ExpiresAt:      in.ExpiresAt,
	}

	created, err := s.repo.CreateNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return created, nil
}

func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.GetNotification(ctx, id)
}

// List returns the user's notifications under the given filters. Archived
// records are excluded unless the filters ask for them.
func (s *NotificationStore) List(ctx context.Context, userID uuid.UUID, f NotificationFilters) ([]*Notification, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.SortBy == "" {
		f.SortBy = SortByCreatedAt
	}
	return s.repo.ListNotifications(ctx, userID, f)
}

// Count mirrors List's predicate for pagination UIs.
func (s *NotificationStore) Count(ctx context.Context, userID uuid.UUID, f NotificationFilters) (int, error) {
	return s.repo.CountNotifications(ctx, userID, f)
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID uuid.UUID, category *Category) (int, error) {
	return s.repo.UnreadCount(ctx, userID, category)
}

// MarkRead sets readAt if unset. Repeat calls are no-ops.
func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID, category *Category) error {
	return s.repo.MarkAllNotificationsRead(ctx, userID, category)
}

// MarkActionTaken records that the recipient acted on an action-required
// notification, and marks it read at the same time.
func (s *NotificationStore) MarkActionTaken(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.MarkActionTaken(ctx, id); err != nil {
		return err
	}
	return s.repo.MarkNotificationRead(ctx, id)
}

// ArchiveOlderThan sweeps active records older than age into the archive.
// Records still awaiting action and not yet expired are left alone, so a
// record is never both pending-action and archived. Already archived rows
// are excluded from the sweep's own input set, which makes it idempotent.
func (s *NotificationStore) ArchiveOlderThan(ctx context.Context, userID uuid.UUID, age time.Duration) (int64, error) {
	before := time.Now().UTC().Add(-age)
	archived, err := s.repo.ArchiveNotificationsBefore(ctx, userID, before)
	if err != nil {
		return 0, fmt.Errorf("archive sweep: %w", err)
	}
	if archived > 0 {
		s.logger.Info("archived notifications",
			zap.String("user_id", userID.String()),
			zap.Int64("count", archived),
		)
	}
	return archived, nil
}

// Restore clears archivedAt, returning the record to default listings.
func (s *NotificationStore) Restore(ctx context.Context, id uuid.UUID) error {
	return s.repo.RestoreNotification(ctx, id)
}

func (s *NotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteNotification(ctx, id)
}

// DeleteMany removes the user's records among ids and reports how many were
// actually deleted. Ids belonging to other users are silently skipped.
func (s *NotificationStore) DeleteMany(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.repo.DeleteNotifications(ctx, userID, ids)
}

func (s *NotificationStore) DeleteAll(ctx context.Context, userID uuid.UUID, category *Category) error {
	return s.repo.DeleteAllNotifications(ctx, userID, category)
}

// PurgeArchived permanently removes archived records older than age.
func (s *NotificationStore) PurgeArchived(ctx context.Context, age time.Duration) (int64, error) {
	before := time.Now().UTC().Add(-age)
	return s.repo.PurgeArchivedBefore(ctx, before)
}

// FullLobbyAnnouncementIDs returns every announcement that already has a
// persisted full_lobby notification. Used to prime detection dedup.
func (s *NotificationStore) FullLobbyAnnouncementIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListFullLobbyAnnouncementIDs(ctx)
}

// Watch opens the live change feed for one user.
func (s *NotificationStore) Watch(ctx context.Context, userID uuid.UUID) (FeedSubscription, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("watch: no change feed configured")
	}
	return s.feed.Subscribe(ctx, userID)
}

// StartMaintenanceWorker runs the archiving and purge sweeps on a ticker
// until ctx is cancelled.
func (s *NotificationStore) StartMaintenanceWorker(ctx context.Context, interval, archiveAge, purgeAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				before := time.Now().UTC().Add(-archiveAge)
				if _, err := s.repo.ArchiveNotificationsBefore(ctx, uuid.Nil, before); err != nil {
					s.logger.Error("archive sweep failed", zap.Error(err))
				}
				if _, err := s.PurgeArchived(ctx, purgeAge); err != nil {
					s.logger.Error("purge sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
