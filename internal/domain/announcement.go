package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrAnnouncementNotFound = errors.New("announcement not found")

// CapacitySnapshot is an ephemeral read of one announcement's occupancy,
// taken only to decide whether full-lobby detection should fire. The
// descriptive fields are copied into the eventual notification payload.
type CapacitySnapshot struct {
	EntityID        uuid.UUID
	CreatedByUserID uuid.UUID
	Title           string
	ScheduledAt     time.Time
	Location        string
	CurrentCount    int
	MaxCount        int
}

// IsFull reports whether the lobby reached capacity.
func (s *CapacitySnapshot) IsFull() bool {
	return s.MaxCount > 0 && s.CurrentCount >= s.MaxCount
}

// ParticipantEvent signals that an announcement's participant set changed.
type ParticipantEvent struct {
	AnnouncementID uuid.UUID
}

// ParticipantSubscription streams participant changes across all
// announcements. Events is closed when the underlying connection drops.
type ParticipantSubscription interface {
	Events() <-chan ParticipantEvent
	Close()
}

type AnnouncementRepository interface {
	GetCapacitySnapshot(ctx context.Context, id uuid.UUID) (*CapacitySnapshot, error)
	SubscribeParticipants(ctx context.Context) (ParticipantSubscription, error)
}
