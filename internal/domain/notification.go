package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Notification types written by this core.
const (
	TypeContractRequest  = "contract_request"
	TypeContractAccepted = "contract_accepted"
	TypeFullLobby        = "full_lobby"
	TypeGeneral          = "general"
)

// Category partitions notification types into the three delivery classes
// users can toggle independently.
type Category string

const (
	CategoryContracts   Category = "contracts"
	CategoryFullLobbies Category = "fullLobbies"
	CategoryGeneral     Category = "general"
)

// CategoryForType maps a notification type to its category. Every type maps
// to exactly one category; anything unrecognized is general.
func CategoryForType(typeStr string) Category {
	switch typeStr {
	case TypeContractRequest, TypeContractAccepted:
		return CategoryContracts
	case TypeFullLobby:
		return CategoryFullLobbies
	default:
		return CategoryGeneral
	}
}

// Map alias for the JSONB data column
type Map map[string]interface{}

type Notification struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Type           string     `json:"type"`
	Category       Category   `json:"category"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Data           Map        `json:"data"`
	SentAt         time.Time  `json:"sent_at"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	RequiresAction bool       `json:"requires_action"`
	ActionTakenAt  *time.Time `json:"action_taken_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// IsRead reports whether the notification has been read.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// ContractPayload is the data attached to contract_request and
// contract_accepted notifications.
type ContractPayload struct {
	ContractID     uuid.UUID `json:"contract_id"`
	AnnouncementID uuid.UUID `json:"announcement_id"`
	ContractorID   uuid.UUID `json:"contractor_id"`
	GoalkeeperID   uuid.UUID `json:"goalkeeper_id"`
	OfferedAmount  *float64  `json:"offered_amount,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

// FullLobbyPayload is the data attached to full_lobby notifications.
type FullLobbyPayload struct {
	AnnouncementID   uuid.UUID `json:"announcement_id"`
	Title            string    `json:"title"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	Location         string    `json:"location,omitempty"`
	ParticipantCount int       `json:"participant_count"`
	MaxCount         int       `json:"max_count"`
}

// encodePayload round-trips a typed payload into the schemaless data column.
func encodePayload(v interface{}) Map {
	raw, err := json.Marshal(v)
	if err != nil {
		return Map{}
	}
	var m Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return Map{}
	}
	return m
}

func decodePayload(data Map, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// DecodeContractPayload decodes the data column of a contracts-category
// notification. Callers only invoke this when the type tag already matches.
func DecodeContractPayload(data Map) (*ContractPayload, error) {
	var p ContractPayload
	if err := decodePayload(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeFullLobbyPayload decodes the data column of a full_lobby notification.
func DecodeFullLobbyPayload(data Map) (*FullLobbyPayload, error) {
	var p FullLobbyPayload
	if err := decodePayload(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SortKey selects the ordering column for listings.
type SortKey string

const (
	SortByCreatedAt SortKey = "created_at"
	SortBySentAt    SortKey = "sent_at"
)

// NotificationFilters narrows List/Count/MarkAllRead/DeleteAll operations.
// The zero value means: active (non-archived) records, newest first.
type NotificationFilters struct {
	Category        *Category
	IncludeArchived bool
	Search          string
	From            *time.Time
	To              *time.Time
	Unread          *bool
	SortBy          SortKey
	Limit           int
	Offset          int
}

// Change feed operations, matching the store's row-level events.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// NotificationEvent is one row-level change observed on the store.
// Notification is nil for deletes.
type NotificationEvent struct {
	Op           ChangeOp      `json:"op"`
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	Notification *Notification `json:"notification,omitempty"`
}

// FeedSubscription is a live per-user slice of the store's change stream.
// The Events channel is closed when the underlying connection is lost;
// consumers are expected to resubscribe and resynchronize.
type FeedSubscription interface {
	Events() <-chan NotificationEvent
	Close()
}

// NotificationFeed exposes the store's change-subscription primitive.
type NotificationFeed interface {
	Subscribe(ctx context.Context, userID uuid.UUID) (FeedSubscription, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *Notification) (*Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, f NotificationFilters) ([]*Notification, error)
	CountNotifications(ctx context.Context, userID uuid.UUID, f NotificationFilters) (int, error)
	UnreadCount(ctx context.Context, userID uuid.UUID, category *Category) (int, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID, category *Category) error
	MarkActionTaken(ctx context.Context, id uuid.UUID) error
	ArchiveNotificationsBefore(ctx context.Context, userID uuid.UUID, before time.Time) (int64, error)
	RestoreNotification(ctx context.Context, id uuid.UUID) error
	DeleteNotification(ctx context.Context, id uuid.UUID) error
	DeleteNotifications(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	DeleteAllNotifications(ctx context.Context, userID uuid.UUID, category *Category) error
	PurgeArchivedBefore(ctx context.Context, before time.Time) (int64, error)
	ListFullLobbyAnnouncementIDs(ctx context.Context) ([]uuid.UUID, error)
}
