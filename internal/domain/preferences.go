package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrPreferencesNotFound = errors.New("notification preferences not found")
	ErrPushTokenNotFound   = errors.New("push token not found")
)

// NotificationPreferences holds a user's per-category delivery toggles plus
// the master push switch.
type NotificationPreferences struct {
	UserID      uuid.UUID `json:"user_id"`
	Contracts   bool      `json:"contracts"`
	FullLobbies bool      `json:"full_lobbies"`
	General     bool      `json:"general"`
	PushEnabled bool      `json:"push_enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EnabledFor returns the toggle for one category, gated by the master switch.
func (p *NotificationPreferences) EnabledFor(category Category) bool {
	if !p.PushEnabled {
		return false
	}
	switch category {
	case CategoryContracts:
		return p.Contracts
	case CategoryFullLobbies:
		return p.FullLobbies
	default:
		return p.General
	}
}

// DefaultPreferences is the all-enabled record created the first time a user
// is observed.
func DefaultPreferences(userID uuid.UUID) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:      userID,
		Contracts:   true,
		FullLobbies: true,
		General:     true,
		PushEnabled: true,
		UpdatedAt:   time.Now().UTC(),
	}
}

// PushToken is one device destination. Disabling keeps the row for audit
// history instead of deleting it.
type PushToken struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PreferenceRepository interface {
	GetPreferences(ctx context.Context, userID uuid.UUID) (*NotificationPreferences, error)
	UpsertPreferences(ctx context.Context, p *NotificationPreferences) (*NotificationPreferences, error)
}

type PushTokenRepository interface {
	UpsertPushToken(ctx context.Context, t *PushToken) (*PushToken, error)
	GetActivePushTokens(ctx context.Context, userID uuid.UUID) ([]*PushToken, error)
	DeactivatePushToken(ctx context.Context, userID uuid.UUID, token string) error
}

// PreferenceGate answers "may we push this category to this user", creating
// the default record lazily on first sight.
type PreferenceGate struct {
	repo   PreferenceRepository
	logger *zap.Logger
}

func NewPreferenceGate(repo PreferenceRepository, logger *zap.Logger) *PreferenceGate {
	return &PreferenceGate{repo: repo, logger: logger}
}

// Get returns the user's preferences, materializing defaults if none exist.
func (g *PreferenceGate) Get(ctx context.Context, userID uuid.UUID) (*NotificationPreferences, error) {
	prefs, err := g.repo.GetPreferences(ctx, userID)
	if err == nil {
		return prefs, nil
	}
	if !errors.Is(err, ErrPreferencesNotFound) {
		return nil, err
	}
	return g.repo.UpsertPreferences(ctx, DefaultPreferences(userID))
}

// IsEnabled reports the per-category toggle. Lookup failures default to
// enabled rather than silently suppressing delivery.
func (g *PreferenceGate) IsEnabled(ctx context.Context, userID uuid.UUID, category Category) bool {
	prefs, err := g.Get(ctx, userID)
	if err != nil {
		g.logger.Warn("preference lookup failed, defaulting to enabled",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return true
	}
	return prefs.EnabledFor(category)
}

// PreferencesPatch updates only the toggles the caller supplied.
type PreferencesPatch struct {
	Contracts   *bool `json:"contracts,omitempty"`
	FullLobbies *bool `json:"full_lobbies,omitempty"`
	General     *bool `json:"general,omitempty"`
	PushEnabled *bool `json:"push_enabled,omitempty"`
}

func (g *PreferenceGate) Update(ctx context.Context, userID uuid.UUID, patch PreferencesPatch) (*NotificationPreferences, error) {
	prefs, err := g.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if patch.Contracts != nil {
		prefs.Contracts = *patch.Contracts
	}
	if patch.FullLobbies != nil {
		prefs.FullLobbies = *patch.FullLobbies
	}
	if patch.General != nil {
		prefs.General = *patch.General
	}
	if patch.PushEnabled != nil {
		prefs.PushEnabled = *patch.PushEnabled
	}
	prefs.UpdatedAt = time.Now().UTC()
	return g.repo.UpsertPreferences(ctx, prefs)
}
