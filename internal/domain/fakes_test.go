package domain

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// In-memory repositories backing the service tests.

type memNotificationRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Notification
	failing bool
}

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{records: make(map[uuid.UUID]*Notification)}
}

func (r *memNotificationRepo) CreateNotification(ctx context.Context, n *Notification) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, context.DeadlineExceeded
	}
	clone := *n
	r.records[n.ID] = &clone
	out := clone
	return &out, nil
}

func (r *memNotificationRepo) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.records[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	out := *n
	return &out, nil
}

func (r *memNotificationRepo) ListNotifications(ctx context.Context, userID uuid.UUID, f NotificationFilters) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Notification
	for _, n := range r.records {
		if n.UserID != userID {
			continue
		}
		if !f.IncludeArchived && n.ArchivedAt != nil {
			continue
		}
		if f.Category != nil && n.Category != *f.Category {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(n.Title+" "+n.Body), strings.ToLower(f.Search)) {
			continue
		}
		if f.Unread != nil && *f.Unread == (n.ReadAt != nil) {
			continue
		}
		clone := *n
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memNotificationRepo) CountNotifications(ctx context.Context, userID uuid.UUID, f NotificationFilters) (int, error) {
	list, err := r.ListNotifications(ctx, userID, NotificationFilters{
		Category:        f.Category,
		IncludeArchived: f.IncludeArchived,
		Search:          f.Search,
		Unread:          f.Unread,
	})
	return len(list), err
}

func (r *memNotificationRepo) UnreadCount(ctx context.Context, userID uuid.UUID, category *Category) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.records {
		if n.UserID != userID || n.ReadAt != nil || n.ArchivedAt != nil {
			continue
		}
		if category != nil && n.Category != *category {
			continue
		}
		count++
	}
	return count, nil
}

func (r *memNotificationRepo) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if n.ReadAt == nil {
		now := time.Now().UTC()
		n.ReadAt = &now
	}
	return nil
}

func (r *memNotificationRepo) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID, category *Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, n := range r.records {
		if n.UserID != userID || n.ReadAt != nil {
			continue
		}
		if category != nil && n.Category != *category {
			continue
		}
		t := now
		n.ReadAt = &t
	}
	return nil
}

func (r *memNotificationRepo) MarkActionTaken(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if n.ActionTakenAt == nil {
		now := time.Now().UTC()
		n.ActionTakenAt = &now
	}
	return nil
}

func (r *memNotificationRepo) ArchiveNotificationsBefore(ctx context.Context, userID uuid.UUID, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var archived int64
	for _, n := range r.records {
		if userID != uuid.Nil && n.UserID != userID {
			continue
		}
		if n.ArchivedAt != nil || !n.CreatedAt.Before(before) {
			continue
		}
		if n.RequiresAction && n.ActionTakenAt == nil && (n.ExpiresAt == nil || n.ExpiresAt.After(now)) {
			continue
		}
		t := now
		n.ArchivedAt = &t
		archived++
	}
	return archived, nil
}

func (r *memNotificationRepo) RestoreNotification(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.records[id]
	if !ok || n.ArchivedAt == nil {
		return ErrNotificationNotFound
	}
	n.ArchivedAt = nil
	return nil
}

func (r *memNotificationRepo) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrNotificationNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memNotificationRepo) DeleteNotifications(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if n, ok := r.records[id]; ok && n.UserID == userID {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memNotificationRepo) DeleteAllNotifications(ctx context.Context, userID uuid.UUID, category *Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, n := range r.records {
		if n.UserID != userID {
			continue
		}
		if category != nil && n.Category != *category {
			continue
		}
		delete(r.records, id)
	}
	return nil
}

func (r *memNotificationRepo) PurgeArchivedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, n := range r.records {
		if n.ArchivedAt != nil && n.ArchivedAt.Before(before) {
			delete(r.records, id)
			purged++
		}
	}
	return purged, nil
}

func (r *memNotificationRepo) ListFullLobbyAnnouncementIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, n := range r.records {
		if n.Type != TypeFullLobby {
			continue
		}
		p, err := DecodeFullLobbyPayload(n.Data)
		if err != nil {
			continue
		}
		if _, ok := seen[p.AnnouncementID]; ok {
			continue
		}
		seen[p.AnnouncementID] = struct{}{}
		ids = append(ids, p.AnnouncementID)
	}
	return ids, nil
}

func (r *memNotificationRepo) byType(typeStr string) []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Notification
	for _, n := range r.records {
		if n.Type == typeStr {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out
}

type memContractRepo struct {
	mu        sync.Mutex
	contracts map[uuid.UUID]*Contract
}

func newMemContractRepo() *memContractRepo {
	return &memContractRepo{contracts: make(map[uuid.UUID]*Contract)}
}

func (r *memContractRepo) CreateContract(ctx context.Context, c *Contract) (*Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *c
	r.contracts[c.ID] = &clone
	out := clone
	return &out, nil
}

func (r *memContractRepo) GetContract(ctx context.Context, id uuid.UUID) (*Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	out := *c
	return &out, nil
}

func (r *memContractRepo) ResolveContract(ctx context.Context, id uuid.UUID, to ContractStatus, respondedAt *time.Time) (*Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[id]
	if !ok || c.Status != ContractStatusPending {
		return nil, ErrContractNotFound
	}
	c.Status = to
	c.RespondedAt = respondedAt
	out := *c
	return &out, nil
}

func (r *memContractRepo) ListContractsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Contract
	for _, c := range r.contracts {
		if c.GoalkeeperUserID != userID && c.ContractorUserID != userID {
			continue
		}
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memContractRepo) ExpirePendingBefore(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.contracts {
		if c.Status == ContractStatusPending && now.After(c.ExpiresAt) {
			c.Status = ContractStatusExpired
			n++
		}
	}
	return n, nil
}

type memAnnouncementRepo struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*CapacitySnapshot
	reads     int
}

func newMemAnnouncementRepo() *memAnnouncementRepo {
	return &memAnnouncementRepo{snapshots: make(map[uuid.UUID]*CapacitySnapshot)}
}

func (r *memAnnouncementRepo) put(snap *CapacitySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *snap
	r.snapshots[snap.EntityID] = &clone
}

func (r *memAnnouncementRepo) GetCapacitySnapshot(ctx context.Context, id uuid.UUID) (*CapacitySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	s, ok := r.snapshots[id]
	if !ok {
		return nil, ErrAnnouncementNotFound
	}
	out := *s
	return &out, nil
}

func (r *memAnnouncementRepo) SubscribeParticipants(ctx context.Context) (ParticipantSubscription, error) {
	return nil, context.Canceled
}

type memPrefRepo struct {
	mu    sync.Mutex
	prefs map[uuid.UUID]*NotificationPreferences
}

func newMemPrefRepo() *memPrefRepo {
	return &memPrefRepo{prefs: make(map[uuid.UUID]*NotificationPreferences)}
}

func (r *memPrefRepo) GetPreferences(ctx context.Context, userID uuid.UUID) (*NotificationPreferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prefs[userID]
	if !ok {
		return nil, ErrPreferencesNotFound
	}
	out := *p
	return &out, nil
}

func (r *memPrefRepo) UpsertPreferences(ctx context.Context, p *NotificationPreferences) (*NotificationPreferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.prefs[p.UserID] = &clone
	out := clone
	return &out, nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[uuid.UUID][]*PushToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[uuid.UUID][]*PushToken)}
}

func (r *memTokenRepo) UpsertPushToken(ctx context.Context, t *PushToken) (*PushToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens[t.UserID] {
		if existing.Token == t.Token {
			existing.IsActive = true
			existing.Platform = t.Platform
			out := *existing
			return &out, nil
		}
	}
	clone := *t
	r.tokens[t.UserID] = append(r.tokens[t.UserID], &clone)
	out := clone
	return &out, nil
}

func (r *memTokenRepo) GetActivePushTokens(ctx context.Context, userID uuid.UUID) ([]*PushToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*PushToken
	for _, t := range r.tokens[userID] {
		if t.IsActive {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memTokenRepo) DeactivatePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens[userID] {
		if t.Token == token {
			t.IsActive = false
			return nil
		}
	}
	return ErrPushTokenNotFound
}

// fakeSender records every push attempt and answers with scripted outcomes.
type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	outcomes map[string]SendOutcome
}

func newFakeSender() *fakeSender {
	return &fakeSender{outcomes: make(map[string]SendOutcome)}
}

func (s *fakeSender) Send(ctx context.Context, token, title, body string, data map[string]string) (SendOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, token)
	if outcome, ok := s.outcomes[token]; ok {
		if outcome != SendOK {
			return outcome, context.DeadlineExceeded
		}
		return outcome, nil
	}
	return SendOK, nil
}

func (s *fakeSender) sentTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}
