package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lobbyFixture struct {
	engine        *FullLobbyEngine
	announcements *memAnnouncementRepo
	notifs        *memNotificationRepo
}

func newLobbyFixture(t *testing.T) *lobbyFixture {
	t.Helper()
	logger := zap.NewNop()
	announcements := newMemAnnouncementRepo()
	notifs := newMemNotificationRepo()
	store := NewNotificationStore(notifs, nil, logger)
	gate := NewPreferenceGate(newMemPrefRepo(), logger)
	dispatcher := NewDeliveryDispatcher(gate, newMemTokenRepo(), nil, logger)

	return &lobbyFixture{
		engine:        NewFullLobbyEngine(announcements, store, dispatcher, logger),
		announcements: announcements,
		notifs:        notifs,
	}
}

func fullSnapshot(owner uuid.UUID) *CapacitySnapshot {
	return &CapacitySnapshot{
		EntityID:        uuid.New(),
		CreatedByUserID: owner,
		Title:           "Friday five-a-side",
		ScheduledAt:     time.Now().UTC().Add(2 * time.Hour),
		Location:        "Campo Grande",
		CurrentCount:    10,
		MaxCount:        10,
	}
}

func TestCheckEntityNotifiesOwnerOnce(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	snap := fullSnapshot(owner)
	fx.announcements.put(snap)

	status, err := fx.engine.CheckEntity(ctx, snap.EntityID)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusFull, status)

	// Repeated triggers for the same announcement change nothing.
	for i := 0; i < 5; i++ {
		status, err = fx.engine.CheckEntity(ctx, snap.EntityID)
		require.NoError(t, err)
		assert.Equal(t, LobbyStatusFull, status)
	}

	lobbyNotifs := fx.notifs.byType(TypeFullLobby)
	require.Len(t, lobbyNotifs, 1)
	assert.Equal(t, owner, lobbyNotifs[0].UserID)
	assert.Equal(t, CategoryFullLobbies, lobbyNotifs[0].Category)

	payload, err := DecodeFullLobbyPayload(lobbyNotifs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, snap.EntityID, payload.AnnouncementID)
	assert.Equal(t, 10, payload.ParticipantCount)
	assert.Equal(t, 10, payload.MaxCount)
}

func TestCheckEntityConcurrentTriggersProduceOneNotification(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()

	snap := fullSnapshot(uuid.New())
	fx.announcements.put(snap)

	const triggers = 32
	var wg sync.WaitGroup
	wg.Add(triggers)
	for i := 0; i < triggers; i++ {
		go func() {
			defer wg.Done()
			_, _ = fx.engine.CheckEntity(ctx, snap.EntityID)
		}()
	}
	wg.Wait()

	assert.Len(t, fx.notifs.byType(TypeFullLobby), 1)
	assert.Equal(t, 1, fx.engine.Stats().Processed)
}

func TestCheckEntityBelowCapacity(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()

	snap := fullSnapshot(uuid.New())
	snap.CurrentCount = 7
	fx.announcements.put(snap)

	status, err := fx.engine.CheckEntity(ctx, snap.EntityID)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusActive, status)
	assert.Empty(t, fx.notifs.byType(TypeFullLobby))

	got, ok := fx.engine.Status(snap.EntityID)
	require.True(t, ok)
	assert.Equal(t, LobbyStatusActive, got)
}

func TestStatusCacheStaysBounded(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()

	// A full announcement processed before the flood must keep answering
	// full from the processed set after cache eviction.
	full := fullSnapshot(uuid.New())
	fx.announcements.put(full)
	_, err := fx.engine.CheckEntity(ctx, full.EntityID)
	require.NoError(t, err)

	for i := 0; i < maxTrackedStatuses+25; i++ {
		snap := fullSnapshot(uuid.New())
		snap.CurrentCount = 1
		fx.announcements.put(snap)
		status, err := fx.engine.CheckEntity(ctx, snap.EntityID)
		require.NoError(t, err)
		require.Equal(t, LobbyStatusActive, status)
	}

	stats := fx.engine.Stats()
	assert.LessOrEqual(t, stats.Tracked, maxTrackedStatuses)
	assert.Equal(t, 1, stats.Processed)

	got, ok := fx.engine.Status(full.EntityID)
	require.True(t, ok)
	assert.Equal(t, LobbyStatusFull, got)
}

func TestCheckEntityPastScheduleIsExpired(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()

	snap := fullSnapshot(uuid.New())
	snap.CurrentCount = 3
	snap.ScheduledAt = time.Now().UTC().Add(-time.Hour)
	fx.announcements.put(snap)

	status, err := fx.engine.CheckEntity(ctx, snap.EntityID)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusExpired, status)
	assert.Empty(t, fx.notifs.byType(TypeFullLobby))
}

func TestCheckEntityUnknownAnnouncement(t *testing.T) {
	fx := newLobbyFixture(t)
	_, err := fx.engine.CheckEntity(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAnnouncementNotFound)
}

func TestStartPrimesProcessedSetFromStore(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	snap := fullSnapshot(owner)
	fx.announcements.put(snap)

	// First engine instance fires the notification.
	_, err := fx.engine.CheckEntity(ctx, snap.EntityID)
	require.NoError(t, err)
	require.Len(t, fx.notifs.byType(TypeFullLobby), 1)

	// A restarted engine over the same store must not fire again.
	logger := zap.NewNop()
	store := NewNotificationStore(fx.notifs, nil, logger)
	gate := NewPreferenceGate(newMemPrefRepo(), logger)
	dispatcher := NewDeliveryDispatcher(gate, newMemTokenRepo(), nil, logger)
	restarted := NewFullLobbyEngine(fx.announcements, store, dispatcher, logger)

	primeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, restarted.Start(primeCtx))
	assert.Equal(t, 1, restarted.Stats().Processed)

	reads := fx.announcements.reads
	status, err := restarted.CheckEntity(ctx, snap.EntityID)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusFull, status)
	// Dedup short-circuits before the snapshot read.
	assert.Equal(t, reads, fx.announcements.reads)
	assert.Len(t, fx.notifs.byType(TypeFullLobby), 1)
}

func TestReprocessClearsMarkAndReruns(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()

	snap := fullSnapshot(uuid.New())
	fx.announcements.put(snap)

	_, err := fx.engine.CheckEntity(ctx, snap.EntityID)
	require.NoError(t, err)
	require.Len(t, fx.notifs.byType(TypeFullLobby), 1)

	status, err := fx.engine.Reprocess(ctx, snap.EntityID)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusFull, status)

	// Reprocess deliberately re-fires; that is its operator contract.
	assert.Len(t, fx.notifs.byType(TypeFullLobby), 2)
}

func TestCheckEntityKeepsMarkWhenNotificationFails(t *testing.T) {
	fx := newLobbyFixture(t)
	ctx := context.Background()

	snap := fullSnapshot(uuid.New())
	fx.announcements.put(snap)

	fx.notifs.failing = true
	_, err := fx.engine.CheckEntity(ctx, snap.EntityID)
	require.Error(t, err)

	// The mark survives, so retries stay silent until an operator intervenes.
	status, err := fx.engine.CheckEntity(ctx, snap.EntityID)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusFull, status)
	assert.Empty(t, fx.notifs.byType(TypeFullLobby))

	// Reprocess after the outage recovers the notification.
	fx.notifs.failing = false
	_, err = fx.engine.Reprocess(ctx, snap.EntityID)
	require.NoError(t, err)
	assert.Len(t, fx.notifs.byType(TypeFullLobby), 1)
}
