package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

type scriptedSub struct {
	ch chan domain.NotificationEvent
}

func (s *scriptedSub) Events() <-chan domain.NotificationEvent { return s.ch }
func (s *scriptedSub) Close()                                  {}

// scriptedFeed hands out one subscription per Subscribe call and lets the
// test drive or drop each of them.
type scriptedFeed struct {
	mu         sync.Mutex
	subs       []*scriptedSub
	failBefore int
	calls      int
}

func (f *scriptedFeed) Subscribe(ctx context.Context, userID uuid.UUID) (domain.FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failBefore {
		return nil, errors.New("feed unavailable")
	}
	sub := &scriptedSub{ch: make(chan domain.NotificationEvent, 16)}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *scriptedFeed) current() *scriptedSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *scriptedFeed) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type scriptedLoader struct {
	mu    sync.Mutex
	lists [][]*domain.Notification
	calls int
	err   error
}

func (l *scriptedLoader) List(ctx context.Context, userID uuid.UUID, f domain.NotificationFilters) ([]*domain.Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	if len(l.lists) == 0 {
		return nil, nil
	}
	list := l.lists[0]
	if len(l.lists) > 1 {
		l.lists = l.lists[1:]
	}
	return list, nil
}

// recorder collects callback invocations for assertions.
type recorder struct {
	mu          sync.Mutex
	inserts     []*domain.Notification
	updates     []*domain.Notification
	deletes     []uuid.UUID
	connections []bool
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnInsert: func(n *domain.Notification) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.inserts = append(r.inserts, n)
		},
		OnUpdate: func(n *domain.Notification) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.updates = append(r.updates, n)
		},
		OnDelete: func(id uuid.UUID) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.deletes = append(r.deletes, id)
		},
		OnConnectionChange: func(connected bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connections = append(r.connections, connected)
		},
	}
}

func (r *recorder) insertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inserts)
}

func (r *recorder) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder) deleteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deletes)
}

func (r *recorder) lastConnection() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.connections) == 0 {
		return false, false
	}
	return r.connections[len(r.connections)-1], true
}

func notif(userID uuid.UUID, title string) *domain.Notification {
	return &domain.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      domain.TypeGeneral,
		Category:  domain.CategoryGeneral,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
}

func fastOptions() Options {
	return Options{
		MaxReconnectAttempts: 3,
		InitialBackoff:       5 * time.Millisecond,
		MaxBackoff:           20 * time.Millisecond,
		CoalesceWindow:       10 * time.Millisecond,
		ResyncLimit:          50,
	}
}

func TestSubscribeResyncsInitialState(t *testing.T) {
	userID := uuid.New()
	existing := []*domain.Notification{notif(userID, "a"), notif(userID, "b")}
	feed := &scriptedFeed{}
	loader := &scriptedLoader{lists: [][]*domain.Notification{existing}}
	rec := &recorder{}

	client := NewSyncClient(feed, loader, fastOptions(), zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))

	require.Eventually(t, func() bool { return rec.insertCount() == 2 }, time.Second, 5*time.Millisecond)
	connected, ok := rec.lastConnection()
	require.True(t, ok)
	assert.True(t, connected)
	assert.Len(t, client.Snapshot(), 2)
}

func TestLiveEventsApplyToView(t *testing.T) {
	userID := uuid.New()
	feed := &scriptedFeed{}
	loader := &scriptedLoader{}
	rec := &recorder{}

	client := NewSyncClient(feed, loader, fastOptions(), zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))

	require.Eventually(t, func() bool { return feed.current() != nil }, time.Second, 5*time.Millisecond)
	sub := feed.current()

	n := notif(userID, "fresh")
	sub.ch <- domain.NotificationEvent{Op: domain.OpInsert, ID: n.ID, UserID: userID, Notification: n}
	require.Eventually(t, func() bool { return rec.insertCount() == 1 }, time.Second, 5*time.Millisecond)

	read := *n
	now := time.Now().UTC()
	read.ReadAt = &now
	sub.ch <- domain.NotificationEvent{Op: domain.OpUpdate, ID: n.ID, UserID: userID, Notification: &read}
	require.Eventually(t, func() bool { return rec.updateCount() == 1 }, time.Second, 5*time.Millisecond)

	sub.ch <- domain.NotificationEvent{Op: domain.OpDelete, ID: n.ID, UserID: userID}
	require.Eventually(t, func() bool { return rec.deleteCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, client.Snapshot())
}

func TestDeleteForUnknownRecordIsIgnored(t *testing.T) {
	userID := uuid.New()
	feed := &scriptedFeed{}
	rec := &recorder{}

	client := NewSyncClient(feed, &scriptedLoader{}, fastOptions(), zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))
	require.Eventually(t, func() bool { return feed.current() != nil }, time.Second, 5*time.Millisecond)

	feed.current().ch <- domain.NotificationEvent{Op: domain.OpDelete, ID: uuid.New(), UserID: userID}
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.deleteCount())
}

func TestBurstToSameRecordCoalescesToLatest(t *testing.T) {
	userID := uuid.New()
	feed := &scriptedFeed{}
	rec := &recorder{}

	opts := fastOptions()
	opts.CoalesceWindow = 50 * time.Millisecond
	client := NewSyncClient(feed, &scriptedLoader{}, opts, zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))
	require.Eventually(t, func() bool { return feed.current() != nil }, time.Second, 5*time.Millisecond)
	sub := feed.current()

	n := notif(userID, "v0")
	for i := 0; i < 10; i++ {
		v := *n
		v.Body = "latest"
		sub.ch <- domain.NotificationEvent{Op: domain.OpInsert, ID: n.ID, UserID: userID, Notification: &v}
	}

	// One record, ten burst events, at most one callback per flush window.
	require.Eventually(t, func() bool { return rec.insertCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * opts.CoalesceWindow)
	assert.Equal(t, 1, rec.insertCount())
	assert.Zero(t, rec.updateCount())

	snap := client.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "latest", snap[0].Body)

	stats := client.Stats()
	assert.Equal(t, int64(10), stats.Received)
}

func TestFeedDropTriggersFullResyncWithoutDuplicates(t *testing.T) {
	userID := uuid.New()
	a := notif(userID, "a")
	b := notif(userID, "b")
	feed := &scriptedFeed{}
	// First connect sees only a; the resync after the drop sees a and b,
	// with a mutated while the feed was down.
	aRead := *a
	now := time.Now().UTC()
	aRead.ReadAt = &now
	loader := &scriptedLoader{lists: [][]*domain.Notification{
		{a},
		{&aRead, b},
	}}
	rec := &recorder{}

	client := NewSyncClient(feed, loader, fastOptions(), zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))
	require.Eventually(t, func() bool { return rec.insertCount() == 1 }, time.Second, 5*time.Millisecond)

	// Drop the feed.
	close(feed.current().ch)

	require.Eventually(t, func() bool { return feed.subscribeCalls() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.insertCount() == 2 && rec.updateCount() == 1 }, time.Second, 5*time.Millisecond)

	// The reconciled view holds each record exactly once.
	snap := client.Snapshot()
	require.Len(t, snap, 2)
	seen := map[uuid.UUID]bool{}
	for _, n := range snap {
		assert.False(t, seen[n.ID], "duplicate record %s after resync", n.ID)
		seen[n.ID] = true
	}
	assert.True(t, seen[a.ID])
	assert.True(t, seen[b.ID])
}

func TestResyncEmitsDeletesForVanishedRecords(t *testing.T) {
	userID := uuid.New()
	a := notif(userID, "a")
	b := notif(userID, "b")
	feed := &scriptedFeed{}
	loader := &scriptedLoader{lists: [][]*domain.Notification{
		{a, b},
		{b},
	}}
	rec := &recorder{}

	client := NewSyncClient(feed, loader, fastOptions(), zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))
	require.Eventually(t, func() bool { return rec.insertCount() == 2 }, time.Second, 5*time.Millisecond)

	close(feed.current().ch)

	require.Eventually(t, func() bool { return rec.deleteCount() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	deleted := rec.deletes[0]
	rec.mu.Unlock()
	assert.Equal(t, a.ID, deleted)
	assert.Len(t, client.Snapshot(), 1)
}

func TestReconnectBackoffCountsAttemptsAndRecovers(t *testing.T) {
	userID := uuid.New()
	feed := &scriptedFeed{failBefore: 2}
	loader := &scriptedLoader{}
	rec := &recorder{}

	client := NewSyncClient(feed, loader, fastOptions(), zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))

	require.Eventually(t, func() bool {
		connected, ok := rec.lastConnection()
		return ok && connected
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, feed.subscribeCalls())
	// Attempts reset once a connection lands.
	assert.Zero(t, client.Stats().ReconnectionAttempts)
}

func TestGivesUpAfterMaxReconnectAttempts(t *testing.T) {
	userID := uuid.New()
	feed := &scriptedFeed{failBefore: 100}
	rec := &recorder{}

	opts := fastOptions()
	opts.MaxReconnectAttempts = 2
	client := NewSyncClient(feed, &scriptedLoader{}, opts, zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))

	require.Eventually(t, func() bool {
		connected, ok := rec.lastConnection()
		return ok && !connected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, feed.subscribeCalls())
}

func TestResyncFailureCountsAsReconnectAttempt(t *testing.T) {
	userID := uuid.New()
	feed := &scriptedFeed{}
	loader := &scriptedLoader{err: errors.New("store down")}
	rec := &recorder{}

	opts := fastOptions()
	opts.MaxReconnectAttempts = 1
	client := NewSyncClient(feed, loader, opts, zap.NewNop())
	defer client.Dispose()
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))

	require.Eventually(t, func() bool {
		connected, ok := rec.lastConnection()
		return ok && !connected
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.insertCount())
}

func TestDisposeStopsDeliveryAndRejectsResubscribe(t *testing.T) {
	userID := uuid.New()
	feed := &scriptedFeed{}
	rec := &recorder{}

	client := NewSyncClient(feed, &scriptedLoader{}, fastOptions(), zap.NewNop())
	require.NoError(t, client.Subscribe(context.Background(), userID, rec.callbacks()))
	require.Eventually(t, func() bool { return feed.current() != nil }, time.Second, 5*time.Millisecond)

	client.Dispose()
	// Dispose is idempotent.
	client.Dispose()

	assert.ErrorIs(t, client.Subscribe(context.Background(), userID, rec.callbacks()), ErrDisposed)
}
