package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

const (
	notificationChannel = "notification_changes"
	participantChannel  = "announcement_participant_changes"

	subscriberBuffer = 64
)

// ErrFeedUnavailable is returned by Subscribe while the LISTEN connection is
// down. Callers retry with backoff and resync once the feed is live again,
// so no events committed during the outage are silently skipped.
var ErrFeedUnavailable = errors.New("change feed unavailable")

// Listener owns one dedicated connection running LISTEN on the change
// channels and fans events out to per-user subscribers. When the connection
// drops, every subscription is closed so consumers resynchronize instead of
// trusting a gapped stream.
type Listener struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu        sync.Mutex
	listening bool
	notifSubs map[*notificationSub]struct{}
	partSubs  map[*participantSub]struct{}
}

func NewListener(pool *pgxpool.Pool, logger *zap.Logger) *Listener {
	return &Listener{
		pool:      pool,
		logger:    logger,
		notifSubs: make(map[*notificationSub]struct{}),
		partSubs:  make(map[*participantSub]struct{}),
	}
}

// Start runs the listen loop until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Listener) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			l.closeAll()
			return
		}

		err := l.listen(ctx)
		if ctx.Err() != nil {
			l.closeAll()
			return
		}

		// Connection lost: drop every subscriber so they resync.
		l.logger.Warn("change feed connection lost", zap.Error(err))
		l.closeAll()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	for _, channel := range []string{notificationChannel, participantChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return err
		}
	}

	// Only accept subscribers once LISTEN is in place. A subscription taken
	// during the outage window would resync against a snapshot and then miss
	// everything committed before the channel came back.
	l.setListening(true)
	defer l.setListening(false)

	for {
		notice, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		switch notice.Channel {
		case notificationChannel:
			l.dispatchNotification(notice.Payload)
		case participantChannel:
			l.dispatchParticipant(notice.Payload)
		}
	}
}

func (l *Listener) dispatchNotification(payload string) {
	var ev domain.NotificationEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.logger.Error("bad notification change payload", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.notifSubs {
		if sub.userID != ev.UserID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer: close it out so it resyncs rather than
			// receiving a gapped stream.
			delete(l.notifSubs, sub)
			close(sub.ch)
		}
	}
}

func (l *Listener) dispatchParticipant(payload string) {
	var ev struct {
		AnnouncementID uuid.UUID `json:"announcement_id"`
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.logger.Error("bad participant change payload", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.partSubs {
		select {
		case sub.ch <- domain.ParticipantEvent{AnnouncementID: ev.AnnouncementID}:
		default:
			delete(l.partSubs, sub)
			close(sub.ch)
		}
	}
}

func (l *Listener) setListening(on bool) {
	l.mu.Lock()
	l.listening = on
	l.mu.Unlock()
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.notifSubs {
		delete(l.notifSubs, sub)
		close(sub.ch)
	}
	for sub := range l.partSubs {
		delete(l.partSubs, sub)
		close(sub.ch)
	}
}

// Subscribe opens a per-user notification change subscription. It fails with
// ErrFeedUnavailable while the LISTEN connection is down.
func (l *Listener) Subscribe(ctx context.Context, userID uuid.UUID) (domain.FeedSubscription, error) {
	sub := &notificationSub{
		listener: l,
		userID:   userID,
		ch:       make(chan domain.NotificationEvent, subscriberBuffer),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.listening {
		return nil, ErrFeedUnavailable
	}
	l.notifSubs[sub] = struct{}{}
	return sub, nil
}

// SubscribeParticipants opens a subscription over all participant changes.
// It fails with ErrFeedUnavailable while the LISTEN connection is down.
func (l *Listener) SubscribeParticipants(ctx context.Context) (domain.ParticipantSubscription, error) {
	sub := &participantSub{
		listener: l,
		ch:       make(chan domain.ParticipantEvent, subscriberBuffer),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.listening {
		return nil, ErrFeedUnavailable
	}
	l.partSubs[sub] = struct{}{}
	return sub, nil
}

type notificationSub struct {
	listener *Listener
	userID   uuid.UUID
	ch       chan domain.NotificationEvent
}

func (s *notificationSub) Events() <-chan domain.NotificationEvent {
	return s.ch
}

func (s *notificationSub) Close() {
	s.listener.mu.Lock()
	defer s.listener.mu.Unlock()
	if _, ok := s.listener.notifSubs[s]; ok {
		delete(s.listener.notifSubs, s)
		close(s.ch)
	}
}

type participantSub struct {
	listener *Listener
	ch       chan domain.ParticipantEvent
}

func (s *participantSub) Events() <-chan domain.ParticipantEvent {
	return s.ch
}

func (s *participantSub) Close() {
	s.listener.mu.Lock()
	defer s.listener.mu.Unlock()
	if _, ok := s.listener.partSubs[s]; ok {
		delete(s.listener.partSubs, s)
		close(s.ch)
	}
}
