package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LobbyStatus is the engine's view of one announcement.
type LobbyStatus string

const (
	LobbyStatusActive  LobbyStatus = "active"
	LobbyStatusFull    LobbyStatus = "full"
	LobbyStatusExpired LobbyStatus = "expired"
)

// LobbyEngineStats are aggregate counters exposed for observability.
type LobbyEngineStats struct {
	Processed int `json:"processed"`
	Tracked   int `json:"tracked"`
}

// maxTrackedStatuses caps the advisory status cache. The processed set is
// the durable dedup anchor; statuses only back the status endpoint, so old
// active/expired observations can be evicted freely.
const maxTrackedStatuses = 1024

// FullLobbyEngine watches participant counts and fires the owner's
// full-lobby notification exactly once per announcement. The processed set
// is the dedup guard: an id is added before the notification write, so two
// near-simultaneous triggers cannot both pass the gate. A single engine
// instance owns the set; it must not be shared.
type FullLobbyEngine struct {
	announcements AnnouncementRepository
	store         *NotificationStore
	dispatcher    *DeliveryDispatcher
	logger        *zap.Logger

	mu        sync.Mutex
	processed map[uuid.UUID]struct{}
	statuses  map[uuid.UUID]LobbyStatus
}

func NewFullLobbyEngine(announcements AnnouncementRepository, store *NotificationStore, dispatcher *DeliveryDispatcher, logger *zap.Logger) *FullLobbyEngine {
	return &FullLobbyEngine{
		announcements: announcements,
		store:         store,
		dispatcher:    dispatcher,
		logger:        logger,
		processed:     make(map[uuid.UUID]struct{}),
		statuses:      make(map[uuid.UUID]LobbyStatus),
	}
}

// Start primes the dedup set from already-persisted full_lobby notifications
// and begins consuming the participant change feed.
func (e *FullLobbyEngine) Start(ctx context.Context) error {
	ids, err := e.store.FullLobbyAnnouncementIDs(ctx)
	if err != nil {
		return fmt.Errorf("prime full-lobby engine: %w", err)
	}

	e.mu.Lock()
	for _, id := range ids {
		e.processed[id] = struct{}{}
	}
	e.mu.Unlock()

	e.logger.Info("full-lobby engine primed", zap.Int("processed", len(ids)))

	go e.watchParticipants(ctx)
	return nil
}

// watchParticipants consumes participant change events, reconnecting with
// backoff when the feed drops.
func (e *FullLobbyEngine) watchParticipants(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := e.announcements.SubscribeParticipants(ctx)
		if err != nil {
			e.logger.Warn("participant feed unavailable, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for ev := range sub.Events() {
			if _, err := e.CheckEntity(ctx, ev.AnnouncementID); err != nil {
				e.logger.Error("full-lobby check failed",
					zap.String("announcement_id", ev.AnnouncementID.String()),
					zap.Error(err),
				)
			}
		}
		sub.Close()
	}
}

// CheckEntity evaluates one announcement's capacity. Safe to call
// concurrently and repeatedly; at most one notification ever results.
func (e *FullLobbyEngine) CheckEntity(ctx context.Context, id uuid.UUID) (LobbyStatus, error) {
	if id == uuid.Nil {
		return "", fmt.Errorf("check entity: missing announcement id")
	}

	e.mu.Lock()
	if _, done := e.processed[id]; done {
		e.mu.Unlock()
		return LobbyStatusFull, nil
	}
	e.mu.Unlock()

	snap, err := e.announcements.GetCapacitySnapshot(ctx, id)
	if err != nil {
		return "", err
	}

	if !snap.IsFull() {
		status := LobbyStatusActive
		if time.Now().UTC().After(snap.ScheduledAt) {
			status = LobbyStatusExpired
		}
		e.mu.Lock()
		e.recordStatus(id, status)
		e.mu.Unlock()
		return status, nil
	}

	// Test-and-set before the write closes the race between two
	// near-simultaneous triggers.
	e.mu.Lock()
	if _, done := e.processed[id]; done {
		e.mu.Unlock()
		return LobbyStatusFull, nil
	}
	e.processed[id] = struct{}{}
	delete(e.statuses, id)
	e.mu.Unlock()

	if err := e.notifyOwner(ctx, snap); err != nil {
		// The id stays marked: a rare missed notification is preferred over
		// a duplicate. Operators can clear it through Reprocess.
		e.logger.Error("full-lobby notification failed, entity stays marked",
			zap.String("announcement_id", id.String()),
			zap.Error(err),
		)
		return LobbyStatusFull, fmt.Errorf("full-lobby notification: %w", err)
	}

	e.logger.Info("lobby full, owner notified",
		zap.String("announcement_id", id.String()),
		zap.Int("participants", snap.CurrentCount),
		zap.Int("max", snap.MaxCount),
	)
	return LobbyStatusFull, nil
}

func (e *FullLobbyEngine) notifyOwner(ctx context.Context, snap *CapacitySnapshot) error {
	payload := FullLobbyPayload{
		AnnouncementID:   snap.EntityID,
		Title:            snap.Title,
		ScheduledAt:      snap.ScheduledAt,
		Location:         snap.Location,
		ParticipantCount: snap.CurrentCount,
		MaxCount:         snap.MaxCount,
	}

	notif, err := e.store.Create(ctx, NewNotificationInput{
		UserID: snap.CreatedByUserID,
		Type:   TypeFullLobby,
		Title:  "Your lobby is full",
		Body:   fmt.Sprintf("%q reached %d/%d participants.", snap.Title, snap.CurrentCount, snap.MaxCount),
		Data:   encodePayload(payload),
	})
	if err != nil {
		return err
	}

	if warn := e.dispatcher.Send(ctx, snap.CreatedByUserID, notif); warn != nil {
		// Push is best-effort; the stored notification already exists.
		e.logger.Warn("full-lobby push failed", zap.Error(warn))
	}
	return nil
}

// Reprocess clears the processed mark for an announcement and re-runs the
// check. Operator path for the marked-but-unnotified edge.
func (e *FullLobbyEngine) Reprocess(ctx context.Context, id uuid.UUID) (LobbyStatus, error) {
	e.mu.Lock()
	delete(e.processed, id)
	delete(e.statuses, id)
	e.mu.Unlock()
	return e.CheckEntity(ctx, id)
}

// recordStatus caches a non-full observation, evicting an arbitrary older
// entry once at capacity. Caller holds e.mu.
func (e *FullLobbyEngine) recordStatus(id uuid.UUID, status LobbyStatus) {
	if _, ok := e.statuses[id]; !ok && len(e.statuses) >= maxTrackedStatuses {
		for victim := range e.statuses {
			delete(e.statuses, victim)
			break
		}
	}
	e.statuses[id] = status
}

// Status returns the engine's last known view of one announcement. Full
// announcements are answered from the processed set, so they survive status
// cache eviction.
func (e *FullLobbyEngine) Status(id uuid.UUID) (LobbyStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, done := e.processed[id]; done {
		return LobbyStatusFull, true
	}
	s, ok := e.statuses[id]
	return s, ok
}

func (e *FullLobbyEngine) Stats() LobbyEngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return LobbyEngineStats{
		Processed: len(e.processed),
		Tracked:   len(e.statuses),
	}
}
