package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
)

var ErrDisposed = errors.New("sync client disposed")

// Loader is the full-list read used to resynchronize after a feed drop.
type Loader interface {
	List(ctx context.Context, userID uuid.UUID, f domain.NotificationFilters) ([]*domain.Notification, error)
}

// Callbacks receive the reconciled view changes. All callbacks are optional.
type Callbacks struct {
	OnInsert           func(*domain.Notification)
	OnUpdate           func(*domain.Notification)
	OnDelete           func(uuid.UUID)
	OnConnectionChange func(connected bool)
}

// Options tune reconnection and coalescing behavior.
type Options struct {
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	CoalesceWindow       time.Duration
	ResyncLimit          int
}

func defaultOptions() Options {
	return Options{
		MaxReconnectAttempts: 8,
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		CoalesceWindow:       100 * time.Millisecond,
		ResyncLimit:          200,
	}
}

// Stats are diagnostic counters for one subscription.
type Stats struct {
	Received             int64     `json:"received"`
	Updated              int64     `json:"updated"`
	ReconnectionAttempts int64     `json:"reconnection_attempts"`
	LastEventTime        time.Time `json:"last_event_time"`
}

// SyncClient keeps one user's notification view consistent with the store
// across an unreliable change feed. After any disconnect it never trusts
// delta replay; it reloads the full list and only then resumes live events.
// Bursts of updates to the same record inside the coalescing window collapse
// to the latest value.
type SyncClient struct {
	feed   domain.NotificationFeed
	loader Loader
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	state    map[uuid.UUID]*domain.Notification
	cb       Callbacks
	stats    Stats
	disposed bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSyncClient(feed domain.NotificationFeed, loader Loader, opts Options, logger *zap.Logger) *SyncClient {
	def := defaultOptions()
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = def.CoalesceWindow
	}
	if opts.ResyncLimit <= 0 {
		opts.ResyncLimit = def.ResyncLimit
	}
	return &SyncClient{
		feed:   feed,
		loader: loader,
		opts:   opts,
		logger: logger,
		state:  make(map[uuid.UUID]*domain.Notification),
		done:   make(chan struct{}),
	}
}

// Subscribe starts the sync loop for one user. It returns once the initial
// subscription attempt is scheduled; delivery happens on the callbacks.
func (c *SyncClient) Subscribe(ctx context.Context, userID uuid.UUID, cb Callbacks) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("already subscribed")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.cb = cb
	c.mu.Unlock()

	go c.run(runCtx, userID)
	return nil
}

// Dispose tears down the subscription and clears all callbacks. In-flight
// store calls may complete but their results are discarded.
func (c *SyncClient) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.cb = Callbacks{}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-c.done
	} else {
		close(c.done)
	}
}

func (c *SyncClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Snapshot returns the current reconciled view, newest first.
func (c *SyncClient) Snapshot() []*domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Notification, 0, len(c.state))
	for _, n := range c.state {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (c *SyncClient) run(ctx context.Context, userID uuid.UUID) {
	defer close(c.done)

	attempts := 0
	backoff := c.opts.InitialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := c.feed.Subscribe(ctx, userID)
		if err == nil {
			err = c.resync(ctx, userID)
			if err != nil {
				sub.Close()
			}
		}
		if err != nil {
			attempts++
			c.mu.Lock()
			c.stats.ReconnectionAttempts = int64(attempts)
			c.mu.Unlock()
			if attempts > c.opts.MaxReconnectAttempts {
				c.logger.Error("sync client giving up after max reconnect attempts",
					zap.String("user_id", userID.String()),
					zap.Int("attempts", attempts-1),
				)
				c.notifyConnection(false)
				return
			}
			c.logger.Warn("sync client reconnect attempt failed",
				zap.String("user_id", userID.String()),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}

		attempts = 0
		backoff = c.opts.InitialBackoff
		c.mu.Lock()
		c.stats.ReconnectionAttempts = 0
		c.mu.Unlock()
		c.notifyConnection(true)

		c.consume(ctx, sub)
		sub.Close()
		c.notifyConnection(false)
	}
}

// resync reloads the authoritative list and reconciles the local view,
// emitting deletes for vanished records and inserts/updates for the rest.
func (c *SyncClient) resync(ctx context.Context, userID uuid.UUID) error {
	fresh, err := c.loader.List(ctx, userID, domain.NotificationFilters{
		Limit:  c.opts.ResyncLimit,
		SortBy: domain.SortByCreatedAt,
	})
	if err != nil {
		return err
	}

	freshByID := make(map[uuid.UUID]*domain.Notification, len(fresh))
	for _, n := range fresh {
		freshByID[n.ID] = n
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	cb := c.cb

	var deleted []uuid.UUID
	for id := range c.state {
		if _, ok := freshByID[id]; !ok {
			deleted = append(deleted, id)
		}
	}
	var inserted, updated []*domain.Notification
	for _, n := range fresh {
		if _, ok := c.state[n.ID]; ok {
			updated = append(updated, n)
		} else {
			inserted = append(inserted, n)
		}
	}
	c.state = freshByID
	c.mu.Unlock()

	for _, id := range deleted {
		if cb.OnDelete != nil {
			cb.OnDelete(id)
		}
	}
	for _, n := range inserted {
		if cb.OnInsert != nil {
			cb.OnInsert(n)
		}
	}
	for _, n := range updated {
		if cb.OnUpdate != nil {
			cb.OnUpdate(n)
		}
	}
	return nil
}

// consume applies live events until the feed closes or ctx is cancelled.
// Events landing inside one coalescing window collapse per record to the
// latest value before callbacks fire.
func (c *SyncClient) consume(ctx context.Context, sub domain.FeedSubscription) {
	pending := make(map[uuid.UUID]domain.NotificationEvent)
	ticker := time.NewTicker(c.opts.CoalesceWindow)
	defer ticker.Stop()

	flush := func() {
		for id, ev := range pending {
			c.apply(ev)
			delete(pending, id)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev, ok := <-sub.Events():
			if !ok {
				flush()
				return
			}
			c.mu.Lock()
			c.stats.Received++
			c.stats.LastEventTime = time.Now()
			c.mu.Unlock()
			pending[ev.ID] = ev
		case <-ticker.C:
			flush()
		}
	}
}

func (c *SyncClient) apply(ev domain.NotificationEvent) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	cb := c.cb

	switch ev.Op {
	case domain.OpDelete:
		if _, ok := c.state[ev.ID]; !ok {
			c.mu.Unlock()
			return
		}
		delete(c.state, ev.ID)
		c.mu.Unlock()
		if cb.OnDelete != nil {
			cb.OnDelete(ev.ID)
		}
	default:
		if ev.Notification == nil {
			c.mu.Unlock()
			return
		}
		_, existed := c.state[ev.ID]
		c.state[ev.ID] = ev.Notification
		if existed {
			c.stats.Updated++
		}
		c.mu.Unlock()
		if existed {
			if cb.OnUpdate != nil {
				cb.OnUpdate(ev.Notification)
			}
		} else if cb.OnInsert != nil {
			cb.OnInsert(ev.Notification)
		}
	}
}

func (c *SyncClient) notifyConnection(connected bool) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb.OnConnectionChange != nil {
		cb.OnConnectionChange(connected)
	}
}
