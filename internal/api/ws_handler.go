package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/middleware"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/realtime"
)

// WSHandler upgrades authenticated connections and binds each one to a
// sync client that mirrors the user's notification feed.
type WSHandler struct {
	manager *WebSocketManager
	feed    domain.NotificationFeed
	store   *domain.NotificationStore
	logger  *zap.Logger
}

func NewWSHandler(manager *WebSocketManager, feed domain.NotificationFeed, store *domain.NotificationStore, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		manager: manager,
		feed:    feed,
		store:   store,
		logger:  logger,
	}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New(),
		Conn:   conn,
		Send:   make(chan []byte, 64),
		UserID: userID,
	}

	sync := realtime.NewSyncClient(h.feed, h.store, realtime.Options{}, h.logger)
	client.dispose = sync.Dispose

	h.manager.register <- client
	go client.WritePump()
	go client.ReadPump(h.manager)

	// The request context dies when this handler returns; the subscription
	// lives until the socket unregisters and dispose fires.
	err = sync.Subscribe(context.Background(), userID, realtime.Callbacks{
		OnInsert: func(n *domain.Notification) {
			client.Deliver(WSNotificationInsert, n, h.logger)
		},
		OnUpdate: func(n *domain.Notification) {
			client.Deliver(WSNotificationUpdate, n, h.logger)
		},
		OnDelete: func(id uuid.UUID) {
			client.Deliver(WSNotificationDelete, map[string]string{"id": id.String()}, h.logger)
		},
		OnConnectionChange: func(connected bool) {
			client.Deliver(WSConnectionState, map[string]bool{"connected": connected}, h.logger)
		},
	})
	if err != nil {
		h.logger.Error("sync subscribe failed", zap.String("user_id", userID.String()), zap.Error(err))
		h.manager.unregister <- client
	}
}
