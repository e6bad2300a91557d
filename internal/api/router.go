package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/auth"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	notificationHandler *NotificationHandler
	contractHandler     *ContractHandler
	lobbyHandler        *LobbyHandler
	deviceHandler       *DeviceHandler
	wsHandler           *WSHandler
	healthHandler       *HealthHandler
	jwtManager          *auth.JWTManager
	logger              *zap.Logger
}

// NewRouter creates a new router
func NewRouter(
	notificationHandler *NotificationHandler,
	contractHandler *ContractHandler,
	lobbyHandler *LobbyHandler,
	deviceHandler *DeviceHandler,
	wsHandler *WSHandler,
	healthHandler *HealthHandler,
	jwtManager *auth.JWTManager,
	logger *zap.Logger,
) *Router {
	return &Router{
		notificationHandler: notificationHandler,
		contractHandler:     contractHandler,
		lobbyHandler:        lobbyHandler,
		deviceHandler:       deviceHandler,
		wsHandler:           wsHandler,
		healthHandler:       healthHandler,
		jwtManager:          jwtManager,
		logger:              logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware())
	r.Use(chimiddleware.Compress(5))

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.jwtManager))

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", rt.notificationHandler.List)
				r.Delete("/", rt.notificationHandler.DeleteAll)
				r.Get("/unread-count", rt.notificationHandler.UnreadCount)
				r.Post("/read-all", rt.notificationHandler.MarkAllRead)
				r.Post("/archive", rt.notificationHandler.Archive)
				r.Post("/batch-delete", rt.notificationHandler.DeleteBatch)
				r.Post("/{id}/read", rt.notificationHandler.MarkRead)
				r.Post("/{id}/restore", rt.notificationHandler.Restore)
				r.Delete("/{id}", rt.notificationHandler.Delete)
			})

			r.Route("/contracts", func(r chi.Router) {
				r.Get("/", rt.contractHandler.List)
				r.Post("/", rt.contractHandler.Propose)
				r.Post("/{id}/respond", rt.contractHandler.Respond)
			})

			r.Route("/lobbies", func(r chi.Router) {
				r.Get("/stats", rt.lobbyHandler.Stats)
				r.Get("/{id}/status", rt.lobbyHandler.Status)
				r.Post("/{id}/check", rt.lobbyHandler.Check)
				r.Post("/{id}/reprocess", rt.lobbyHandler.Reprocess)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Post("/token", rt.deviceHandler.RegisterToken)
				r.Delete("/token", rt.deviceHandler.UnregisterToken)
			})

			r.Route("/preferences", func(r chi.Router) {
				r.Get("/", rt.deviceHandler.GetPreferences)
				r.Patch("/", rt.deviceHandler.UpdatePreferences)
			})

			r.Get("/ws", rt.wsHandler.Serve)
		})
	})

	return r
}
