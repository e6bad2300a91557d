package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/pkg/response"
)

// LobbyHandler exposes the detection engine: a manual check trigger, the
// per-entity status, aggregate counters, and the operator reprocess path.
type LobbyHandler struct {
	engine *domain.FullLobbyEngine
	logger *zap.Logger
}

func NewLobbyHandler(engine *domain.FullLobbyEngine, logger *zap.Logger) *LobbyHandler {
	return &LobbyHandler{
		engine: engine,
		logger: logger,
	}
}

func (h *LobbyHandler) Check(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLobbyID(w, r)
	if !ok {
		return
	}

	status, err := h.engine.CheckEntity(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, id, err)
		return
	}
	response.OK(w, map[string]string{"status": string(status)})
}

func (h *LobbyHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLobbyID(w, r)
	if !ok {
		return
	}

	status, tracked := h.engine.Status(id)
	if !tracked {
		response.NotFound(w, "announcement not tracked")
		return
	}
	response.OK(w, map[string]string{"status": string(status)})
}

func (h *LobbyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.engine.Stats())
}

func (h *LobbyHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLobbyID(w, r)
	if !ok {
		return
	}

	status, err := h.engine.Reprocess(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, id, err)
		return
	}
	response.OK(w, map[string]string{"status": string(status)})
}

func (h *LobbyHandler) writeEngineError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, domain.ErrAnnouncementNotFound) {
		response.NotFound(w, "announcement not found")
		return
	}
	h.logger.Error("lobby check failed", zap.String("announcement_id", id.String()), zap.Error(err))
	response.InternalError(w, "failed to check announcement")
}

func parseLobbyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid announcement id")
		return uuid.Nil, false
	}
	return id, true
}
