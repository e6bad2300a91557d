package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/middleware"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/pkg/response"
)

// DeviceHandler manages push destinations and delivery preferences.
type DeviceHandler struct {
	dispatcher *domain.DeliveryDispatcher
	gate       *domain.PreferenceGate
	logger     *zap.Logger
}

func NewDeviceHandler(dispatcher *domain.DeliveryDispatcher, gate *domain.PreferenceGate, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		dispatcher: dispatcher,
		gate:       gate,
		logger:     logger,
	}
}

func (h *DeviceHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		response.BadRequest(w, "token is required")
		return
	}

	token, err := h.dispatcher.RegisterToken(r.Context(), userID, req.Token, req.Platform)
	if err != nil {
		h.logger.Error("failed to register push token", zap.Error(err))
		response.InternalError(w, "failed to register token")
		return
	}
	response.Created(w, token)
}

func (h *DeviceHandler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		response.BadRequest(w, "token is required")
		return
	}

	if err := h.dispatcher.UnregisterToken(r.Context(), userID, req.Token); err != nil {
		h.logger.Error("failed to unregister push token", zap.Error(err))
		response.InternalError(w, "failed to unregister token")
		return
	}
	response.NoContent(w)
}

func (h *DeviceHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	prefs, err := h.gate.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get preferences", zap.Error(err))
		response.InternalError(w, "failed to fetch preferences")
		return
	}
	response.OK(w, prefs)
}

func (h *DeviceHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var patch domain.PreferencesPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	prefs, err := h.gate.Update(r.Context(), userID, patch)
	if err != nil {
		h.logger.Error("failed to update preferences", zap.Error(err))
		response.InternalError(w, "failed to update preferences")
		return
	}
	response.OK(w, prefs)
}
