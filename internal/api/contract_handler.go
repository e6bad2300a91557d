package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/middleware"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/pkg/response"
)

type ContractHandler struct {
	service *domain.ContractService
	logger  *zap.Logger
}

func NewContractHandler(service *domain.ContractService, logger *zap.Logger) *ContractHandler {
	return &ContractHandler{
		service: service,
		logger:  logger,
	}
}

// contractEnvelope distinguishes "applied" from "applied but delivery may
// be delayed" for the caller.
type contractEnvelope struct {
	Contract        *domain.Contract `json:"contract"`
	DeliveryWarning string           `json:"delivery_warning,omitempty"`
}

func (h *ContractHandler) Propose(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		GoalkeeperUserID uuid.UUID `json:"goalkeeper_user_id"`
		AnnouncementID   uuid.UUID `json:"announcement_id"`
		OfferedAmount    *float64  `json:"offered_amount,omitempty"`
		AdditionalNotes  *string   `json:"additional_notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	result, err := h.service.Propose(r.Context(), domain.ProposeContractInput{
		GoalkeeperUserID: req.GoalkeeperUserID,
		ContractorUserID: userID,
		AnnouncementID:   req.AnnouncementID,
		OfferedAmount:    req.OfferedAmount,
		AdditionalNotes:  req.AdditionalNotes,
	})
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	env := contractEnvelope{Contract: result.Contract}
	if result.DeliveryWarning != nil {
		env.DeliveryWarning = result.DeliveryWarning.Error()
	}
	response.Created(w, env)
}

func (h *ContractHandler) Respond(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	contractID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid contract id")
		return
	}

	var req struct {
		NotificationID uuid.UUID `json:"notification_id"`
		Accepted       bool      `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	result, err := h.service.Respond(r.Context(), req.NotificationID, contractID, userID, req.Accepted)
	if err != nil {
		h.writeRespondError(w, err)
		return
	}

	env := contractEnvelope{Contract: result.Contract}
	if result.DeliveryWarning != nil {
		env.DeliveryWarning = result.DeliveryWarning.Error()
	}
	response.OK(w, env)
}

// writeRespondError maps domain rejections onto HTTP: a state conflict
// returns 409 with the authoritative contract attached so the caller can
// refresh its view.
func (h *ContractHandler) writeRespondError(w http.ResponseWriter, err error) {
	var stateErr *domain.ContractStateError
	switch {
	case errors.As(err, &stateErr):
		code := "CONTRACT_ALREADY_RESOLVED"
		if errors.Is(err, domain.ErrContractExpired) {
			code = "CONTRACT_EXPIRED"
		}
		response.JSONError(w, http.StatusConflict, code, err.Error(), map[string]interface{}{
			"contract": stateErr.Contract,
		})
	case errors.Is(err, domain.ErrNotContractRecipient):
		response.Forbidden(w, err.Error())
	case errors.Is(err, domain.ErrContractNotFound):
		response.NotFound(w, "contract not found")
	default:
		h.logger.Error("contract respond failed", zap.Error(err))
		response.InternalError(w, "failed to respond to contract")
	}
}

func (h *ContractHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	contracts, err := h.service.ListForUser(r.Context(), userID, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("failed to list contracts", zap.Error(err))
		response.InternalError(w, "failed to fetch contracts")
		return
	}
	response.OK(w, contracts)
}
