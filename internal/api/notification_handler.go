package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/domain"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/internal/middleware"
	"github.com/CodeZobac/Scuzzy-goalkeeper-sub005/pkg/response"
)

type NotificationHandler struct {
	store  *domain.NotificationStore
	logger *zap.Logger
}

func NewNotificationHandler(store *domain.NotificationStore, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		store:  store,
		logger: logger,
	}
}

// parseFilters reads the listing query parameters.
func parseFilters(r *http.Request) domain.NotificationFilters {
	q := r.URL.Query()
	var f domain.NotificationFilters

	if c := q.Get("category"); c != "" {
		cat := domain.Category(c)
		f.Category = &cat
	}
	f.IncludeArchived = q.Get("include_archived") == "true"
	f.Search = q.Get("search")

	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &t
		}
	}
	if v := q.Get("unread"); v != "" {
		unread := v == "true"
		f.Unread = &unread
	}
	if q.Get("sort") == "sent_at" {
		f.SortBy = domain.SortBySentAt
	}

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	f.Limit = limit
	f.Offset = (page - 1) * limit
	return f
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	f := parseFilters(r)
	notifs, err := h.store.List(r.Context(), userID, f)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		response.InternalError(w, "failed to fetch notifications")
		return
	}

	total, err := h.store.Count(r.Context(), userID, f)
	if err != nil {
		h.logger.Error("failed to count notifications", zap.Error(err))
		response.InternalError(w, "failed to fetch notifications")
		return
	}

	response.OK(w, map[string]interface{}{
		"notifications": notifs,
		"total":         total,
	})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	count, err := h.store.UnreadCount(r.Context(), userID, categoryParam(r))
	if err != nil {
		h.logger.Error("failed to count unread", zap.Error(err))
		response.InternalError(w, "failed to count notifications")
		return
	}
	response.OK(w, map[string]int{"unread": count})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedNotificationID(w, r)
	if !ok {
		return
	}

	if err := h.store.MarkRead(r.Context(), id); err != nil {
		h.logger.Error("failed to mark notification read", zap.Error(err))
		response.InternalError(w, "failed to update notification")
		return
	}
	response.OK(w, map[string]string{"status": "success"})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	if err := h.store.MarkAllRead(r.Context(), userID, categoryParam(r)); err != nil {
		h.logger.Error("failed to mark all read", zap.Error(err))
		response.InternalError(w, "failed to update notifications")
		return
	}
	response.OK(w, map[string]string{"status": "success"})
}

func (h *NotificationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	age := domain.DefaultArchiveAge
	if v := r.URL.Query().Get("age"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			age = d
		}
	}

	archived, err := h.store.ArchiveOlderThan(r.Context(), userID, age)
	if err != nil {
		h.logger.Error("archive sweep failed", zap.Error(err))
		response.InternalError(w, "failed to archive notifications")
		return
	}
	response.OK(w, map[string]int64{"archived": archived})
}

func (h *NotificationHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedNotificationID(w, r)
	if !ok {
		return
	}

	if err := h.store.Restore(r.Context(), id); err != nil {
		h.logger.Error("failed to restore notification", zap.Error(err))
		response.InternalError(w, "failed to restore notification")
		return
	}
	response.OK(w, map[string]string{"status": "success"})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedNotificationID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete notification", zap.Error(err))
		response.InternalError(w, "failed to delete notification")
		return
	}
	response.NoContent(w)
}

func (h *NotificationHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		IDs []uuid.UUID `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		response.BadRequest(w, "ids are required")
		return
	}

	// Ownership is enforced in the delete predicate; foreign ids are
	// skipped and reflected in the returned count.
	deleted, err := h.store.DeleteMany(r.Context(), userID, req.IDs)
	if err != nil {
		h.logger.Error("failed to delete notifications", zap.Error(err))
		response.InternalError(w, "failed to delete notifications")
		return
	}
	response.OK(w, map[string]int64{"deleted": deleted})
}

func (h *NotificationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	if err := h.store.DeleteAll(r.Context(), userID, categoryParam(r)); err != nil {
		h.logger.Error("failed to delete all notifications", zap.Error(err))
		response.InternalError(w, "failed to delete notifications")
		return
	}
	response.NoContent(w)
}

// ownedNotificationID parses the path id and verifies the record belongs to
// the caller.
func (h *NotificationHandler) ownedNotificationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return uuid.Nil, false
	}

	n, err := h.store.Get(r.Context(), id)
	if err != nil {
		response.NotFound(w, "notification not found")
		return uuid.Nil, false
	}
	if n.UserID != userID {
		response.Forbidden(w, "not your notification")
		return uuid.Nil, false
	}
	return id, true
}

func categoryParam(r *http.Request) *domain.Category {
	if c := r.URL.Query().Get("category"); c != "" {
		cat := domain.Category(c)
		return &cat
	}
	return nil
}
