package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

const defaultNotificationLimit = 50

// NotificationReader - чтение журнала уведомлений
type NotificationReader interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
}

// NotificationHandler - endpoints журнала уведомлений
type NotificationHandler struct {
	notifications NotificationReader
}

// NewNotificationHandler создает handler уведомлений
func NewNotificationHandler(notifications NotificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotifications возвращает последние уведомления
// GET /api/v1/notifications?limit=50
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	notifications, err := h.notifications.GetRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Data: notifications})
}
