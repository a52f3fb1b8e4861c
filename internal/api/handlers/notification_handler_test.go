package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ============ NotificationHandler Tests ============

func notificationLog(count int) []*models.Notification {
	out := make([]*models.Notification, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, &models.Notification{
			ID:        int64(count - i),
			Timestamp: time.Now().Add(-time.Duration(i) * time.Minute),
			Type:      models.NotificationTypeTrigger,
			Severity:  models.SeverityInfo,
			Message:   "leg trigger detected",
		})
	}
	return out
}

func TestNotificationHandler_GetNotifications(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		handler := NewNotificationHandler(&mockNotificationReader{
			notifications: notificationLog(60),
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response struct {
			Data []*models.Notification `json:"data"`
		}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Data) != defaultNotificationLimit {
			t.Errorf("expected %d notifications, got %d", defaultNotificationLimit, len(response.Data))
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		handler := NewNotificationHandler(&mockNotificationReader{
			notifications: notificationLog(10),
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=3", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		var response struct {
			Data []*models.Notification `json:"data"`
		}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Data) != 3 {
			t.Errorf("expected 3 notifications, got %d", len(response.Data))
		}
	})

	t.Run("limit validation", func(t *testing.T) {
		handler := NewNotificationHandler(&mockNotificationReader{})

		for _, raw := range []string{"0", "-1", "501", "abc"} {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit="+raw, nil)
			w := httptest.NewRecorder()

			handler.GetNotifications(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: expected status %d, got %d", raw, http.StatusBadRequest, w.Code)
			}
		}
	})

	t.Run("store failure", func(t *testing.T) {
		handler := NewNotificationHandler(&mockNotificationReader{err: errors.New("db down")})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
