package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ExitSettingsStore - чтение и запись настроек exit-подсказок
type ExitSettingsStore interface {
	GetUserExitSettings(ctx context.Context, userID int64) (*models.UserExitSettings, error)
	UpsertUserExitSettings(ctx context.Context, settings *models.UserExitSettings) error
}

// SettingsHandler - endpoints пользовательских настроек
type SettingsHandler struct {
	settings ExitSettingsStore
}

// NewSettingsHandler создает handler настроек
func NewSettingsHandler(settings ExitSettingsStore) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetExitSettings возвращает настройки exit-подсказок пользователя.
// Пользователь без записи получает выключенные настройки по умолчанию.
// GET /api/v1/users/{id}/exit-settings
func (h *SettingsHandler) GetExitSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	settings, err := h.settings.GetUserExitSettings(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if settings == nil {
		settings = &models.UserExitSettings{UserID: userID}
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Data: settings})
}

// UpdateExitSettings создает или обновляет настройки exit-подсказок
// PATCH /api/v1/users/{id}/exit-settings
func (h *SettingsHandler) UpdateExitSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var body struct {
		Enabled      *bool    `json:"enabled"`
		APYThreshold *float64 `json:"apy_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.APYThreshold != nil && *body.APYThreshold < 0 {
		respondError(w, http.StatusBadRequest, "apy_threshold cannot be negative")
		return
	}

	settings, err := h.settings.GetUserExitSettings(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if settings == nil {
		settings = &models.UserExitSettings{UserID: userID}
	}

	if body.Enabled != nil {
		settings.Enabled = *body.Enabled
	}
	if body.APYThreshold != nil {
		settings.APYThreshold = *body.APYThreshold
	}

	if err := h.settings.UpsertUserExitSettings(r.Context(), settings); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "settings updated", Data: settings})
}
