package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// PositionReader - чтение позиций для API
type PositionReader interface {
	FindOpenPositions(ctx context.Context, symbol string) ([]*models.Position, error)
	FindByGroupID(ctx context.Context, groupID string) ([]*models.Position, error)
	GetByID(ctx context.Context, id int64) (*models.Position, error)
}

// PositionHandler - endpoints позиций и групп
type PositionHandler struct {
	positions PositionReader
}

// NewPositionHandler создает handler позиций
func NewPositionHandler(positions PositionReader) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// GetPositions возвращает открытые позиции, опционально по символу
// GET /api/v1/positions?symbol=BTCUSDT
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	positions, err := h.positions.FindOpenPositions(r.Context(), symbol)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Data: positions})
}

// GetPosition возвращает позицию по ID
// GET /api/v1/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	position, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "position not found")
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Data: position})
}

// GetGroupSummary возвращает агрегат группы позиций
// GET /api/v1/groups/{id}
func (h *PositionHandler) GetGroupSummary(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]

	positions, err := h.positions.FindByGroupID(r.Context(), groupID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	if len(positions) == 0 {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}

	summary := bot.AggregateGroup(positions)
	respondJSON(w, http.StatusOK, SuccessResponse{Data: summary})
}
