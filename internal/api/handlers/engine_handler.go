package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// EngineStatus - pull-интерфейс движка мониторинга
type EngineStatus interface {
	Pairs() []*models.FundingRatePair
	Opportunities() []*bot.Opportunity
	Stats() bot.EngineStats
}

// EngineHandler - endpoints состояния движка: ставки, возможности, статистика
type EngineHandler struct {
	engine EngineStatus
}

// NewEngineHandler создает handler состояния движка
func NewEngineHandler(engine EngineStatus) *EngineHandler {
	return &EngineHandler{engine: engine}
}

// GetRates возвращает агрегированные ставки всех символов
// GET /api/v1/rates
func (h *EngineHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SuccessResponse{Data: h.engine.Pairs()})
}

// GetRate возвращает агрегат одного символа
// GET /api/v1/rates/{symbol}
func (h *EngineHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	for _, pair := range h.engine.Pairs() {
		if pair.Symbol == symbol {
			respondJSON(w, http.StatusOK, SuccessResponse{Data: pair})
			return
		}
	}

	respondError(w, http.StatusNotFound, "symbol not tracked or no fresh data")
}

// GetOpportunities возвращает активные арбитражные возможности
// GET /api/v1/opportunities
func (h *EngineHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SuccessResponse{Data: h.engine.Opportunities()})
}

// GetStats возвращает статистику движка: кэши, мониторы, адаптеры
// GET /api/v1/stats
func (h *EngineHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SuccessResponse{Data: h.engine.Stats()})
}
