package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/api/handlers"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/api/middleware"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Engine        handlers.EngineStatus
	Positions     handlers.PositionReader
	Notifications handlers.NotificationReader
	Settings      handlers.ExitSettingsStore
	Hub           *websocket.Hub
	APITokenHash  string
	Logger        *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /rates/
//	│   ├── GET / - агрегированные ставки всех символов
//	│   └── GET /{symbol} - агрегат одного символа
//	├── /opportunities/
//	│   └── GET / - активные арбитражные возможности
//	├── /positions/
//	│   ├── GET / - открытые позиции
//	│   └── GET /{id} - позиция по ID
//	├── /groups/
//	│   └── GET /{id} - агрегат группы позиций
//	├── /notifications/
//	│   └── GET / - журнал уведомлений
//	├── /users/{id}/exit-settings
//	│   ├── GET - настройки exit-подсказок
//	│   └── PATCH - обновить настройки
//	└── /stats
//	    └── GET - статистика движка
//
// /ws/stream - WebSocket для real-time событий
// /metrics   - Prometheus метрики
// /health    - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. TokenAuth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.TokenAuth(deps.APITokenHash))

	if deps.Engine != nil {
		engineHandler := handlers.NewEngineHandler(deps.Engine)
		api.HandleFunc("/rates", engineHandler.GetRates).Methods("GET")
		api.HandleFunc("/rates/{symbol}", engineHandler.GetRate).Methods("GET")
		api.HandleFunc("/opportunities", engineHandler.GetOpportunities).Methods("GET")
		api.HandleFunc("/stats", engineHandler.GetStats).Methods("GET")
	}

	if deps.Positions != nil {
		positionHandler := handlers.NewPositionHandler(deps.Positions)
		api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")
		api.HandleFunc("/positions/{id:[0-9]+}", positionHandler.GetPosition).Methods("GET")
		api.HandleFunc("/groups/{id}", positionHandler.GetGroupSummary).Methods("GET")
	}

	if deps.Notifications != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.Notifications)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	if deps.Settings != nil {
		settingsHandler := handlers.NewSettingsHandler(deps.Settings)
		api.HandleFunc("/users/{id:[0-9]+}/exit-settings", settingsHandler.GetExitSettings).Methods("GET")
		api.HandleFunc("/users/{id:[0-9]+}/exit-settings", settingsHandler.UpdateExitSettings).Methods("PATCH")
	}

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
