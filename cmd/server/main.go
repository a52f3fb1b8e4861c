package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/api"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/config"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/repository"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/service"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/websocket"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/logging"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database",
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	positionRepo := repository.NewPositionRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	fundingRepo := repository.NewFundingRepository(db)
	exchangeRepo := repository.NewExchangeRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Сервисы
	exchangeService := service.NewExchangeService(
		exchangeRepo,
		[]byte(cfg.Security.EncryptionKey),
		logger,
	)

	// Шина событий общая для движка, сервиса уведомлений и WebSocket hub
	bus := bot.NewBus()
	notificationService := service.NewNotificationService(notificationRepo, bus, logger)

	engine := bot.New(
		cfg,
		bus,
		positionRepo,
		tradeRepo,
		settingsRepo,
		fundingRepo,
		exchangeService,
		notificationService,
		logger,
	)

	// WebSocket hub + мост к шине событий
	hub := websocket.NewHub(logger)
	go hub.Run()
	bridge := websocket.AttachBus(bus, hub)

	// Запуск движка
	engineCtx, engineCancel := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	// HTTP сервер
	deps := &api.Dependencies{
		Engine:        engine,
		Positions:     positionRepo,
		Notifications: notificationRepo,
		Settings:      settingsRepo,
		Hub:           hub,
		APITokenHash:  cfg.Security.APITokenHash,
		Logger:        logger,
	}
	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	engineCancel()
	<-engineDone

	bridge.Detach()
	hub.Stop()
	notificationService.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Пул соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
