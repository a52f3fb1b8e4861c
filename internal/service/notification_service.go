package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/retry"
)

// NotificationStore - персистентный журнал уведомлений
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// NotificationService доставляет уведомления движка: публикует в шину
// для push-подписчиков и пишет в журнал с ретраями.
//
// Доставка fire-and-forget: вызывающий (монитор триггеров, exit-монитор)
// не ждет записи в БД и не узнает о её ошибке - только лог.
type NotificationService struct {
	store  NotificationStore
	bus    *bot.Bus
	logger *zap.Logger

	persistTimeout time.Duration
	wg             sync.WaitGroup
}

// NewNotificationService создает сервис уведомлений
func NewNotificationService(store NotificationStore, bus *bot.Bus, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		store:          store,
		bus:            bus,
		logger:         logger.Named("notifications"),
		persistTimeout: 15 * time.Second,
	}
}

// SendTriggerNotification отправляет обычное уведомление
func (s *NotificationService) SendTriggerNotification(n *models.Notification) {
	s.dispatch(n, retry.DefaultConfig())
}

// SendEmergencyNotification отправляет критичное уведомление
// (вторая нога не закрылась, требуется ручное вмешательство).
// Ретраи агрессивнее обычных: потерять такое уведомление нельзя.
func (s *NotificationService) SendEmergencyNotification(n *models.Notification) {
	if n.Severity == "" {
		n.Severity = models.SeverityError
	}
	s.dispatch(n, retry.AggressiveConfig())
}

func (s *NotificationService) dispatch(n *models.Notification, cfg retry.Config) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	// Push-подписчики получают уведомление сразу, не дожидаясь БД
	s.bus.Notifications.Publish(n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()

		err := retry.Do(ctx, func() error {
			return s.store.Create(ctx, n)
		}, cfg)
		if err != nil {
			s.logger.Error("notification persist failed",
				zap.String("type", n.Type),
				zap.String("severity", n.Severity),
				zap.Error(err))
			return
		}

		s.logger.Debug("notification persisted",
			zap.Int64("id", n.ID),
			zap.String("type", n.Type))
	}()
}

// Close дожидается завершения фоновых записей
func (s *NotificationService) Close() {
	s.wg.Wait()
}
