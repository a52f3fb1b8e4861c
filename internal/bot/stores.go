package bot

import (
	"context"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// Интерфейсы коллабораторов движка. Реализации живут в internal/repository
// и internal/service; движок знает только эти контракты.

// PositionStore - чтение и мутация позиций
type PositionStore interface {
	// FindOpenPositions возвращает открытые позиции по символу;
	// пустой символ означает все открытые позиции
	FindOpenPositions(ctx context.Context, symbol string) ([]*models.Position, error)

	// UpdatePosition частично обновляет поля позиции по id
	UpdatePosition(ctx context.Context, id int64, fields map[string]interface{}) error
}

// TradeStore - создание записей о закрытых позициях
type TradeStore interface {
	CreateTrade(ctx context.Context, trade *models.Trade) error
}

// SettingsStore - пользовательские настройки exit-подсказок
type SettingsStore interface {
	GetUserExitSettings(ctx context.Context, userID int64) (*models.UserExitSettings, error)
}

// PnlStore - накопленный funding PNL позиции
type PnlStore interface {
	GetCumulativeFundingPnL(ctx context.Context, positionID int64) (float64, error)
}

// Notifier - исходящие уведомления. Fire-and-forget: политика ретраев
// принадлежит реализации, движок доставку не ждёт.
type Notifier interface {
	SendTriggerNotification(n *models.Notification)
	SendEmergencyNotification(n *models.Notification)
}
