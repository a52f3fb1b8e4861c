package exchange

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	"binance",
	"bybit",
	"okx",
}

// NewAdapter создает новый адаптер биржи по имени
func NewAdapter(name string, cfg AdapterConfig, logger *zap.Logger) (Adapter, error) {
	switch strings.ToLower(name) {
	case "binance":
		return NewBinance(cfg, logger), nil
	case "bybit":
		return NewBybit(cfg, logger), nil
	case "okx":
		return NewOKX(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}

// DefaultFees - статическая таблица базовых комиссий (maker, taker) по биржам.
// Используется как второй шаг fallback цепочки, когда биржа не отдаёт
// персональные комиссии через API.
var DefaultFees = map[string][2]float64{
	"binance": {0.0002, 0.0005},
	"bybit":   {0.0002, 0.00055},
	"okx":     {0.0002, 0.0005},
}

// FallbackFee возвращает комиссии из статической таблицы.
// Неизвестная биржа получает консервативные значения по умолчанию.
func FallbackFee(exchange string) (maker, taker float64) {
	if fees, ok := DefaultFees[strings.ToLower(exchange)]; ok {
		return fees[0], fees[1]
	}
	return 0.0002, 0.0006
}
