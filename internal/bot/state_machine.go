package bot

import "github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"

// Состояния последовательности координированного закрытия позиции
const (
	StateMonitoring      = "MONITORING"
	StateTriggerDetected = "TRIGGER_DETECTED"
	StateClosingOpposite = "CLOSING_OPPOSITE_LEG"
	StateCancelingOrders = "CANCELING_RESIDUAL_ORDERS"
	StateCompleted       = "COMPLETED"
	StateFailed          = "FAILED"
)

// ValidTransitions определяет допустимые переходы между состояниями.
// FAILED достижим из любого рабочего состояния: закрытие может упасть
// на любой фазе.
var ValidTransitions = map[string][]string{
	StateMonitoring:      {StateTriggerDetected},
	StateTriggerDetected: {StateClosingOpposite, StateFailed},
	StateClosingOpposite: {StateCancelingOrders, StateFailed},
	StateCancelingOrders: {StateCompleted, StateFailed},
	StateCompleted:       {},
	StateFailed:          {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для конечных состояний
func IsTerminal(s string) bool {
	return s == StateCompleted || s == StateFailed
}

// PhaseForState возвращает фазу прогресса и процент для состояния.
// Проценты монотонно растут по ходу последовательности.
func PhaseForState(s string) (phase string, percent int) {
	switch s {
	case StateTriggerDetected:
		return models.ClosePhaseDetected, 10
	case StateClosingOpposite:
		return models.ClosePhaseClosingOpposite, 40
	case StateCancelingOrders:
		return models.ClosePhaseCancelingOrders, 70
	case StateCompleted:
		return models.ClosePhaseCompleted, 100
	case StateFailed:
		return models.ClosePhaseFailed, 100
	default:
		return "", 0
	}
}

// StateInfo возвращает описание состояния для оператора
func StateInfo(s string) string {
	switch s {
	case StateMonitoring:
		return "Наблюдение за позицией"
	case StateTriggerDetected:
		return "Сработал SL/TP на одной из ног"
	case StateClosingOpposite:
		return "Закрытие противоположной ноги..."
	case StateCancelingOrders:
		return "Отмена остаточных условных ордеров..."
	case StateCompleted:
		return "Позиция закрыта"
	case StateFailed:
		return "Ошибка закрытия! Требуется вмешательство"
	default:
		return "Неизвестное состояние"
	}
}
