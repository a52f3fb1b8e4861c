package bot

import (
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/mathutil"
)

// AggregateGroup сводит частичные заполнения одной логической группы
// в агрегат для отображения и пакетного закрытия. Чистая функция.
//
// Правила:
//   - средняя цена входа ноги взвешена размерами заполнений;
//   - PNL суммируется только по известным (не nil) значениям,
//     все nil → nil, не ноль;
//   - общий SL/TP процент возвращается только при полном совпадении
//     настроек у всех участников - расходящиеся настройки не усредняются;
//   - пустой список даёт нейтральный агрегат без ошибки.
func AggregateGroup(positions []*models.Position) *models.GroupSummary {
	summary := &models.GroupSummary{}
	if len(positions) == 0 {
		return summary
	}

	summary.GroupID = positions[0].GroupID
	summary.Symbol = positions[0].Symbol
	summary.PositionCount = len(positions)
	summary.EarliestOpenedAt = positions[0].OpenedAt

	longSizes := make([]float64, 0, len(positions))
	longPrices := make([]float64, 0, len(positions))
	shortSizes := make([]float64, 0, len(positions))
	shortPrices := make([]float64, 0, len(positions))

	var fundingSum, unrealizedSum float64
	var fundingKnown, unrealizedKnown bool

	slCommon, tpCommon := true, true
	firstSL := slSetting(positions[0])
	firstTP := tpSetting(positions[0])

	for _, pos := range positions {
		longSizes = append(longSizes, pos.LongLeg.Size)
		longPrices = append(longPrices, pos.LongLeg.EntryPrice)
		shortSizes = append(shortSizes, pos.ShortLeg.Size)
		shortPrices = append(shortPrices, pos.ShortLeg.EntryPrice)

		summary.TotalQuantity += pos.LongLeg.Size

		if pos.FundingPnl != nil {
			fundingSum += *pos.FundingPnl
			fundingKnown = true
		}
		if pos.UnrealizedPnl != nil {
			unrealizedSum += *pos.UnrealizedPnl
			unrealizedKnown = true
		}

		if slSetting(pos) != firstSL {
			slCommon = false
		}
		if tpSetting(pos) != firstTP {
			tpCommon = false
		}

		if pos.OpenedAt.Before(summary.EarliestOpenedAt) {
			summary.EarliestOpenedAt = pos.OpenedAt
		}
	}

	summary.AvgLongEntry = mathutil.WeightedAverage(longPrices, longSizes)
	summary.AvgShortEntry = mathutil.WeightedAverage(shortPrices, shortSizes)

	if fundingKnown {
		summary.FundingPnl = &fundingSum
	}
	if unrealizedKnown {
		summary.UnrealizedPnl = &unrealizedSum
	}

	if slCommon && positions[0].StopLossEnabled {
		pct := positions[0].StopLossPct
		summary.CommonStopLossPct = &pct
	}
	if tpCommon && positions[0].TakeProfitEnabled {
		pct := positions[0].TakeProfitPct
		summary.CommonTakeProfitPct = &pct
	}

	return summary
}

// slSetting сворачивает настройку SL в сравнимое значение.
// Выключенный SL отличается от включённого с нулевым процентом.
func slSetting(p *models.Position) [2]float64 {
	if !p.StopLossEnabled {
		return [2]float64{0, -1}
	}
	return [2]float64{p.StopLossPct, 1}
}

func tpSetting(p *models.Position) [2]float64 {
	if !p.TakeProfitEnabled {
		return [2]float64{0, -1}
	}
	return [2]float64{p.TakeProfitPct, 1}
}

// GroupsOf разбивает позиции по группам; позиции без группы пропускаются
func GroupsOf(positions []*models.Position) map[string][]*models.Position {
	groups := make(map[string][]*models.Position)
	for _, pos := range positions {
		if pos.GroupID == "" {
			continue
		}
		groups[pos.GroupID] = append(groups[pos.GroupID], pos)
	}
	return groups
}
