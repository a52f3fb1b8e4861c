package mathutil

import "math"

// Epsilon для сравнения float64 в расчетах ставок.
// Ставки фандинга имеют порядок 1e-4, поэтому 1e-12 более чем достаточно.
const Epsilon = 1e-12

// AlmostEqual сравнивает два float64 с точностью eps
func AlmostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// WeightedAverage возвращает средневзвешенное значение.
// Пустой вход или нулевая сумма весов дают 0 (нейтральный агрегат).
func WeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}

	var sum, totalWeight float64
	for i := range values {
		sum += values[i] * weights[i]
		totalWeight += weights[i]
	}

	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// Round округляет до prec знаков после запятой
func Round(v float64, prec int) float64 {
	p := math.Pow10(prec)
	return math.Round(v*p) / p
}

// PctDiff возвращает относительное расхождение a от b в процентах.
// b == 0 дает 0 (защита от деления на ноль в расчете price diff).
func PctDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Abs(a-b) / b * 100
}
