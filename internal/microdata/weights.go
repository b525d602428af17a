package microdata

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// WeightedSum returns sum(values[i] * weights[i]). Empty input yields 0.
func WeightedSum(values, weights []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Dot(values, weights)
}

// WeightedMean returns the weight-normalized mean. A group with zero total
// weight yields 0.0, never NaN, so empty groups aggregate cleanly.
func WeightedMean(values, weights []float64) float64 {
	total := WeightedCount(weights)
	if total == 0 {
		return 0
	}
	return WeightedSum(values, weights) / total
}

// WeightedCount returns the total weight. Weights are survey expansion
// factors, so this is a population estimate and need not be an integer.
func WeightedCount(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	return floats.Sum(weights)
}

// GroupProportion returns the weighted share of rows satisfying mask within
// the rows satisfying group. A group with zero weight yields 0.0, never NaN.
func GroupProportion(mask, group Mask, weights []float64) float64 {
	var num, den float64
	for i, w := range weights {
		if !group[i] {
			continue
		}
		den += w
		if mask[i] {
			num += w
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// WeightedGini returns the weighted Gini coefficient of values: one minus
// twice the weighted average Lorenz-curve height over the value-sorted rows.
// 0 is perfect equality, 1 maximal concentration. Degenerate inputs (zero
// total weight or a non-positive value total) yield 0, never NaN.
func WeightedGini(values, weights []float64) float64 {
	type row struct{ v, w float64 }
	rows := make([]row, len(values))
	for i := range values {
		rows[i] = row{values[i], weights[i]}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].v < rows[j].v })

	var totalW, totalV float64
	for _, r := range rows {
		totalW += r.w
		totalV += r.v * r.w
	}
	if totalW == 0 || totalV <= 0 {
		return 0
	}

	// Trapezoid accumulation of w_i * (L_{i-1} + L_i), in value units.
	var cum, area float64
	for _, r := range rows {
		prev := cum
		cum += r.v * r.w
		area += r.w * (prev + cum)
	}
	return 1 - area/(totalW*totalV)
}

// MaskedSum returns the weighted sum of values over rows where the mask holds.
func MaskedSum(values []float64, m Mask, weights []float64) float64 {
	var sum float64
	for i, keep := range m {
		if keep {
			sum += values[i] * weights[i]
		}
	}
	return sum
}

// MaskedCount returns the total weight over rows where the mask holds.
func MaskedCount(m Mask, weights []float64) float64 {
	var sum float64
	for i, keep := range m {
		if keep {
			sum += weights[i]
		}
	}
	return sum
}
