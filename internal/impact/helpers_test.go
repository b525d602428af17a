package impact

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/provider"
)

func newTable(t *testing.T, weights []float64, cols map[string][]float64) *microdata.Table {
	t.Helper()
	tbl, err := microdata.NewTable(weights)
	require.NoError(t, err)
	for name, values := range cols {
		require.NoError(t, tbl.SetColumn(name, values))
	}
	return tbl
}

func newPair(t *testing.T, weights []float64, baseCols, reformCols map[string][]float64) provider.Pair {
	t.Helper()
	return provider.Pair{
		Baseline: newTable(t, weights, baseCols),
		Reform:   newTable(t, weights, reformCols),
	}
}

// twoHouseholdPair is the end-to-end boundary scenario: baseline income
// [100, 1000], reform [105, 950], unit weights, one person per household,
// deciles 1 and 10. Relative changes are exactly [0.05, -0.05].
func twoHouseholdPair(t *testing.T) provider.Pair {
	t.Helper()
	return newPair(t, []float64{1, 1},
		map[string][]float64{
			provider.VarHouseholdNetIncome: {100, 1000},
			provider.VarCountPeople:        {1, 1},
			provider.VarIncomeDecile:       {1, 10},
		},
		map[string][]float64{
			provider.VarHouseholdNetIncome: {105, 950},
		},
	)
}

func sharesSum(s BucketShares) float64 {
	return s.GainMore5Pct + s.GainLess5Pct + s.NoChange + s.LoseLess5Pct + s.LoseMore5Pct
}
