package impact

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/provider"
)

// Decile computes the per-decile relative and average income change.
// Households with a sentinel decile (< 1, no assessable income) are excluded
// from every decile bucket. All ten decile keys are always present in the
// output; a decile absent from the data carries 0 so downstream consumers can
// index 1-10 unconditionally.
func Decile(households provider.Pair) (*DecileImpact, error) {
	baseIncome, err := households.Baseline.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return nil, eris.Wrap(err, "impact: decile: baseline income")
	}
	reformIncome, err := households.Reform.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return nil, eris.Wrap(err, "impact: decile: reform income")
	}
	deciles, err := households.Baseline.Column(provider.VarIncomeDecile)
	if err != nil {
		return nil, eris.Wrap(err, "impact: decile: decile assignment")
	}

	change := microdata.Sub(reformIncome, baseIncome)
	weights := households.Weights()

	out := &DecileImpact{
		Relative: make(map[string]float64, 10),
		Average:  make(map[string]float64, 10),
	}

	for d := 1; d <= 10; d++ {
		in := microdata.MaskEq(deciles, float64(d))
		key := strconv.Itoa(d)

		changeSum := microdata.MaskedSum(change, in, weights)
		baseSum := microdata.MaskedSum(baseIncome, in, weights)
		count := microdata.MaskedCount(in, weights)

		if baseSum != 0 {
			out.Relative[key] = changeSum / baseSum
		} else {
			out.Relative[key] = 0
		}
		if count != 0 {
			out.Average[key] = changeSum / count
		} else {
			out.Average[key] = 0
		}
	}

	return out, nil
}
