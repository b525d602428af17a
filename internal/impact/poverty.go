package impact

import (
	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/provider"
)

// childAgeLimit bounds the child poverty population: persons with age < 18.
const childAgeLimit = 18

// Poverty computes the person-level poverty-rate change. With childOnly set
// the population is restricted to persons under 18.
func Poverty(persons provider.Pair, childOnly bool) (*PovertyImpact, error) {
	all := make(microdata.Mask, persons.Baseline.Len())
	for i := range all {
		all[i] = true
	}
	return povertyMasked(persons, all, childOnly)
}

// povertyMasked is the shared implementation: the state-wide calculator runs
// it with an all-true mask, the district partitioner with the district's
// person mask. One formula, one code path.
func povertyMasked(persons provider.Pair, rows microdata.Mask, childOnly bool) (*PovertyImpact, error) {
	basePoverty, err := persons.Baseline.Column(provider.VarInPoverty)
	if err != nil {
		return nil, eris.Wrap(err, "impact: poverty: baseline indicator")
	}
	reformPoverty, err := persons.Reform.Column(provider.VarInPoverty)
	if err != nil {
		return nil, eris.Wrap(err, "impact: poverty: reform indicator")
	}

	mask := rows
	if childOnly {
		age, err := persons.Baseline.Column(provider.VarAge)
		if err != nil {
			return nil, eris.Wrap(err, "impact: poverty: age")
		}
		mask = microdata.And(rows, microdata.MaskLess(age, childAgeLimit))
	}

	weights := microdata.Select(persons.Weights(), mask)
	baselineRate := microdata.WeightedMean(microdata.Select(basePoverty, mask), weights)
	reformRate := microdata.WeightedMean(microdata.Select(reformPoverty, mask), weights)

	change := reformRate - baselineRate
	var percentChange float64
	if baselineRate > 0 {
		percentChange = change / baselineRate * 100
	}

	return &PovertyImpact{
		BaselineRate:  baselineRate,
		ReformRate:    reformRate,
		Change:        change,
		PercentChange: percentChange,
	}, nil
}
