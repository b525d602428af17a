package impact

import (
	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/provider"
)

// Inequality measures income concentration before and after the reform as
// weighted Gini coefficients over household net income.
func Inequality(households provider.Pair) (*InequalityImpact, error) {
	baseline, err := households.Baseline.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return nil, eris.Wrap(err, "impact: inequality: baseline income")
	}
	reform, err := households.Reform.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return nil, eris.Wrap(err, "impact: inequality: reform income")
	}

	weights := households.Weights()
	return &InequalityImpact{
		GiniBaseline: microdata.WeightedGini(baseline, weights),
		GiniReform:   microdata.WeightedGini(reform, weights),
	}, nil
}
