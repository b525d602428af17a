package impact

import (
	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/provider"
)

// Budgetary computes the net revenue impact from tax-unit liabilities and the
// household population estimate. A missing tax-liability column is a
// configuration error and fails fast rather than degrading to zeros.
func Budgetary(b *provider.Bundle) (*BudgetaryImpact, error) {
	baseTax, err := b.TaxUnits.Baseline.Column(provider.VarIncomeTax)
	if err != nil {
		return nil, eris.Wrap(err, "impact: budgetary: baseline tax liability")
	}
	reformTax, err := b.TaxUnits.Reform.Column(provider.VarIncomeTax)
	if err != nil {
		return nil, eris.Wrap(err, "impact: budgetary: reform tax liability")
	}

	revenue := microdata.WeightedSum(microdata.Sub(reformTax, baseTax), b.TaxUnits.Weights())
	households := microdata.WeightedCount(b.Households.Weights())

	return &BudgetaryImpact{
		StateRevenueImpact: revenue,
		NetCost:            revenue,
		Households:         households,
	}, nil
}
