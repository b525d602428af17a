package provider

import (
	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/microdata"
)

// Pair is a matched baseline/reform table pair at one entity granularity.
// Row i in baseline and row i in reform represent the same entity; only
// reform-affected outcome variables may differ.
type Pair struct {
	Baseline *microdata.Table
	Reform   *microdata.Table
}

// Weights returns the baseline weights. Reform weights must be identical and
// are never used for weighting.
func (p Pair) Weights() []float64 {
	return p.Baseline.Weights()
}

// Bundle holds the full simulation output for one (state, year, reform):
// matched table pairs at household, tax-unit, and person granularity. The
// three granularities carry different variables and must never be mixed.
type Bundle struct {
	State string
	Year  int

	// PolicyID is the simulation service's id for the reform policy the
	// reform-side tables were computed under. Zero when the provider has no
	// such notion.
	PolicyID int

	Households Pair
	TaxUnits   Pair
	Persons    Pair
}

// Validate checks the matched-pair invariants: equal lengths within each
// pair, and reform weights identical to baseline weights.
func (b *Bundle) Validate() error {
	pairs := []struct {
		name string
		pair Pair
	}{
		{"households", b.Households},
		{"tax_units", b.TaxUnits},
		{"persons", b.Persons},
	}
	for _, p := range pairs {
		if p.pair.Baseline == nil || p.pair.Reform == nil {
			return eris.Errorf("provider: %s pair incomplete", p.name)
		}
		if p.pair.Baseline.Len() != p.pair.Reform.Len() {
			return eris.Errorf("provider: %s baseline has %d rows, reform has %d",
				p.name, p.pair.Baseline.Len(), p.pair.Reform.Len())
		}
		bw, rw := p.pair.Baseline.Weights(), p.pair.Reform.Weights()
		for i := range bw {
			if bw[i] != rw[i] {
				return eris.Errorf("provider: %s reform weight differs from baseline at row %d", p.name, i)
			}
		}
	}
	return nil
}
