package impact

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/policyscope/impact-cli/internal/geo"
	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/provider"
)

// Districts re-runs the distributional calculators over each congressional
// district's row subset. It returns nil (district impacts not computable,
// distinct from all-zero results) when the state has no districts or the
// dataset carries no district geocoding. Per-district iterations are
// independent and fan out concurrently, each writing its own output slot.
func Districts(ctx context.Context, b *provider.Bundle, st geo.State) (map[string]DistrictImpact, error) {
	if st.Districts == 0 {
		zap.L().Debug("district impacts skipped: state has no districts", zap.String("state", st.Code))
		return nil, nil
	}
	if !b.Households.Baseline.HasColumn(provider.VarDistrictGeoID) ||
		!b.Persons.Baseline.HasColumn(provider.VarDistrictGeoID) {
		zap.L().Debug("district impacts skipped: no geocoding columns", zap.String("state", st.Code))
		return nil, nil
	}

	hhGeoID, err := b.Households.Baseline.Column(provider.VarDistrictGeoID)
	if err != nil {
		return nil, eris.Wrap(err, "impact: districts: household geo-id")
	}
	// An all-sentinel geo-id column means the dataset was never geocoded.
	// Returning fabricated all-zero districts would be worse than none.
	if microdata.All(hhGeoID, geo.GeoIDSentinel) {
		zap.L().Warn("district impacts skipped: geo-id column is entirely sentinel",
			zap.String("state", st.Code))
		return nil, nil
	}

	personGeoID, err := b.Persons.Baseline.Column(provider.VarDistrictGeoID)
	if err != nil {
		return nil, eris.Wrap(err, "impact: districts: person geo-id")
	}

	baseIncome, err := b.Households.Baseline.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return nil, eris.Wrap(err, "impact: districts: baseline income")
	}
	reformIncome, err := b.Households.Reform.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return nil, eris.Wrap(err, "impact: districts: reform income")
	}
	cols, err := winnersColumns(b.Households)
	if err != nil {
		return nil, err
	}

	change := microdata.Sub(reformIncome, baseIncome)
	weights := b.Households.Weights()

	results := make([]*DistrictImpact, st.Districts+1)

	g, _ := errgroup.WithContext(ctx)
	for n := 1; n <= st.Districts; n++ {
		g.Go(func() error {
			targetID := float64(geo.GeoID(st.FIPS, n))
			inDistrict := microdata.MaskEq(hhGeoID, targetID)
			if !microdata.Any(inDistrict) {
				return nil
			}

			d, err := districtImpact(b, cols, change, weights, inDistrict,
				microdata.MaskEq(personGeoID, targetID), n)
			if err != nil {
				return eris.Wrapf(err, "impact: district %s", geo.DistrictID(st.Code, n))
			}
			results[n] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]DistrictImpact)
	for n := 1; n <= st.Districts; n++ {
		if results[n] != nil {
			out[geo.DistrictID(st.Code, n)] = results[n].Rounded()
		}
	}
	return out, nil
}

// districtImpact computes one district's record on the masked row subset,
// using exactly the same formulas as the state-wide calculators.
func districtImpact(b *provider.Bundle, cols winnersCols, change, weights []float64,
	households, persons microdata.Mask, district int) (*DistrictImpact, error) {

	totalBenefit := microdata.MaskedSum(change, households, weights)
	count := microdata.MaskedCount(households, weights)
	var avgBenefit float64
	if count > 0 {
		avgBenefit = totalBenefit / count
	}

	agg, _ := decileBucketShares(cols, weights, households)
	winnersShare := agg.GainMore5Pct + agg.GainLess5Pct
	losersShare := agg.LoseMore5Pct + agg.LoseLess5Pct

	poverty, err := povertyMasked(b.Persons, persons, false)
	if err != nil {
		return nil, err
	}
	childPoverty, err := povertyMasked(b.Persons, persons, true)
	if err != nil {
		return nil, err
	}

	return &DistrictImpact{
		DistrictName:          geo.DistrictName(district),
		AvgBenefit:            avgBenefit,
		HouseholdsAffected:    count,
		TotalBenefit:          totalBenefit,
		WinnersShare:          winnersShare,
		LosersShare:           losersShare,
		PovertyPctChange:      poverty.PercentChange,
		ChildPovertyPctChange: childPoverty.PercentChange,
	}, nil
}
