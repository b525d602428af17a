package impact

import (
	"strconv"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/provider"
)

// WinnersLosers classifies households into the five outcome buckets and
// reports, per bucket, the arithmetic mean of its ten per-decile
// people-weighted proportions. The decile-stratified average (rather than a
// single population-weighted proportion) keeps the largest decile from
// dominating the headline statistic.
func WinnersLosers(households provider.Pair) (*WinnersLosersImpact, error) {
	cols, err := winnersColumns(households)
	if err != nil {
		return nil, err
	}

	all := make(microdata.Mask, households.Baseline.Len())
	for i := range all {
		all[i] = true
	}

	agg, perDecile := decileBucketShares(cols, households.Weights(), all)

	return &WinnersLosersImpact{
		BucketShares: agg,
		IntraDecile: &IntraDecile{
			All:     agg,
			Deciles: perDecile,
		},
	}, nil
}

// winnersCols bundles the household columns the bucket machinery needs.
type winnersCols struct {
	relChange   []float64
	countPeople []float64
	deciles     []float64
}

func winnersColumns(households provider.Pair) (winnersCols, error) {
	baseIncome, err := households.Baseline.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return winnersCols{}, eris.Wrap(err, "impact: winners/losers: baseline income")
	}
	reformIncome, err := households.Reform.Column(provider.VarHouseholdNetIncome)
	if err != nil {
		return winnersCols{}, eris.Wrap(err, "impact: winners/losers: reform income")
	}
	countPeople, err := households.Baseline.Column(provider.VarCountPeople)
	if err != nil {
		return winnersCols{}, eris.Wrap(err, "impact: winners/losers: count of people")
	}
	deciles, err := households.Baseline.Column(provider.VarIncomeDecile)
	if err != nil {
		return winnersCols{}, eris.Wrap(err, "impact: winners/losers: decile assignment")
	}
	return winnersCols{
		relChange:   RelativeChange(baseIncome, reformIncome),
		countPeople: countPeople,
		deciles:     deciles,
	}, nil
}

// decileBucketShares is the single implementation of the decile-stratified
// bucket statistic, shared by the state-wide calculator and the district
// partitioner (which passes a district row mask). For each decile 1-10 it
// computes the people-weighted proportion in each bucket; the aggregate per
// bucket is the mean of the ten per-decile proportions. A decile with no
// rows contributes 0 to every bucket and stays in the ten-element average.
func decileBucketShares(cols winnersCols, weights []float64, rows microdata.Mask) (BucketShares, map[string]BucketShares) {
	// People-weighted: each household contributes its sampling weight times
	// its person count, so the statistic reflects affected people.
	peopleWeight := make([]float64, len(weights))
	for i := range weights {
		peopleWeight[i] = weights[i] * cols.countPeople[i]
	}

	bucketOf := make([]Bucket, len(cols.relChange))
	for i, rc := range cols.relChange {
		bucketOf[i] = Classify(rc)
	}

	perDecile := make(map[string]BucketShares, 10)
	byBucket := make([][]float64, numBuckets)
	for b := range byBucket {
		byBucket[b] = make([]float64, 0, 10)
	}

	for d := 1; d <= 10; d++ {
		var totals [numBuckets]float64
		var decileTotal float64
		for i, w := range peopleWeight {
			if !rows[i] || cols.deciles[i] != float64(d) {
				continue
			}
			decileTotal += w
			totals[bucketOf[i]] += w
		}

		var shares [numBuckets]float64
		if decileTotal > 0 {
			for b := range totals {
				shares[b] = totals[b] / decileTotal
			}
		}
		perDecile[strconv.Itoa(d)] = sharesFromArray(shares)
		for b := range shares {
			byBucket[b] = append(byBucket[b], shares[b])
		}
	}

	var agg [numBuckets]float64
	for b := range byBucket {
		// stats.Mean only errors on empty input; byBucket always has 10 entries.
		m, _ := stats.Mean(byBucket[b])
		agg[b] = m
	}

	return sharesFromArray(agg), perDecile
}

func sharesFromArray(s [numBuckets]float64) BucketShares {
	return BucketShares{
		GainMore5Pct: s[GainMore5],
		GainLess5Pct: s[GainLess5],
		NoChange:     s[NoChangeBucket],
		LoseLess5Pct: s[LoseLess5],
		LoseMore5Pct: s[LoseMore5],
	}
}
