package impact

// RelativeChange computes the per-row capped relative income change used by
// the decile, winners/losers, and district calculators.
//
// The baseline is floored at 1 to keep near-zero-income households from
// producing divide-by-zero blowups; the raw dollar change (not a re-derived
// capped difference) is added to the floored reform value so the true
// magnitude of the change survives the cap.
func RelativeChange(baseline, reform []float64) []float64 {
	out := make([]float64, len(baseline))
	for i := range baseline {
		cappedBase := baseline[i]
		if cappedBase < 1 {
			cappedBase = 1
		}
		cappedReform := cappedBase + (reform[i] - baseline[i])
		out[i] = (cappedReform - cappedBase) / cappedBase
	}
	return out
}

// Bucket indexes the five fixed winners/losers outcome ranges.
type Bucket int

const (
	GainMore5 Bucket = iota
	GainLess5
	NoChangeBucket
	LoseLess5
	LoseMore5
	numBuckets
)

// Classify assigns a relative change to its outcome bucket. Thresholds follow
// the reference methodology: a change of exactly +5% still counts as "gain
// less than 5%", exactly -5% as "lose less than 5%", and changes within
// ±0.1% count as no change.
func Classify(relChange float64) Bucket {
	switch {
	case relChange > 0.05:
		return GainMore5
	case relChange > 0.001:
		return GainLess5
	case relChange >= -0.001:
		return NoChangeBucket
	case relChange >= -0.05:
		return LoseLess5
	default:
		return LoseMore5
	}
}
