// Package impact implements the impact aggregation engine: it turns matched
// baseline/reform weighted microdata tables into the normalized summary
// statistics published for each reform (revenue, poverty, decile
// distribution, winners/losers, and congressional district breakdowns).
package impact

import (
	"math"
	"time"
)

// BudgetaryImpact summarizes the revenue effect of a reform. Negative
// StateRevenueImpact means the state loses revenue under the reform.
type BudgetaryImpact struct {
	StateRevenueImpact float64 `json:"stateRevenueImpact"`
	NetCost            float64 `json:"netCost"`
	Households         float64 `json:"households"`
}

// PovertyImpact summarizes a poverty-rate change. Rates are on a 0-1 scale.
// PercentChange is 0 when the baseline rate is exactly 0.
type PovertyImpact struct {
	BaselineRate  float64 `json:"baselineRate"`
	ReformRate    float64 `json:"reformRate"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
}

// BucketShares holds the population fraction in each of the five fixed
// relative-change buckets. Fractions sum to 1 for any non-empty input.
type BucketShares struct {
	GainMore5Pct float64 `json:"gainMore5Pct"`
	GainLess5Pct float64 `json:"gainLess5Pct"`
	NoChange     float64 `json:"noChange"`
	LoseLess5Pct float64 `json:"loseLess5Pct"`
	LoseMore5Pct float64 `json:"loseMore5Pct"`
}

// IntraDecile carries the full per-decile winners/losers breakdown used by
// the stacked bar chart, alongside the aggregate row.
type IntraDecile struct {
	All     BucketShares            `json:"all"`
	Deciles map[string]BucketShares `json:"deciles"`
}

// WinnersLosersImpact is the headline winners/losers statistic: each bucket's
// aggregate share is the arithmetic mean of its ten per-decile proportions.
type WinnersLosersImpact struct {
	BucketShares
	IntraDecile *IntraDecile `json:"intraDecile,omitempty"`
}

// InequalityImpact carries weighted Gini coefficients over household net
// income under current law and under the reform.
type InequalityImpact struct {
	GiniBaseline float64 `json:"giniBaseline"`
	GiniReform   float64 `json:"giniReform"`
}

// DecileImpact maps income deciles "1".."10" to the relative and average
// income change in each. Every decile key is always present; a decile absent
// from the data carries 0.
type DecileImpact struct {
	Relative map[string]float64 `json:"relative"`
	Average  map[string]float64 `json:"average"`
}

// DistrictImpact summarizes a reform's effect on one congressional district.
type DistrictImpact struct {
	DistrictName          string  `json:"districtName"`
	AvgBenefit            float64 `json:"avgBenefit"`
	HouseholdsAffected    float64 `json:"householdsAffected"`
	TotalBenefit          float64 `json:"totalBenefit"`
	WinnersShare          float64 `json:"winnersShare"`
	LosersShare           float64 `json:"losersShare"`
	PovertyPctChange      float64 `json:"povertyPctChange"`
	ChildPovertyPctChange float64 `json:"childPovertyPctChange"`
}

// Rounded returns a display-ready copy. Dollar and household figures round to
// whole numbers, shares and percent changes to two decimals. Internal
// computation always retains full precision; rounding happens only here.
func (d DistrictImpact) Rounded() DistrictImpact {
	return DistrictImpact{
		DistrictName:          d.DistrictName,
		AvgBenefit:            math.Round(d.AvgBenefit),
		HouseholdsAffected:    math.Round(d.HouseholdsAffected),
		TotalBenefit:          math.Round(d.TotalBenefit),
		WinnersShare:          roundTo(d.WinnersShare, 2),
		LosersShare:           roundTo(d.LosersShare, 2),
		PovertyPctChange:      roundTo(d.PovertyPctChange, 2),
		ChildPovertyPctChange: roundTo(d.ChildPovertyPctChange, 2),
	}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// Record is the complete normalized output of one (reform, year, state)
// computation. Immutable once assembled.
type Record struct {
	Computed   bool      `json:"computed"`
	ComputedAt time.Time `json:"computedAt"`

	// PolicyID is the simulation service's id for the reform policy, kept so
	// a stored record can be traced back to the exact server-side policy it
	// was computed from. Zero for providers without one.
	PolicyID int `json:"policyId,omitempty"`

	BudgetaryImpact    *BudgetaryImpact          `json:"budgetaryImpact"`
	PovertyImpact      *PovertyImpact            `json:"povertyImpact"`
	ChildPovertyImpact *PovertyImpact            `json:"childPovertyImpact"`
	WinnersLosers      *WinnersLosersImpact      `json:"winnersLosers"`
	DecileImpact       *DecileImpact             `json:"decileImpact"`
	Inequality         *InequalityImpact         `json:"inequality,omitempty"`
	DistrictImpacts    map[string]DistrictImpact `json:"districtImpacts,omitempty"`
}

// Archive is a multi-year record map keyed by simulation year. Merging a new
// year never disturbs other years' entries.
type Archive map[int]*Record

// Merge stores rec under year, replacing any previous record for that year
// only.
func (a Archive) Merge(year int, rec *Record) {
	a[year] = rec
}

// Years returns the years present in the archive.
func (a Archive) Years() []int {
	years := make([]int, 0, len(a))
	for y := range a {
		years = append(years, y)
	}
	return years
}
