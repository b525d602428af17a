// Package provider defines the simulation provider boundary: the interface
// that yields matched baseline/reform weighted microdata tables for one
// (state, year, reform), and the typed reform parameter tree.
package provider

import (
	"context"

	"github.com/policyscope/impact-cli/internal/model"
)

// Canonical variable names carried on microdata tables. Arrays for baseline
// and reform at the same granularity have identical length and row
// correspondence; weights are always taken from the baseline table.
const (
	// Household granularity.
	VarHouseholdNetIncome = "household_net_income"
	VarCountPeople        = "household_count_people"
	VarIncomeDecile       = "household_income_decile"
	VarDistrictGeoID      = "congressional_district_geoid"

	// Tax-unit granularity.
	VarIncomeTax = "income_tax"

	// Person granularity. Persons also carry VarDistrictGeoID mapped down
	// from their household.
	VarInPoverty = "person_in_poverty"
	VarAge       = "age"
)

// Provider yields simulated microdata for a state and year under a reform.
// Implementations own all blocking I/O; the aggregation engine receives fully
// materialized in-memory arrays.
type Provider interface {
	// Microdata returns the matched baseline/reform bundle for the state.
	Microdata(ctx context.Context, state string, year int, params model.ReformParams) (*Bundle, error)
}
