// Package geo holds state FIPS codes, congressional district counts, and the
// geo-id encoding used to slice household microdata by district.
package geo

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// StateFIPS maps two-letter state codes to FIPS codes.
var StateFIPS = map[string]int{
	"AL": 1, "AK": 2, "AZ": 4, "AR": 5, "CA": 6, "CO": 8, "CT": 9, "DE": 10,
	"FL": 12, "GA": 13, "HI": 15, "ID": 16, "IL": 17, "IN": 18, "IA": 19,
	"KS": 20, "KY": 21, "LA": 22, "ME": 23, "MD": 24, "MA": 25, "MI": 26,
	"MN": 27, "MS": 28, "MO": 29, "MT": 30, "NE": 31, "NV": 32, "NH": 33,
	"NJ": 34, "NM": 35, "NY": 36, "NC": 37, "ND": 38, "OH": 39, "OK": 40,
	"OR": 41, "PA": 42, "RI": 44, "SC": 45, "SD": 46, "TN": 47, "TX": 48,
	"UT": 49, "VT": 50, "VA": 51, "WA": 53, "WV": 54, "WI": 55, "WY": 56,
	"DC": 11,
}

// StateDistricts maps state codes to congressional district counts under the
// 2023 apportionment. DC has no voting representative.
var StateDistricts = map[string]int{
	"AL": 7, "AK": 1, "AZ": 9, "AR": 4, "CA": 52, "CO": 8, "CT": 5, "DE": 1,
	"FL": 28, "GA": 14, "HI": 2, "ID": 2, "IL": 17, "IN": 9, "IA": 4,
	"KS": 4, "KY": 6, "LA": 6, "ME": 2, "MD": 8, "MA": 9, "MI": 13,
	"MN": 8, "MS": 4, "MO": 8, "MT": 2, "NE": 3, "NV": 4, "NH": 2,
	"NJ": 12, "NM": 3, "NY": 26, "NC": 14, "ND": 1, "OH": 15, "OK": 5,
	"OR": 6, "PA": 17, "RI": 2, "SC": 7, "SD": 1, "TN": 9, "TX": 38,
	"UT": 4, "VT": 1, "VA": 11, "WA": 10, "WV": 2, "WI": 8, "WY": 1,
	"DC": 0,
}

// GeoIDSentinel marks rows without district geocoding. A dataset whose geo-id
// column is entirely this value has no district data at all.
const GeoIDSentinel = 0

// State describes one state's district geography.
type State struct {
	Code      string
	FIPS      int
	Districts int
}

// Lookup resolves a state code (case-insensitive) to its geography.
func Lookup(code string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(code))
	fips, ok := StateFIPS[upper]
	if !ok {
		return State{}, eris.Errorf("geo: unknown state code %q", code)
	}
	return State{
		Code:      upper,
		FIPS:      fips,
		Districts: StateDistricts[upper],
	}, nil
}

// GeoID encodes a congressional district as state_fips*100 + district_number,
// matching the encoding carried on household rows.
func GeoID(stateFIPS, district int) int {
	return stateFIPS*100 + district
}

// DistrictID formats the canonical district identifier, e.g. "SC-1".
func DistrictID(stateCode string, district int) string {
	return fmt.Sprintf("%s-%d", strings.ToUpper(stateCode), district)
}

// DistrictName returns the human-readable district name.
func DistrictName(district int) string {
	return fmt.Sprintf("Congressional District %d", district)
}
