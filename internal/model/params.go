package model

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ReformParams maps dotted parameter paths (e.g.
// "gov.states.sc.tax.income.rate") to per-period values. It is the typed
// replacement for walking a parameter tree by reflective attribute access:
// paths are validated segment by segment before the reform is ever submitted
// to the simulation provider.
type ReformParams map[string]PeriodValues

// PeriodValues maps a period expression to the parameter value in force.
// Accepted period forms: "2026" (whole year onward), "2026-01-01" (from date
// onward), and "2026-01-01.2100-12-31" (explicit start.stop).
type PeriodValues map[string]float64

// Period is a resolved [Start, Stop] validity window.
type Period struct {
	Start time.Time
	Stop  time.Time
}

// PathError identifies the offending segment of an invalid parameter path.
type PathError struct {
	Path    string
	Segment string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("params: invalid segment %q in path %q", e.Segment, e.Path)
}

// openEndedStop is the stop date used for periods given only as a start.
var openEndedStop = time.Date(2100, 12, 31, 0, 0, 0, 0, time.UTC)

// ParsePeriod resolves a period expression into a validity window.
func ParsePeriod(expr string) (Period, error) {
	if strings.Contains(expr, ".") {
		parts := strings.SplitN(expr, ".", 2)
		start, err := time.Parse("2006-01-02", parts[0])
		if err != nil {
			return Period{}, eris.Wrapf(err, "params: parse period start %q", parts[0])
		}
		stop, err := time.Parse("2006-01-02", parts[1])
		if err != nil {
			return Period{}, eris.Wrapf(err, "params: parse period stop %q", parts[1])
		}
		if stop.Before(start) {
			return Period{}, eris.Errorf("params: period %q stops before it starts", expr)
		}
		return Period{Start: start, Stop: stop}, nil
	}

	if strings.Contains(expr, "-") {
		start, err := time.Parse("2006-01-02", expr)
		if err != nil {
			return Period{}, eris.Wrapf(err, "params: parse period %q", expr)
		}
		return Period{Start: start, Stop: openEndedStop}, nil
	}

	start, err := time.Parse("2006", expr)
	if err != nil {
		return Period{}, eris.Wrapf(err, "params: parse period year %q", expr)
	}
	return Period{Start: start, Stop: openEndedStop}, nil
}

// Validate checks every path and period in the reform. Paths must be
// non-empty dotted identifiers; an empty or malformed segment yields a
// *PathError naming it.
func (p ReformParams) Validate() error {
	if len(p) == 0 {
		return eris.New("params: reform has no parameters")
	}
	for path, periods := range p {
		if err := validatePath(path); err != nil {
			return err
		}
		if len(periods) == 0 {
			return eris.Errorf("params: path %q has no periods", path)
		}
		for expr := range periods {
			if _, err := ParsePeriod(expr); err != nil {
				return err
			}
		}
	}
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return &PathError{Path: path, Segment: ""}
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return &PathError{Path: path, Segment: seg}
		}
		for _, r := range seg {
			if !isPathRune(r) {
				return &PathError{Path: path, Segment: seg}
			}
		}
	}
	return nil
}

func isPathRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// LoadParamsFile reads reform parameters from a YAML file of the form:
//
//	gov.states.sc.tax.income.rate:
//	  "2026": 0.055
func LoadParamsFile(path string) (ReformParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "params: read %s", path)
	}
	var params ReformParams
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return nil, eris.Wrapf(err, "params: parse %s", path)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}
