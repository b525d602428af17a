// Package microdata provides the weighted-table primitive used by the impact
// aggregation engine: parallel float64 columns of equal length, each row
// carrying one survey sampling weight.
package microdata

import (
	"github.com/rotisserie/eris"
)

// Mask is a boolean row filter aligned with a table's columns.
type Mask []bool

// Table holds named parallel columns plus one weight column. All slices share
// index alignment: row i's weight, decile, geo-id, and measured variables
// refer to the same underlying entity.
type Table struct {
	columns map[string][]float64
	weights []float64
	length  int
}

// NewTable creates a table from a weight column. Weights must be non-negative.
func NewTable(weights []float64) (*Table, error) {
	for i, w := range weights {
		if w < 0 {
			return nil, eris.Errorf("microdata: negative weight %g at row %d", w, i)
		}
	}
	return &Table{
		columns: make(map[string][]float64),
		weights: weights,
		length:  len(weights),
	}, nil
}

// SetColumn attaches a named column. The column must match the table length.
func (t *Table) SetColumn(name string, values []float64) error {
	if len(values) != t.length {
		return eris.Errorf("microdata: column %q has %d rows, table has %d", name, len(values), t.length)
	}
	t.columns[name] = values
	return nil
}

// Column returns the named column, or an error if it was never attached.
// Calculators that require a variable fail fast on a missing column rather
// than substituting zeros.
func (t *Table) Column(name string) ([]float64, error) {
	values, ok := t.columns[name]
	if !ok {
		return nil, eris.Errorf("microdata: column %q not present", name)
	}
	return values, nil
}

// HasColumn reports whether the named column is attached.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Weights returns the weight column.
func (t *Table) Weights() []float64 { return t.weights }

// Len returns the row count.
func (t *Table) Len() int { return t.length }

// MaskEq builds a mask selecting rows where the column equals v.
func MaskEq(values []float64, v float64) Mask {
	m := make(Mask, len(values))
	for i, x := range values {
		m[i] = x == v
	}
	return m
}

// MaskLess builds a mask selecting rows where the column is strictly below v.
func MaskLess(values []float64, v float64) Mask {
	m := make(Mask, len(values))
	for i, x := range values {
		m[i] = x < v
	}
	return m
}

// And returns the row-wise conjunction of two masks.
func And(a, b Mask) Mask {
	m := make(Mask, len(a))
	for i := range a {
		m[i] = a[i] && b[i]
	}
	return m
}

// All reports whether every value in the column equals v. Used to detect
// sentinel-only geo-id columns (datasets without district geocoding).
func All(values []float64, v float64) bool {
	for _, x := range values {
		if x != v {
			return false
		}
	}
	return true
}

// Any reports whether the mask selects at least one row.
func Any(m Mask) bool {
	for _, b := range m {
		if b {
			return true
		}
	}
	return false
}

// Select returns the values at rows where the mask holds.
func Select(values []float64, m Mask) []float64 {
	out := make([]float64, 0, len(values))
	for i, keep := range m {
		if keep {
			out = append(out, values[i])
		}
	}
	return out
}

// Sub returns element-wise a - b. Both slices must be the same length;
// baseline/reform pairing is validated at the provider boundary.
func Sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
