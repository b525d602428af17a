package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		name      string
		expr      string
		wantStart time.Time
		wantStop  time.Time
		wantErr   bool
	}{
		{
			"year only",
			"2026",
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2100, 12, 31, 0, 0, 0, 0, time.UTC),
			false,
		},
		{
			"date only",
			"2026-07-01",
			time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2100, 12, 31, 0, 0, 0, 0, time.UTC),
			false,
		},
		{
			"explicit range",
			"2026-01-01.2030-12-31",
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC),
			false,
		},
		{"inverted range", "2030-01-01.2026-01-01", time.Time{}, time.Time{}, true},
		{"garbage", "not-a-period", time.Time{}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePeriod(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, p.Start)
			assert.Equal(t, tt.wantStop, p.Stop)
		})
	}
}

func TestReformParamsValidate(t *testing.T) {
	valid := ReformParams{
		"gov.states.sc.tax.income.rate": {"2026": 0.05},
	}
	require.NoError(t, valid.Validate())

	empty := ReformParams{}
	require.Error(t, empty.Validate())

	noPeriods := ReformParams{"gov.rate": {}}
	require.Error(t, noPeriods.Validate())
}

func TestReformParamsValidatePathError(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		segment string
	}{
		{"empty path", "", ""},
		{"empty segment", "gov..rate", ""},
		{"bad characters", "gov.st ates.rate", "st ates"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := ReformParams{tt.path: {"2026": 1}}
			err := params.Validate()
			require.Error(t, err)

			var pathErr *PathError
			require.True(t, errors.As(err, &pathErr), "want *PathError, got %T", err)
			assert.Equal(t, tt.path, pathErr.Path)
			assert.Equal(t, tt.segment, pathErr.Segment)
		})
	}
}

func TestLoadParamsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reform.yaml")
	content := `
gov.states.ut.tax.income.rate:
  "2026": 0.0455
gov.states.ut.tax.income.exemption:
  "2026-01-01.2100-12-31": 2000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	params, err := LoadParamsFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.0455, params["gov.states.ut.tax.income.rate"]["2026"], 1e-12)
	assert.InDelta(t, 2000.0, params["gov.states.ut.tax.income.exemption"]["2026-01-01.2100-12-31"], 1e-12)
}

func TestLoadParamsFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gov..rate:\n  \"2026\": 1\n"), 0o644))

	_, err := LoadParamsFile(path)
	require.Error(t, err)

	_, err = LoadParamsFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
