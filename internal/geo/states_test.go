package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantFIPS  int
		wantCount int
		wantErr   bool
	}{
		{"upper case", "SC", 45, 7, false},
		{"lower case", "ut", 49, 4, false},
		{"whitespace", " ca ", 6, 52, false},
		{"dc has no districts", "DC", 11, 0, false},
		{"unknown", "ZZ", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Lookup(tt.code)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFIPS, s.FIPS)
			assert.Equal(t, tt.wantCount, s.Districts)
		})
	}
}

func TestGeoIDEncoding(t *testing.T) {
	assert.Equal(t, 4501, GeoID(45, 1))
	assert.Equal(t, 4907, GeoID(49, 7))
	assert.Equal(t, "SC-1", DistrictID("sc", 1))
	assert.Equal(t, "Congressional District 3", DistrictName(3))
}

func TestTablesAgree(t *testing.T) {
	// Every state with a FIPS code has a district count entry.
	for code := range StateFIPS {
		_, ok := StateDistricts[code]
		assert.True(t, ok, "missing district count for %s", code)
	}
}
