package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/policyscope/impact-cli/internal/impact"
	"github.com/policyscope/impact-cli/internal/microdata"
	"github.com/policyscope/impact-cli/internal/model"
	"github.com/policyscope/impact-cli/internal/provider"
	"github.com/policyscope/impact-cli/internal/store"
	"github.com/policyscope/impact-cli/pkg/policyapi"
)

// fakeStore is an in-memory store.Store for command tests.
type fakeStore struct {
	mu       sync.Mutex
	reforms  map[string]*model.Reform
	archives map[string]impact.Archive
	runs     []*model.ComputeRun

	failUpsert bool
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		reforms:  make(map[string]*model.Reform),
		archives: make(map[string]impact.Archive),
	}
}

func (f *fakeStore) SaveReform(_ context.Context, reform *model.Reform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *reform
	f.reforms[reform.ID] = &cp
	return nil
}

func (f *fakeStore) GetReform(_ context.Context, id string) (*model.Reform, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reforms[id]
	if !ok {
		return nil, fmt.Errorf("reform not found: %s", id)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListReforms(_ context.Context) ([]model.Reform, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Reform, 0, len(f.reforms))
	for _, r := range f.reforms {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) UpsertImpacts(_ context.Context, reformID string, year int, rec *impact.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert {
		return fmt.Errorf("upsert failed")
	}
	if f.archives[reformID] == nil {
		f.archives[reformID] = impact.Archive{}
	}
	f.archives[reformID].Merge(year, rec)
	if r, ok := f.reforms[reformID]; ok {
		r.Computed = true
	}
	return nil
}

func (f *fakeStore) UpdateDistricts(_ context.Context, reformID string, year int, districts map[string]impact.DistrictImpact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.archives[reformID][year]
	if !ok {
		return fmt.Errorf("impact record not found: %s/%d", reformID, year)
	}
	rec.DistrictImpacts = districts
	return nil
}

func (f *fakeStore) GetImpacts(_ context.Context, reformID string) (impact.Archive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := impact.Archive{}
	for y, rec := range f.archives[reformID] {
		a[y] = rec
	}
	return a, nil
}

func (f *fakeStore) GetDistrictImpact(_ context.Context, reformID string, year int, districtID string) (*impact.DistrictImpact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.archives[reformID][year]
	if !ok {
		return nil, nil
	}
	d, ok := rec.DistrictImpacts[districtID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeStore) CreateRun(_ context.Context, reformID string, year int) (*model.ComputeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &model.ComputeRun{
		ID:        fmt.Sprintf("run-%d", len(f.runs)+1),
		ReformID:  reformID,
		Year:      year,
		Status:    model.StatusComputing,
		StartedAt: time.Now().UTC(),
	}
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeStore) FinishRun(_ context.Context, runID string, status model.ComputeStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == runID {
			now := time.Now().UTC()
			r.Status = status
			r.Error = message
			r.FinishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("run not found: %s", runID)
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.ComputeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ComputeRun
	for _, r := range f.runs {
		if filter.ReformID != "" && r.ReformID != filter.ReformID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

// runsByStatus counts recorded runs per final status.
func (f *fakeStore) runsByStatus() map[model.ComputeStatus]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.ComputeStatus]int)
	for _, r := range f.runs {
		counts[r.Status]++
	}
	return counts
}

// fakeClient is a canned policyapi.Client for command tests.
type fakeClient struct {
	bundle        *provider.Bundle
	microdataErr  error
	remoteRevenue float64

	policyCalls  atomic.Int32
	economyCalls atomic.Int32
}

var _ policyapi.Client = (*fakeClient)(nil)

func (c *fakeClient) CreatePolicy(context.Context, model.ReformParams) (int, error) {
	c.policyCalls.Add(1)
	return 42, nil
}

func (c *fakeClient) Economy(context.Context, int, string, int) (*policyapi.EconomyResult, error) {
	c.economyCalls.Add(1)
	var res policyapi.EconomyResult
	res.Budget.BudgetaryImpact = c.remoteRevenue
	return &res, nil
}

func (c *fakeClient) Microdata(ctx context.Context, state string, year int, params model.ReformParams) (*provider.Bundle, error) {
	if c.microdataErr != nil {
		return nil, c.microdataErr
	}
	return c.bundle, nil
}

func mustTable(t *testing.T, weights []float64, columns map[string][]float64) *microdata.Table {
	t.Helper()
	tbl, err := microdata.NewTable(weights)
	require.NoError(t, err)
	for name, values := range columns {
		require.NoError(t, tbl.SetColumn(name, values))
	}
	return tbl
}

// testBundle builds a small valid South Carolina bundle: two households in
// districts SC-01 and SC-02, a modest tax cut, and one person leaving poverty.
func testBundle(t *testing.T) *provider.Bundle {
	t.Helper()

	hhWeights := []float64{100, 200}
	households := map[string][]float64{
		provider.VarHouseholdNetIncome: {30000, 60000},
		provider.VarCountPeople:        {2, 3},
		provider.VarIncomeDecile:       {3, 7},
		provider.VarDistrictGeoID:      {4501, 4502},
	}
	householdsReform := map[string][]float64{
		provider.VarHouseholdNetIncome: {30500, 60100},
		provider.VarCountPeople:        {2, 3},
		provider.VarIncomeDecile:       {3, 7},
		provider.VarDistrictGeoID:      {4501, 4502},
	}

	tuWeights := []float64{100, 200}
	taxUnits := map[string][]float64{provider.VarIncomeTax: {2000, 5000}}
	taxUnitsReform := map[string][]float64{provider.VarIncomeTax: {1500, 4900}}

	pWeights := []float64{100, 100, 200}
	persons := map[string][]float64{
		provider.VarInPoverty:     {1, 0, 0},
		provider.VarAge:           {30, 9, 40},
		provider.VarDistrictGeoID: {4501, 4501, 4502},
	}
	personsReform := map[string][]float64{
		provider.VarInPoverty:     {0, 0, 0},
		provider.VarAge:           {30, 9, 40},
		provider.VarDistrictGeoID: {4501, 4501, 4502},
	}

	return &provider.Bundle{
		State: "SC",
		Year:  2026,
		Households: provider.Pair{
			Baseline: mustTable(t, hhWeights, households),
			Reform:   mustTable(t, hhWeights, householdsReform),
		},
		TaxUnits: provider.Pair{
			Baseline: mustTable(t, tuWeights, taxUnits),
			Reform:   mustTable(t, tuWeights, taxUnitsReform),
		},
		Persons: provider.Pair{
			Baseline: mustTable(t, pWeights, persons),
			Reform:   mustTable(t, pWeights, personsReform),
		},
	}
}
