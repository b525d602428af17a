package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyscope/impact-cli/internal/impact"
	"github.com/policyscope/impact-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "impacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testStoreReform() *model.Reform {
	return &model.Reform{
		ID:      "sc-h4216",
		State:   "sc",
		Label:   "Income tax flattening",
		BillURL: "https://www.scstatehouse.gov/billsearch.php?billnumbers=4216",
		Params: model.ReformParams{
			"gov.states.sc.tax.income.rate": {"2026": 0.05},
		},
	}
}

func testRecord(revenue float64) *impact.Record {
	return &impact.Record{
		Computed:        true,
		ComputedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		BudgetaryImpact: &impact.BudgetaryImpact{StateRevenueImpact: revenue, NetCost: revenue, Households: 100},
	}
}

func TestSQLite_SaveReform_And_GetReform(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	reform := testStoreReform()
	require.NoError(t, s.SaveReform(ctx, reform))

	got, err := s.GetReform(ctx, reform.ID)
	require.NoError(t, err)
	assert.Equal(t, reform.ID, got.ID)
	assert.Equal(t, reform.State, got.State)
	assert.Equal(t, reform.BillURL, got.BillURL)
	assert.Equal(t, reform.Params, got.Params)
	assert.False(t, got.Computed)
}

func TestSQLite_GetReform_Missing(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetReform(context.Background(), "missing")
	require.Error(t, err)
}

func TestSQLite_SaveReform_Overwrite(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	reform := testStoreReform()
	require.NoError(t, s.SaveReform(ctx, reform))

	reform.Label = "Income tax flattening (amended)"
	require.NoError(t, s.SaveReform(ctx, reform))

	got, err := s.GetReform(ctx, reform.ID)
	require.NoError(t, err)
	assert.Equal(t, "Income tax flattening (amended)", got.Label)

	reforms, err := s.ListReforms(ctx)
	require.NoError(t, err)
	assert.Len(t, reforms, 1)
}

func TestSQLite_ListReforms_Ordered(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	b := testStoreReform()
	b.ID = "ut-sb60"
	b.State = "ut"
	require.NoError(t, s.SaveReform(ctx, b))
	require.NoError(t, s.SaveReform(ctx, testStoreReform()))

	reforms, err := s.ListReforms(ctx)
	require.NoError(t, err)
	require.Len(t, reforms, 2)
	assert.Equal(t, "sc-h4216", reforms[0].ID)
	assert.Equal(t, "ut-sb60", reforms[1].ID)
}

func TestSQLite_UpsertImpacts_And_GetImpacts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	reform := testStoreReform()
	require.NoError(t, s.SaveReform(ctx, reform))
	require.NoError(t, s.UpsertImpacts(ctx, reform.ID, 2026, testRecord(-100)))
	require.NoError(t, s.UpsertImpacts(ctx, reform.ID, 2027, testRecord(-200)))

	archive, err := s.GetImpacts(ctx, reform.ID)
	require.NoError(t, err)
	require.Len(t, archive, 2)
	assert.Equal(t, -100.0, archive[2026].BudgetaryImpact.StateRevenueImpact)
	assert.Equal(t, -200.0, archive[2027].BudgetaryImpact.StateRevenueImpact)

	// Upserting a reform's impacts marks the reform computed.
	got, err := s.GetReform(ctx, reform.ID)
	require.NoError(t, err)
	assert.True(t, got.Computed)
}

func TestSQLite_UpsertImpacts_ReplacesYear(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	reform := testStoreReform()
	require.NoError(t, s.SaveReform(ctx, reform))
	require.NoError(t, s.UpsertImpacts(ctx, reform.ID, 2026, testRecord(-100)))
	require.NoError(t, s.UpsertImpacts(ctx, reform.ID, 2027, testRecord(-200)))
	require.NoError(t, s.UpsertImpacts(ctx, reform.ID, 2026, testRecord(-150)))

	archive, err := s.GetImpacts(ctx, reform.ID)
	require.NoError(t, err)
	require.Len(t, archive, 2)
	assert.Equal(t, -150.0, archive[2026].BudgetaryImpact.StateRevenueImpact)
	// Other years are untouched by the replacement.
	assert.Equal(t, -200.0, archive[2027].BudgetaryImpact.StateRevenueImpact)
}

func TestSQLite_UpdateDistricts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	reform := testStoreReform()
	require.NoError(t, s.SaveReform(ctx, reform))
	require.NoError(t, s.UpsertImpacts(ctx, reform.ID, 2026, testRecord(-100)))

	districts := map[string]impact.DistrictImpact{
		"SC-1": {DistrictName: "Congressional District 1", AvgBenefit: 779, HouseholdsAffected: 271928},
		"SC-2": {DistrictName: "Congressional District 2", AvgBenefit: -12},
	}
	require.NoError(t, s.UpdateDistricts(ctx, reform.ID, 2026, districts))

	archive, err := s.GetImpacts(ctx, reform.ID)
	require.NoError(t, err)
	rec := archive[2026]
	require.NotNil(t, rec)
	assert.Equal(t, districts, rec.DistrictImpacts)
	// The rest of the record survives the district refresh.
	assert.Equal(t, -100.0, rec.BudgetaryImpact.StateRevenueImpact)

	d, err := s.GetDistrictImpact(ctx, reform.ID, 2026, "SC-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 779.0, d.AvgBenefit)
	assert.Equal(t, 271928.0, d.HouseholdsAffected)
}

func TestSQLite_UpdateDistricts_MissingRecord(t *testing.T) {
	s := newTestSQLite(t)

	err := s.UpdateDistricts(context.Background(), "unknown", 2026, map[string]impact.DistrictImpact{
		"SC-1": {DistrictName: "Congressional District 1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "impact record not found")
}

func TestSQLite_GetDistrictImpact_Missing(t *testing.T) {
	s := newTestSQLite(t)

	d, err := s.GetDistrictImpact(context.Background(), "sc-h4216", 2026, "SC-9")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSQLite_CreateRun_And_FinishRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "sc-h4216", 2026)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.StatusComputing, run.Status)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, s.FinishRun(ctx, run.ID, model.StatusFailed, "simulation timed out"))

	runs, err := s.ListRuns(ctx, RunFilter{ReformID: "sc-h4216"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.StatusFailed, runs[0].Status)
	assert.Equal(t, "simulation timed out", runs[0].Error)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestSQLite_FinishRun_Missing(t *testing.T) {
	s := newTestSQLite(t)

	err := s.FinishRun(context.Background(), "missing-run", model.StatusComputed, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_ListRuns_FilterByStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.CreateRun(ctx, "sc-h4216", 2026)
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "ut-sb60", 2026)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, a.ID, model.StatusComputed, ""))

	computed, err := s.ListRuns(ctx, RunFilter{Status: model.StatusComputed})
	require.NoError(t, err)
	require.Len(t, computed, 1)
	assert.Equal(t, "sc-h4216", computed[0].ReformID)

	computing, err := s.ListRuns(ctx, RunFilter{Status: model.StatusComputing})
	require.NoError(t, err)
	require.Len(t, computing, 1)
	assert.Equal(t, "ut-sb60", computing[0].ReformID)
}

func TestSQLite_ListRuns_Limit(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.CreateRun(ctx, "sc-h4216", 2026+i)
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, RunFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}
