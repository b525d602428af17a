package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyscope/impact-cli/internal/impact"
	"github.com/policyscope/impact-cli/internal/model"
)

func serveTestStore(t *testing.T) *fakeStore {
	t.Helper()
	st := newFakeStore()

	require.NoError(t, st.SaveReform(context.Background(), testReform("sc-h4216")))

	rec := &impact.Record{
		Computed:        true,
		BudgetaryImpact: &impact.BudgetaryImpact{StateRevenueImpact: -70000, NetCost: -70000, Households: 300},
		DistrictImpacts: map[string]impact.DistrictImpact{
			"SC-01": {DistrictName: "1st District", AvgBenefit: 500, HouseholdsAffected: 100, TotalBenefit: 50000},
		},
	}
	require.NoError(t, st.UpsertImpacts(context.Background(), "sc-h4216", 2026, rec))
	return st
}

func doRequest(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	rr := doRequest(t, newRouter(newFakeStore()), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_ListReforms(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms")

	assert.Equal(t, http.StatusOK, rr.Code)

	var reforms []model.Reform
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reforms))
	require.Len(t, reforms, 1)
	assert.Equal(t, "sc-h4216", reforms[0].ID)
	assert.True(t, reforms[0].Computed)
}

func TestRouter_GetReform(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms/sc-h4216")

	assert.Equal(t, http.StatusOK, rr.Code)

	var reform model.Reform
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reform))
	assert.Equal(t, "SC", reform.State)
}

func TestRouter_GetReform_NotFound(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "error")
}

func TestRouter_GetImpacts(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms/sc-h4216/impacts")

	assert.Equal(t, http.StatusOK, rr.Code)

	var archive map[string]*impact.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &archive))
	require.Contains(t, archive, "2026")
	assert.InDelta(t, -70000, archive["2026"].BudgetaryImpact.StateRevenueImpact, 0.01)
}

func TestRouter_GetImpacts_NotFound(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms/nope/impacts")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_GetDistrict(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms/sc-h4216/impacts/2026/districts/SC-01")

	assert.Equal(t, http.StatusOK, rr.Code)

	var d impact.DistrictImpact
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.Equal(t, "1st District", d.DistrictName)
	assert.Equal(t, 500.0, d.AvgBenefit)
}

func TestRouter_GetDistrict_NotFound(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms/sc-h4216/impacts/2026/districts/SC-09")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_GetDistrict_BadYear(t *testing.T) {
	rr := doRequest(t, newRouter(serveTestStore(t)), "/reforms/sc-h4216/impacts/latest/districts/SC-01")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "year must be an integer")
}
