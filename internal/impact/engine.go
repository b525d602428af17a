package impact

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/policyscope/impact-cli/internal/geo"
	"github.com/policyscope/impact-cli/internal/model"
	"github.com/policyscope/impact-cli/internal/provider"
)

// Engine runs the full aggregation pipeline for one reform at a time. It is
// stateless between invocations: each ComputeReform call is a single pass
// over in-memory arrays.
type Engine struct {
	provider provider.Provider
	now      func() time.Time
}

// NewEngine creates an engine over the given simulation provider.
func NewEngine(p provider.Provider) *Engine {
	return &Engine{provider: p, now: time.Now}
}

// ComputeReform fetches the microdata bundle for the reform's state and runs
// every calculator, returning the assembled record. Any calculator error
// propagates: partial results are never marked computed.
func (e *Engine) ComputeReform(ctx context.Context, reform *model.Reform, year int) (*Record, error) {
	st, err := geo.Lookup(reform.State)
	if err != nil {
		return nil, eris.Wrapf(err, "impact: reform %s", reform.ID)
	}

	bundle, err := e.provider.Microdata(ctx, st.Code, year, reform.Params)
	if err != nil {
		return nil, eris.Wrapf(err, "impact: reform %s: fetch microdata", reform.ID)
	}
	if err := bundle.Validate(); err != nil {
		return nil, eris.Wrapf(err, "impact: reform %s", reform.ID)
	}

	rec, err := e.assemble(ctx, bundle, st)
	if err != nil {
		return nil, eris.Wrapf(err, "impact: reform %s", reform.ID)
	}

	zap.L().Info("impact: reform computed",
		zap.String("reform_id", reform.ID),
		zap.String("state", st.Code),
		zap.Int("year", year),
		zap.Float64("revenue_impact", rec.BudgetaryImpact.StateRevenueImpact),
		zap.Int("districts", len(rec.DistrictImpacts)),
	)
	return rec, nil
}

// ComputeDistricts recomputes only the district breakdown, for refreshing
// district data on an already-computed reform.
func (e *Engine) ComputeDistricts(ctx context.Context, reform *model.Reform, year int) (map[string]DistrictImpact, error) {
	st, err := geo.Lookup(reform.State)
	if err != nil {
		return nil, eris.Wrapf(err, "impact: reform %s", reform.ID)
	}
	bundle, err := e.provider.Microdata(ctx, st.Code, year, reform.Params)
	if err != nil {
		return nil, eris.Wrapf(err, "impact: reform %s: fetch microdata", reform.ID)
	}
	if err := bundle.Validate(); err != nil {
		return nil, eris.Wrapf(err, "impact: reform %s", reform.ID)
	}
	return Districts(ctx, bundle, st)
}

// assemble runs the state-wide calculators concurrently (they share no data
// dependency), then the district partitioner, and merges the outputs.
func (e *Engine) assemble(ctx context.Context, bundle *provider.Bundle, st geo.State) (*Record, error) {
	rec := &Record{}

	var g errgroup.Group
	g.Go(func() error {
		out, err := Budgetary(bundle)
		rec.BudgetaryImpact = out
		return err
	})
	g.Go(func() error {
		out, err := Poverty(bundle.Persons, false)
		rec.PovertyImpact = out
		return err
	})
	g.Go(func() error {
		out, err := Poverty(bundle.Persons, true)
		rec.ChildPovertyImpact = out
		return err
	})
	g.Go(func() error {
		out, err := Decile(bundle.Households)
		rec.DecileImpact = out
		return err
	})
	g.Go(func() error {
		out, err := WinnersLosers(bundle.Households)
		rec.WinnersLosers = out
		return err
	})
	g.Go(func() error {
		out, err := Inequality(bundle.Households)
		rec.Inequality = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	districts, err := Districts(ctx, bundle, st)
	if err != nil {
		return nil, err
	}
	rec.DistrictImpacts = districts

	rec.PolicyID = bundle.PolicyID
	rec.Computed = true
	rec.ComputedAt = e.now().UTC()
	return rec, nil
}
