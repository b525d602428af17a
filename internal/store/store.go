// Package store persists reforms, their computed impact records, and the
// audit trail of computation runs. Postgres backs production; SQLite backs
// local single-user use.
package store

import (
	"context"

	"github.com/policyscope/impact-cli/internal/impact"
	"github.com/policyscope/impact-cli/internal/model"
)

// RunFilter specifies criteria for listing compute runs.
type RunFilter struct {
	ReformID string              `json:"reform_id,omitempty"`
	Status   model.ComputeStatus `json:"status,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Offset   int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the impact pipeline.
type Store interface {
	// Reforms
	SaveReform(ctx context.Context, reform *model.Reform) error
	GetReform(ctx context.Context, id string) (*model.Reform, error)
	ListReforms(ctx context.Context) ([]model.Reform, error)

	// Impact records
	UpsertImpacts(ctx context.Context, reformID string, year int, rec *impact.Record) error
	UpdateDistricts(ctx context.Context, reformID string, year int, districts map[string]impact.DistrictImpact) error
	GetImpacts(ctx context.Context, reformID string) (impact.Archive, error)
	GetDistrictImpact(ctx context.Context, reformID string, year int, districtID string) (*impact.DistrictImpact, error)

	// Compute runs
	CreateRun(ctx context.Context, reformID string, year int) (*model.ComputeRun, error)
	FinishRun(ctx context.Context, runID string, status model.ComputeStatus, message string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ComputeRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
