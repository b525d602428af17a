// Package model defines reforms, reform parameter trees, and compute-run
// status types shared across the CLI.
package model

import (
	"time"
)

// ComputeStatus tracks one reform's computation through the pipeline.
type ComputeStatus string

const (
	StatusComputing ComputeStatus = "computing"
	StatusComputed  ComputeStatus = "computed"
	StatusFailed    ComputeStatus = "failed"
	StatusSkipped   ComputeStatus = "skipped"
)

// Reform is one tracked bill with an encoded parameter reform.
type Reform struct {
	ID          string       `json:"id" yaml:"id"`
	State       string       `json:"state" yaml:"state"`
	Label       string       `json:"label" yaml:"label"`
	Description string       `json:"description,omitempty" yaml:"description"`
	BillURL     string       `json:"bill_url,omitempty" yaml:"bill_url"`
	Params      ReformParams `json:"params" yaml:"params"`
	Computed    bool         `json:"computed" yaml:"-"`
}

// ComputeRun is the audit record of one per-reform computation attempt.
type ComputeRun struct {
	ID         string        `json:"id"`
	ReformID   string        `json:"reform_id"`
	Year       int           `json:"year"`
	Status     ComputeStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
