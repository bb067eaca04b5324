package model

import "time"

// RunKind names the command that produced a ledger entry.
type RunKind string

const (
	RunKindReconcile RunKind = "reconcile"
	RunKindReset     RunKind = "reset"
	RunKindTiers     RunKind = "tiers"
)

// RunStatus represents the current state of a ledger entry.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one command invocation recorded in the run ledger.
type Run struct {
	ID         string     `json:"id"`
	Kind       RunKind    `json:"kind"`
	Input      string     `json:"input"`
	Status     RunStatus  `json:"status"`
	Policies   int        `json:"policies"`
	Alerts     int        `json:"alerts"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
