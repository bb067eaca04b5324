// Package store keeps the run ledger: one row per command invocation, used to
// refuse overlapping reconciliation runs and to list history.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marx-cli/internal/model"
)

// ErrRunInProgress is returned by BeginRun when a run of the same kind is
// still marked running.
var ErrRunInProgress = eris.New("store: run already in progress")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the run ledger.
type Store interface {
	// BeginRun records a new running entry. Unless force is set it fails
	// with ErrRunInProgress while another run of kind is running.
	BeginRun(ctx context.Context, kind model.RunKind, input string, force bool) (*model.Run, error)
	// FinishRun marks a run complete, or failed when runErr is non-nil.
	FinishRun(ctx context.Context, runID string, policies, alerts int, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}
