// Package store persists distillation runs and the knowledge-pattern cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// defaultListLimit caps ListRuns when no limit is given.
const defaultListLimit = 100

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	DataType     model.DataType  `json:"data_type,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for distillation runs.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Pattern cache. GetPatterns returns nil without error on a miss.
	// SetPatterns replaces any entry under the same key.
	GetPatterns(ctx context.Context, cacheKey string) ([]model.KnowledgePattern, error)
	SetPatterns(ctx context.Context, cacheKey string, dataType model.DataType, patterns []model.KnowledgePattern) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func validateRun(run *model.Run) error {
	if run == nil {
		return eris.New("store: nil run")
	}
	if run.ID == "" {
		return eris.New("store: run id is required")
	}
	return nil
}
