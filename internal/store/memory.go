package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/model"
)

// MemoryStore keeps runs and patterns in process memory. Readers get
// copies; responses are shared since runs are never mutated after saving.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]model.Run
	patterns map[string][]model.KnowledgePattern
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]model.Run),
		patterns: make(map[string][]model.KnowledgePattern),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveRun(_ context.Context, run *model.Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: get run %s", runID)
	}
	return &r, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]model.Run, error) {
	s.mu.RLock()
	var runs []model.Run
	for _, r := range s.runs {
		if filter.DataType != "" && r.Request.DataType != filter.DataType {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.CreatedAfter.IsZero() && !r.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if filter.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[filter.Offset:]
	if limit := filter.limit(); len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) GetPatterns(_ context.Context, cacheKey string) ([]model.KnowledgePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[cacheKey]
	if !ok {
		return nil, nil
	}
	return append([]model.KnowledgePattern(nil), p...), nil
}

func (s *MemoryStore) SetPatterns(_ context.Context, cacheKey string, _ model.DataType, patterns []model.KnowledgePattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[cacheKey] = append([]model.KnowledgePattern(nil), patterns...)
	return nil
}
