package runs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps runs in process memory. Used when no database is
// configured; contents are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Run
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Run), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.runs[run.ID] = *run
	return nil
}

func (m *MemoryStore) Update(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	run.CreatedAt = stored.CreatedAt
	run.UpdatedAt = m.now().UTC()
	updated := *run
	updated.AnalyzerState = stored.AnalyzerState
	m.runs[run.ID] = updated
	return nil
}

func (m *MemoryStore) SetAnalyzerState(_ context.Context, analyzerID string, state AnalyzerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.runs {
		if r.AnalyzerID == analyzerID {
			r.AnalyzerState = state
			r.UpdatedAt = m.now().UTC()
			m.runs[id] = r
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Leaked(_ context.Context, cutoff time.Time) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Run
	for _, r := range m.runs {
		if r.AnalyzerState.Leaked() && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
