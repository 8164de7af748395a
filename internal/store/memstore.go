package store

import (
	"errors"
	"sort"
	"sync"
)

// MemStore is the in-memory Store used by tests and by runs that skip
// persistence.
type MemStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	seq  int
	// order preserves insertion for runs sharing a created_at second.
	order map[string]int
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{runs: map[string]*Run{}, order: map[string]int{}}
}

func (m *MemStore) SaveRun(run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run is nil or has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	if cp.CreatedAt == "" {
		cp.CreatedAt = nowUTC()
	}
	if _, seen := m.runs[cp.ID]; !seen {
		m.seq++
		m.order[cp.ID] = m.seq
	}
	m.runs[cp.ID] = &cp
	return nil
}

func (m *MemStore) GetRun(id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *MemStore) ListRuns(limit int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		cp := *run
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt > list[j].CreatedAt
		}
		return m.order[list[i].ID] > m.order[list[j].ID]
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemStore) Close() error { return nil }
