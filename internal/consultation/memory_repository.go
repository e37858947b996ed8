package consultation

import (
	"context"
	"sort"
	"sync"
)

type memoryRepo struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewMemoryRepository keeps snapshots in process memory.
func NewMemoryRepository() Repository {
	return &memoryRepo{snapshots: make(map[string]Snapshot)}
}

func (r *memoryRepo) Save(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.ID] = s
	return nil
}

func (r *memoryRepo) Load(_ context.Context, id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) List(_ context.Context, limit int) ([]Snapshot, error) {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
