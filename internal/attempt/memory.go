package attempt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps attempts in process. Stored values are deep copies.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
	Saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, a *Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt %s: %w", a.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = data
	m.Saves++
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Attempt, error) {
	m.mu.Lock()
	data, ok := m.items[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var a Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode attempt %s: %w", id, err)
	}
	return &a, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Attempt, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]*Attempt, 0, len(ids))
	for _, id := range ids {
		a, err := m.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
