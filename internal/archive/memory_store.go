package archive

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps calls in process memory. Used when DATABASE_URL is unset.
type MemoryStore struct {
	mu    sync.RWMutex
	calls []*Call // newest first
	byID  map[string]*Call
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Call)}
}

func (m *MemoryStore) Save(_ context.Context, call *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := clone(call)
	if old, ok := m.byID[c.ID]; ok {
		m.calls = slices.DeleteFunc(m.calls, func(x *Call) bool { return x == old })
	}
	m.byID[c.ID] = c

	i := sort.Search(len(m.calls), func(i int) bool {
		return (&position{createdAt: c.CreatedAt, id: c.ID}).before(m.calls[i])
	})
	m.calls = slices.Insert(m.calls, i, c)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Call, string, error) {
	pos, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := opts.limit()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Call, 0, limit+1)
	for _, c := range m.calls {
		if !pos.before(c) {
			continue
		}
		if opts.ScamOnly && !c.ScamDetected {
			continue
		}
		out = append(out, clone(c))
		if len(out) > limit {
			break
		}
	}
	calls, next := page(out, limit)
	return calls, next, nil
}

func clone(c *Call) *Call {
	cp := *c
	cp.Speakers = maps.Clone(c.Speakers)
	cp.Keywords = slices.Clone(c.Keywords)
	return &cp
}
