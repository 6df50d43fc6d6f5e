package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps task records in process memory with the same conditional
// semantics as PostgresStore. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]Item
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Item)}
}

// WriteCount returns the number of successful PutItem/UpdateItem calls.
func (s *MemoryStore) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryStore) GetItem(ctx context.Context, taskID string, fields ...string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out, err := normalize(item)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return out, nil
	}

	projected := make(Item, len(fields))
	for _, f := range fields {
		if v, ok := out[f]; ok {
			projected[f] = v
		}
	}
	return projected, nil
}

func (s *MemoryStore) PutItem(ctx context.Context, item Item, cond Condition) error {
	taskID, err := stringAttr(item, AttrTaskID)
	if err != nil {
		return err
	}
	stored, err := normalize(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[taskID]
	if cond.MustNotExist && exists {
		return ErrConditionFailed
	}
	if cond.constrained() && (!exists || !cond.matches(existing)) {
		return ErrConditionFailed
	}

	s.items[taskID] = stored
	s.writes++
	return nil
}

func (s *MemoryStore) UpdateItem(ctx context.Context, taskID string, patch Item, cond Condition) (Item, error) {
	normalized, err := normalize(patch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if !cond.matches(existing) {
		return nil, ErrConditionFailed
	}

	merged := make(Item, len(existing)+len(patch))
	for k, v := range existing {
		merged[k] = v
	}
	for k := range patch {
		if normalized[k] == nil {
			delete(merged, k)
			continue
		}
		merged[k] = normalized[k]
	}

	s.items[taskID] = merged
	s.writes++
	return normalize(merged)
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, item := range s.items {
		ttl, err := intAttr(item, AttrTTL)
		if err != nil {
			continue
		}
		if ttl > 0 && ttl < now.Unix() {
			delete(s.items, id)
			purged++
		}
	}
	return purged, nil
}
