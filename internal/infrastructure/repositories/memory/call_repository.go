package memory

import (
	"context"
	"sort"
	"sync"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
)

type MemoryCallRepository struct {
	calls map[domain.CallID]*domain.Call
	mu    sync.RWMutex
}

func NewMemoryCallRepository() ports.CallRepository {
	return &MemoryCallRepository{
		calls: make(map[domain.CallID]*domain.Call),
	}
}

func (r *MemoryCallRepository) Create(ctx context.Context, call *domain.Call) error {
	if err := call.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.ID]; exists {
		return domain.ErrCallExists
	}
	stored := *call
	r.calls[call.ID] = &stored
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}
	out := *call
	return &out, nil
}

func (r *MemoryCallRepository) UpdateFields(ctx context.Context, id domain.CallID, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, exists := r.calls[id]
	if !exists {
		return domain.ErrCallNotFound
	}
	updated, err := domain.ApplyFields(call, fields)
	if err != nil {
		return err
	}
	r.calls[id] = updated
	return nil
}

func (r *MemoryCallRepository) Delete(ctx context.Context, id domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[id]; !exists {
		return domain.ErrCallNotFound
	}
	delete(r.calls, id)
	return nil
}

func (r *MemoryCallRepository) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var calls []*domain.Call
	for _, call := range r.calls {
		if call.Involves(user) {
			c := *call
			calls = append(calls, &c)
		}
	}

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].Timestamp.After(calls[j].Timestamp)
	})
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}
