package memory

import (
	"context"
	"sort"
	"sync"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
)

type MemoryFavoriteRepository struct {
	favorites map[domain.UserID]map[domain.CallID]*domain.Favorite
	mu        sync.RWMutex
}

func NewMemoryFavoriteRepository() ports.FavoriteRepository {
	return &MemoryFavoriteRepository{
		favorites: make(map[domain.UserID]map[domain.CallID]*domain.Favorite),
	}
}

func (r *MemoryFavoriteRepository) Add(ctx context.Context, fav *domain.Favorite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byCall, ok := r.favorites[fav.UserID]
	if !ok {
		byCall = make(map[domain.CallID]*domain.Favorite)
		r.favorites[fav.UserID] = byCall
	}
	stored := *fav
	byCall[fav.Call.ID] = &stored
	return nil
}

func (r *MemoryFavoriteRepository) Remove(ctx context.Context, user domain.UserID, id domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.favorites[user][id]; !ok {
		return domain.ErrFavoriteNotFound
	}
	delete(r.favorites[user], id)
	return nil
}

func (r *MemoryFavoriteRepository) Exists(ctx context.Context, user domain.UserID, id domain.CallID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.favorites[user][id]
	return ok, nil
}

func (r *MemoryFavoriteRepository) List(ctx context.Context, user domain.UserID) ([]*domain.Favorite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	favs := make([]*domain.Favorite, 0, len(r.favorites[user]))
	for _, f := range r.favorites[user] {
		c := *f
		favs = append(favs, &c)
	}
	sort.Slice(favs, func(i, j int) bool {
		return favs[i].AddedAt.After(favs[j].AddedAt)
	})
	return favs, nil
}
