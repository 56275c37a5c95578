package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisFavoriteRepository struct {
	client *redis.Client
}

func NewRedisFavoriteRepository(client *redis.Client) ports.FavoriteRepository {
	return &RedisFavoriteRepository{client: client}
}

func favoritesKey(user domain.UserID) string {
	return keyPrefix + "user:" + string(user) + ":favorites"
}

func (r *RedisFavoriteRepository) Add(ctx context.Context, fav *domain.Favorite) error {
	data, err := json.Marshal(fav)
	if err != nil {
		return fmt.Errorf("failed to marshal favorite: %w", err)
	}
	if err := r.client.HSet(ctx, favoritesKey(fav.UserID), string(fav.Call.ID), data).Err(); err != nil {
		return fmt.Errorf("failed to store favorite: %w", err)
	}
	return nil
}

func (r *RedisFavoriteRepository) Remove(ctx context.Context, user domain.UserID, id domain.CallID) error {
	n, err := r.client.HDel(ctx, favoritesKey(user), string(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	if n == 0 {
		return domain.ErrFavoriteNotFound
	}
	return nil
}

func (r *RedisFavoriteRepository) Exists(ctx context.Context, user domain.UserID, id domain.CallID) (bool, error) {
	ok, err := r.client.HExists(ctx, favoritesKey(user), string(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return ok, nil
}

func (r *RedisFavoriteRepository) List(ctx context.Context, user domain.UserID) ([]*domain.Favorite, error) {
	entries, err := r.client.HGetAll(ctx, favoritesKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}

	favs := make([]*domain.Favorite, 0, len(entries))
	for _, raw := range entries {
		var f domain.Favorite
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal favorite: %w", err)
		}
		favs = append(favs, &f)
	}
	sort.Slice(favs, func(i, j int) bool {
		return favs[i].AddedAt.After(favs[j].AddedAt)
	})
	return favs, nil
}
