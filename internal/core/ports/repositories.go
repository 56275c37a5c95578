package ports

import (
	"context"

	"callnet/internal/core/domain"
)

// CallRepository is the call document store.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error)
	// UpdateFields applies a partial update keyed by the call's JSON field names.
	UpdateFields(ctx context.Context, id domain.CallID, fields map[string]interface{}) error
	Delete(ctx context.Context, id domain.CallID) error
	// ListByUser returns calls involving user, newest first, at most limit entries.
	ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error)
}

// FavoriteRepository stores per-user favorite calls.
type FavoriteRepository interface {
	Add(ctx context.Context, fav *domain.Favorite) error
	Remove(ctx context.Context, user domain.UserID, id domain.CallID) error
	Exists(ctx context.Context, user domain.UserID, id domain.CallID) (bool, error)
	List(ctx context.Context, user domain.UserID) ([]*domain.Favorite, error)
}
