package services

import (
	"context"
	"errors"
	"fmt"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/pkg/utils"

	"go.uber.org/zap"
)

// FavoritesService manages bookmarked calls. Favorites never affect the call itself.
type FavoritesService interface {
	Add(ctx context.Context, user domain.UserID, id domain.CallID) (*domain.Favorite, error)
	Remove(ctx context.Context, user domain.UserID, id domain.CallID) error
	List(ctx context.Context, user domain.UserID) ([]*domain.Favorite, error)
	IsFavorite(ctx context.Context, user domain.UserID, id domain.CallID) (bool, error)
}

type favoritesService struct {
	calls     ports.CallRepository
	favorites ports.FavoriteRepository
	logger    *zap.SugaredLogger
}

func NewFavoritesService(calls ports.CallRepository, favorites ports.FavoriteRepository, logger *zap.SugaredLogger) FavoritesService {
	return &favoritesService{
		calls:     calls,
		favorites: favorites,
		logger:    logger,
	}
}

func (s *favoritesService) Add(ctx context.Context, user domain.UserID, id domain.CallID) (*domain.Favorite, error) {
	call, err := s.calls.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !call.Involves(user) {
		return nil, domain.ErrCallNotFound
	}

	fav := &domain.Favorite{
		UserID:  user,
		Call:    *call,
		AddedAt: utils.Now().UTC(),
	}
	if err := s.favorites.Add(ctx, fav); err != nil {
		return nil, fmt.Errorf("add favorite: %w", err)
	}

	s.logger.Infow("call added to favorites", "user_id", user, "call_id", id)
	return fav, nil
}

// Remove deletes a favorite. Removing a call that is not a favorite is not an error.
func (s *favoritesService) Remove(ctx context.Context, user domain.UserID, id domain.CallID) error {
	err := s.favorites.Remove(ctx, user, id)
	if err != nil && !errors.Is(err, domain.ErrFavoriteNotFound) {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *favoritesService) List(ctx context.Context, user domain.UserID) ([]*domain.Favorite, error) {
	return s.favorites.List(ctx, user)
}

func (s *favoritesService) IsFavorite(ctx context.Context, user domain.UserID, id domain.CallID) (bool, error) {
	return s.favorites.Exists(ctx, user, id)
}
