package services

import (
	"context"
	"fmt"

	"callnet/internal/core/domain"
	"callnet/internal/core/ports"
	"callnet/pkg/utils"

	"go.uber.org/zap"
)

const DefaultHistoryLimit = 50

type HistoryService interface {
	Recent(ctx context.Context, user domain.UserID, limit int) ([]domain.HistoryEntry, error)
}

type historyService struct {
	calls     ports.CallRepository
	favorites ports.FavoriteRepository
	limit     int
	logger    *zap.SugaredLogger
}

// NewHistoryService builds the recent-calls view. A limit <= 0 uses DefaultHistoryLimit.
func NewHistoryService(calls ports.CallRepository, favorites ports.FavoriteRepository, limit int, logger *zap.SugaredLogger) HistoryService {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &historyService{
		calls:     calls,
		favorites: favorites,
		limit:     limit,
		logger:    logger,
	}
}

// Recent returns the user's calls newest first, each with its display name and duration text.
func (s *historyService) Recent(ctx context.Context, user domain.UserID, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	calls, err := s.calls.ListByUser(ctx, user, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}

	favs, err := s.favorites.List(ctx, user)
	if err != nil {
		// history stays usable without the favorite flags
		s.logger.Warnw("failed to load favorites for history", "user_id", user, "error", err)
	}
	starred := make(map[domain.CallID]bool, len(favs))
	for _, f := range favs {
		starred[f.Call.ID] = true
	}

	entries := make([]domain.HistoryEntry, 0, len(calls))
	for _, call := range calls {
		entries = append(entries, domain.HistoryEntry{
			Call:        *call,
			DisplayName: call.DisplayName(user),
			Duration:    utils.FormatCallDuration(call.Duration),
			Favorite:    starred[call.ID],
		})
	}
	return entries, nil
}
