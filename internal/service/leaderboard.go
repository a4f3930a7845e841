package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/ledger"
	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

const leaderboardLockKey = "loyalty:lock:leaderboard"

// BuildLeaderboard строит рейтинг по снимку всех счетов, сохраняет его и публикует в кэш.
// Ошибка публикации в кэш только логируется.
func (s *Service) BuildLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	entries := ledger.RankLeaderboard(accounts, ledger.LeaderboardSize)
	if err := s.repo.SaveLeaderboard(ctx, entries, s.now()); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.PublishLeaderboard(ctx, entries); err != nil {
			s.logger.Warn("failed to publish leaderboard", zap.Error(err))
		}
	}

	return entries, nil
}

// GetLeaderboard возвращает последний построенный рейтинг.
func (s *Service) GetLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	return s.repo.GetLeaderboard(ctx)
}

// StartLeaderboardUpdates запускает фоновую пересборку рейтинга с интервалом interval.
// При наличии кэша пересборку выполняет только экземпляр, захвативший блокировку.
func (s *Service) StartLeaderboardUpdates(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.rebuildLeaderboard(ctx, interval)
			}
		}
	}()
}

func (s *Service) rebuildLeaderboard(ctx context.Context, interval time.Duration) {
	if s.cache != nil {
		release, acquired, err := s.cache.AcquireLock(ctx, leaderboardLockKey, interval)
		if err != nil {
			s.logger.Warn("failed to acquire leaderboard lock", zap.Error(err))
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release leaderboard lock", zap.Error(err))
			}
		}()
	}

	if _, err := s.BuildLeaderboard(ctx); err != nil {
		s.logger.Error("failed to rebuild leaderboard", zap.Error(err))
	}
}
