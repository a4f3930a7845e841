package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
)

// errUnchanged прерывает мутацию счёта, показатели которого не изменились.
var errUnchanged = errors.New("engagement unchanged")

// RecomputeEngagement пересчитывает показатели активности всех клиентов по их журналам.
// Операция идемпотентна; клиенты без посещений сегодня становятся Inactive.
// Возвращает количество изменённых счетов.
func (s *Service) RecomputeEngagement(ctx context.Context) (int, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		_, err := s.repo.MutateAccount(ctx, a.ID, func(acc *model.Account, tx repository.Tx) error {
			before := *acc
			if err := s.refreshEngagement(ctx, acc, tx); err != nil {
				return err
			}
			if sameEngagement(before, *acc) {
				return errUnchanged
			}
			return tx.Enqueue(ctx, s.accountEvent(acc, "updated"))
		})
		switch {
		case err == nil:
			updated++
		case errors.Is(err, errUnchanged):
		default:
			s.logger.Warn("failed to recompute engagement", zap.String("account", a.ID), zap.Error(err))
		}
	}

	return updated, nil
}

func sameEngagement(a, b model.Account) bool {
	sameVisit := (a.LastVisitDate == nil && b.LastVisitDate == nil) ||
		(a.LastVisitDate != nil && b.LastVisitDate != nil && a.LastVisitDate.Equal(*b.LastVisitDate))

	return sameVisit &&
		a.TotalTransactions == b.TotalTransactions &&
		a.TotalVisits == b.TotalVisits &&
		a.Status == b.Status &&
		a.FavoriteCategory == b.FavoriteCategory
}

// StartEngagementUpdates запускает периодический пересчёт активности клиентов.
func (s *Service) StartEngagementUpdates(ctx context.Context, interval time.Duration) {
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
				n, err := s.RecomputeEngagement(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("engagement recompute failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("engagement recomputed", zap.Int("accounts", n))
				}
			}
		}
	}()
}
