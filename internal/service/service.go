// Package service реализует бизнес-логику сервиса лояльности: расчёты по заказам и акциям,
// заявки на пополнение, ручные корректировки, рейтинг и пересчёт активности клиентов.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateAccount(ctx context.Context, acc model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	MutateAccount(ctx context.Context, id string, fn repository.MutateFunc) (*model.Account, error)
	RunInTx(ctx context.Context, fn func(tx repository.Tx) error) error

	FindRecordByKey(ctx context.Context, key string) (*model.TransactionRecord, error)
	ListTransactions(ctx context.Context, limit int) ([]model.TransactionRecord, error)
	ListAccountTransactions(ctx context.Context, accountID string) ([]model.TransactionRecord, error)

	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	CreatePromotion(ctx context.Context, p model.Promotion) error
	GetPromotion(ctx context.Context, id string) (*model.Promotion, error)
	ListPromotions(ctx context.Context) ([]model.Promotion, error)
	ClaimedPromotions(ctx context.Context, accountID string) (map[string]bool, error)

	CreateTopUp(ctx context.Context, req model.TopUpRequest) error
	GetTopUp(ctx context.Context, id string) (*model.TopUpRequest, error)
	ListTopUps(ctx context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error)
	TopUpStats(ctx context.Context) (*model.TopUpStats, error)

	SaveLeaderboard(ctx context.Context, entries []model.LeaderboardEntry, builtAt time.Time) error
	GetLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error)
}

// LeaderboardCache публикует рейтинг во внешний кэш и даёт блокировку для фоновой пересборки.
type LeaderboardCache interface {
	PublishLeaderboard(ctx context.Context, entries []model.LeaderboardEntry) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Service содержит бизнес-логику сервиса лояльности.
type Service struct {
	repo   Repository
	cache  LeaderboardCache
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт сервис с указанным репозиторием. cache может быть nil.
func NewService(repo Repository, cache LeaderboardCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func (s *Service) newEvent(entity, action, entityID, accountID string, payload map[string]any) model.Event {
	return model.Event{
		ID:        newID(),
		Entity:    entity,
		Action:    action,
		EntityID:  entityID,
		AccountID: accountID,
		Payload:   payload,
		CreatedAt: s.now(),
	}
}

func (s *Service) accountEvent(acc *model.Account, action string) model.Event {
	return s.newEvent("account", action, acc.ID, acc.ID, map[string]any{
		"pointsBalance": acc.PointsBalance.StringFixed(2),
		"walletBalance": acc.WalletBalance.StringFixed(2),
		"tier":          string(acc.Tier),
		"status":        string(acc.Status),
	})
}

func strPtr(s string) *string {
	return &s
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
