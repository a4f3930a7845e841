package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/ledger"
	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
)

// CreatePromotion проверяет и сохраняет акцию. Для персональной акции клиент должен существовать.
func (s *Service) CreatePromotion(ctx context.Context, p model.Promotion) (*model.Promotion, error) {
	p.ID = newID()
	p.CreatedAt = s.now()
	p.Price = ledger.Round2(p.Price)
	p.TargetAccountID = strings.ToLower(strings.TrimSpace(p.TargetAccountID))
	if p.Scope == "" {
		p.Scope = model.ScopeGlobal
	}

	if err := ledger.ValidatePromotion(p); err != nil {
		return nil, err
	}

	if p.Scope == model.ScopePersonalized {
		if _, err := s.repo.GetAccount(ctx, p.TargetAccountID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreatePromotion(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("promotion created", zap.String("promotion", p.ID), zap.String("scope", string(p.Scope)))
	return &p, nil
}

// ListPromotions возвращает все акции.
func (s *Service) ListPromotions(ctx context.Context) ([]model.Promotion, error) {
	return s.repo.ListPromotions(ctx)
}

// EligiblePromotions возвращает акции, доступные клиенту сейчас.
// Уже использованные одноразовые акции не попадают в список.
func (s *Service) EligiblePromotions(ctx context.Context, accountID string) ([]model.Promotion, error) {
	acc, err := s.repo.GetAccount(ctx, strings.ToLower(accountID))
	if err != nil {
		return nil, err
	}

	promos, err := s.repo.ListPromotions(ctx)
	if err != nil {
		return nil, err
	}

	claimed, err := s.repo.ClaimedPromotions(ctx, acc.ID)
	if err != nil {
		return nil, err
	}

	return ledger.FilterEligible(promos, *acc, claimed, s.now()), nil
}

// RecommendedPromotions возвращает доступные клиенту акции из его любимой категории.
func (s *Service) RecommendedPromotions(ctx context.Context, accountID string) ([]model.Promotion, error) {
	acc, err := s.repo.GetAccount(ctx, strings.ToLower(accountID))
	if err != nil {
		return nil, err
	}

	eligible, err := s.EligiblePromotions(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	return ledger.Recommend(eligible, *acc), nil
}

// RedeemRequest описывает оплату акции клиентом.
type RedeemRequest struct {
	PromotionID    string
	AccountID      string
	Method         model.PaymentMethod
	ReferenceNo    string
	IdempotencyKey string
}

// RedeemPromotion оплачивает акцию по её цене тем же расчётом, что и заказ.
// Одноразовая акция отмечается использованной в той же единице работы;
// повторная оплата возвращает repository.ErrAlreadyUsed и ничего не меняет.
func (s *Service) RedeemPromotion(ctx context.Context, req RedeemRequest) (*SettlementResult, error) {
	p, err := s.repo.GetPromotion(ctx, req.PromotionID)
	if err != nil {
		return nil, err
	}

	accountID := strings.ToLower(req.AccountID)
	res, err := s.settle(ctx, charge{
		SettleRequest: SettleRequest{
			AccountID:      accountID,
			Amount:         p.Price,
			Method:         req.Method,
			ReferenceNo:    req.ReferenceNo,
			IdempotencyKey: req.IdempotencyKey,
			LineItems: []model.LineItem{{
				Name:      p.Title,
				Category:  p.Category,
				Qty:       1,
				UnitPrice: p.Price,
			}},
		},
		Type:        model.TransactionPromotion,
		PromotionID: p.ID,
		before: func(_ context.Context, acc *model.Account, _ repository.Tx) error {
			if !ledger.IsEligible(*p, *acc, s.now()) {
				return fmt.Errorf("%w: %s", ledger.ErrNotEligible, p.ID)
			}
			return nil
		},
		after: func(ctx context.Context, acc *model.Account, tx repository.Tx, rec model.TransactionRecord) error {
			if p.SingleUse {
				err := tx.ClaimPromotion(ctx, model.PromotionClaim{
					PromotionID:   p.ID,
					AccountID:     acc.ID,
					TransactionID: rec.ID,
					UsedAt:        rec.CreatedAt,
				})
				if err != nil {
					return err
				}
			}
			return tx.Enqueue(ctx, s.newEvent("promotion", "redeemed", p.ID, acc.ID, map[string]any{
				"title": p.Title,
				"price": money(p.Price),
			}))
		},
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		s.logger.Info("promotion redeemed", zap.String("promotion", p.ID), zap.String("account", accountID))
	}
	return res, nil
}

// PromotionTemplate задаёт параметры персональных акций для лучших клиентов.
type PromotionTemplate struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
	ValidFrom   time.Time
	ValidTo     time.Time
}

// AssignTopCustomerPromotions создаёт одноразовую персональную акцию для каждого клиента из рейтинга.
// Если рейтинг ещё не построен, он строится.
func (s *Service) AssignTopCustomerPromotions(ctx context.Context, tpl PromotionTemplate) ([]model.Promotion, error) {
	board, err := s.repo.GetLeaderboard(ctx)
	if err != nil {
		return nil, err
	}
	if len(board) == 0 {
		if board, err = s.BuildLeaderboard(ctx); err != nil {
			return nil, err
		}
	}

	created := make([]model.Promotion, 0, len(board))
	for _, entry := range board {
		p, err := s.CreatePromotion(ctx, model.Promotion{
			Title:           tpl.Title,
			Description:     tpl.Description,
			Price:           tpl.Price,
			ValidFrom:       tpl.ValidFrom,
			ValidTo:         tpl.ValidTo,
			Scope:           model.ScopePersonalized,
			TargetAccountID: entry.AccountID,
			Category:        tpl.Category,
			SingleUse:       true,
		})
		if err != nil {
			return created, fmt.Errorf("assign promotion to %s: %w", entry.AccountID, err)
		}
		created = append(created, *p)
	}

	if len(created) == 0 {
		return created, nil
	}

	err = s.repo.RunInTx(ctx, func(tx repository.Tx) error {
		for _, p := range created {
			ev := s.newEvent("promotion", "assigned", p.ID, p.TargetAccountID, map[string]any{
				"title":    p.Title,
				"price":    money(p.Price),
				"validTo":  p.ValidTo,
				"category": p.Category,
			})
			if err := tx.Enqueue(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return created, err
	}

	s.logger.Info("promotions assigned to top customers", zap.Int("count", len(created)))
	return created, nil
}
