package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/ledger"
	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
)

// SettleRequest описывает списание со счёта клиента.
type SettleRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	Method         model.PaymentMethod
	ReferenceNo    string
	IdempotencyKey string
	LineItems      []model.LineItem
}

// SettlementResult содержит итог расчёта и состояние счёта после него.
type SettlementResult struct {
	ledger.Settlement
	TransactionID string         `json:"transactionId"`
	Account       *model.Account `json:"account,omitempty"`
	Replayed      bool           `json:"replayed"`
}

// charge описывает списание, общее для заказов, акций и прямых расчётов.
type charge struct {
	SettleRequest
	Type        model.TransactionType
	OrderID     string
	PromotionID string
	// before выполняется в той же единице работы до расчёта; ошибка отменяет списание.
	before func(ctx context.Context, acc *model.Account, tx repository.Tx) error
	// after получает созданную запись журнала.
	after func(ctx context.Context, acc *model.Account, tx repository.Tx, rec model.TransactionRecord) error
}

// SettleCharge списывает сумму со счёта: сначала баллами, остаток выбранным способом,
// начисляет баллы, пересчитывает уровень и активность и пишет запись журнала атомарно.
// Повтор с тем же ключом идемпотентности возвращает исходный результат без повторного списания.
func (s *Service) SettleCharge(ctx context.Context, req SettleRequest) (*SettlementResult, error) {
	return s.settle(ctx, charge{SettleRequest: req, Type: model.TransactionOrder})
}

func (s *Service) settle(ctx context.Context, c charge) (*SettlementResult, error) {
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = newID()
	}

	if res, err := s.replay(ctx, c); res != nil || err != nil {
		return res, err
	}

	var result *SettlementResult
	acc, err := s.repo.MutateAccount(ctx, c.AccountID, func(acc *model.Account, tx repository.Tx) error {
		res, err := s.settleInTx(ctx, acc, tx, c)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			if res, rerr := s.replay(ctx, c); res != nil || rerr != nil {
				return res, rerr
			}
		}
		return nil, err
	}

	result.Account = acc
	s.logger.Debug("charge settled")
	return result, nil
}

// replay возвращает ранее зафиксированный результат для ключа идемпотентности либо nil.
func (s *Service) replay(ctx context.Context, c charge) (*SettlementResult, error) {
	rec, err := s.findReplay(ctx, c.IdempotencyKey, c.AccountID, c.Type)
	if err != nil || rec == nil {
		return nil, err
	}

	acc, err := s.repo.GetAccount(ctx, c.AccountID)
	if err != nil {
		return nil, err
	}

	return &SettlementResult{
		Settlement:    ledger.SettlementFromRecord(*rec),
		TransactionID: rec.ID,
		Account:       acc,
		Replayed:      true,
	}, nil
}

// findReplay ищет запись журнала по ключу идемпотентности.
// Ключ, уже использованный для другого счёта или другого вида операции, считается конфликтом.
func (s *Service) findReplay(ctx context.Context, key, accountID string, typ model.TransactionType) (*model.TransactionRecord, error) {
	rec, err := s.repo.FindRecordByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction by key: %w", err)
	}

	if rec.AccountID == nil || *rec.AccountID != accountID || rec.Type != typ {
		return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateIdempotencyKey, key)
	}
	return rec, nil
}

func (s *Service) settleInTx(ctx context.Context, acc *model.Account, tx repository.Tx, c charge) (*SettlementResult, error) {
	if c.before != nil {
		if err := c.before(ctx, acc, tx); err != nil {
			return nil, err
		}
	}

	prevTier := acc.Tier
	walletBefore := acc.WalletBalance
	pointsBefore := acc.PointsBalance

	settlement, err := ledger.Settle(acc, ledger.Charge{
		Amount:      c.Amount,
		Method:      c.Method,
		ReferenceNo: c.ReferenceNo,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := model.TransactionRecord{
		ID:             newID(),
		AccountID:      strPtr(acc.ID),
		OrderID:        c.OrderID,
		PromotionID:    c.PromotionID,
		Type:           c.Type,
		Amount:         settlement.Amount,
		PaymentMethod:  settlement.Method,
		ReferenceNo:    c.ReferenceNo,
		LineItems:      c.LineItems,
		PointsUsed:     settlement.PointsUsed,
		PointsEarned:   settlement.PointsEarned,
		WalletDelta:    acc.WalletBalance.Sub(walletBefore),
		PointsDelta:    acc.PointsBalance.Sub(pointsBefore),
		Status:         model.TransactionCompleted,
		IdempotencyKey: c.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := tx.AppendRecord(ctx, rec); err != nil {
		return nil, err
	}

	if c.after != nil {
		if err := c.after(ctx, acc, tx, rec); err != nil {
			return nil, err
		}
	}

	if err := s.refreshEngagement(ctx, acc, tx); err != nil {
		return nil, err
	}

	if err := tx.Enqueue(ctx, s.newEvent("transaction", "created", rec.ID, acc.ID, map[string]any{
		"type":          string(rec.Type),
		"amount":        money(rec.Amount),
		"paymentMethod": string(rec.PaymentMethod),
		"pointsEarned":  money(rec.PointsEarned),
	})); err != nil {
		return nil, err
	}

	if acc.Tier != prevTier {
		if err := tx.Enqueue(ctx, s.accountEvent(acc, "tier_changed")); err != nil {
			return nil, err
		}
	}

	if err := tx.Enqueue(ctx, s.accountEvent(acc, "updated")); err != nil {
		return nil, err
	}

	return &SettlementResult{
		Settlement:    settlement,
		TransactionID: rec.ID,
	}, nil
}

// refreshEngagement пересчитывает показатели активности по журналу клиента внутри единицы работы.
func (s *Service) refreshEngagement(ctx context.Context, acc *model.Account, tx repository.Tx) error {
	records, err := tx.AccountRecords(ctx, acc.ID)
	if err != nil {
		return fmt.Errorf("load account records: %w", err)
	}
	ledger.ApplyEngagement(acc, ledger.Engagement(records, s.now()))
	return nil
}
