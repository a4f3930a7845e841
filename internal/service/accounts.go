package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/ledger"
	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
	"github.com/mmeshcher/loyalty-ledger/internal/validation"
)

// CreateAccount регистрирует клиента. Идентификатором счёта служит email в нижнем регистре.
func (s *Service) CreateAccount(ctx context.Context, email, fullName, mobile string) (*model.Account, error) {
	id, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, fmt.Errorf("%w: full name is empty", validation.ErrInvalid)
	}

	mobile = strings.TrimSpace(mobile)
	if mobile != "" && !validation.IsValidMobile(mobile) {
		return nil, fmt.Errorf("%w: mobile %q", validation.ErrInvalid, mobile)
	}

	acc := model.NewAccount(id, fullName, mobile, s.now())
	if err := s.repo.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	s.logger.Info("account created", zap.String("account", id))
	return &acc, nil
}

// GetAccount возвращает счёт клиента.
func (s *Service) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.repo.GetAccount(ctx, strings.ToLower(id))
}

// ListAccountTransactions возвращает журнал операций клиента, новые записи первыми.
func (s *Service) ListAccountTransactions(ctx context.Context, accountID string) ([]model.TransactionRecord, error) {
	accountID = strings.ToLower(accountID)
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListAccountTransactions(ctx, accountID)
}

const (
	defaultTransactionsLimit = 100
	maxTransactionsLimit     = 1000
)

// ListTransactions возвращает последние записи общего журнала, не больше 1000.
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]model.TransactionRecord, error) {
	if limit <= 0 {
		limit = defaultTransactionsLimit
	}
	limit = min(limit, maxTransactionsLimit)
	return s.repo.ListTransactions(ctx, limit)
}

// AdjustmentRequest описывает ручную корректировку баланса сотрудником.
type AdjustmentRequest struct {
	AccountID      string
	Delta          decimal.Decimal
	Method         model.PaymentMethod
	ReferenceNo    string
	IdempotencyKey string
}

// AdjustPoints начисляет или списывает баллы вручную. Баланс не может стать отрицательным.
// Сумма начисленных баллов и уровень клиента не меняются.
func (s *Service) AdjustPoints(ctx context.Context, req AdjustmentRequest) (*model.Account, error) {
	return s.adjust(ctx, req, "points", ledger.AdjustPoints)
}

// AdjustWallet пополняет или списывает кошелёк вручную. Баланс не может стать отрицательным.
func (s *Service) AdjustWallet(ctx context.Context, req AdjustmentRequest) (*model.Account, error) {
	return s.adjust(ctx, req, "wallet", ledger.AdjustWallet)
}

func (s *Service) adjust(
	ctx context.Context,
	req AdjustmentRequest,
	balance string,
	apply func(acc *model.Account, delta decimal.Decimal) error,
) (*model.Account, error) {
	req.AccountID = strings.ToLower(req.AccountID)

	switch req.Method {
	case "":
		req.Method = model.PaymentCash
	case model.PaymentCash:
	case model.PaymentGCash, model.PaymentEWallet:
		if req.ReferenceNo == "" {
			return nil, ledger.ErrReferenceRequired
		}
	default:
		return nil, ledger.ErrUnknownMethod
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = newID()
	}

	rec, err := s.findReplay(ctx, req.IdempotencyKey, req.AccountID, model.TransactionAdjustment)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return s.repo.GetAccount(ctx, req.AccountID)
	}

	acc, err := s.repo.MutateAccount(ctx, req.AccountID, func(acc *model.Account, tx repository.Tx) error {
		walletBefore := acc.WalletBalance
		pointsBefore := acc.PointsBalance

		if err := apply(acc, req.Delta); err != nil {
			return err
		}

		rec := model.TransactionRecord{
			ID:             newID(),
			AccountID:      strPtr(acc.ID),
			Type:           model.TransactionAdjustment,
			Amount:         ledger.Round2(req.Delta).Abs(),
			PaymentMethod:  req.Method,
			ReferenceNo:    req.ReferenceNo,
			PointsUsed:     decimal.Zero,
			PointsEarned:   decimal.Zero,
			WalletDelta:    acc.WalletBalance.Sub(walletBefore),
			PointsDelta:    acc.PointsBalance.Sub(pointsBefore),
			Note:           overTheCounterNote(balance),
			Status:         model.TransactionCompleted,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      s.now(),
		}
		if err := tx.AppendRecord(ctx, rec); err != nil {
			return err
		}

		return tx.Enqueue(ctx, s.accountEvent(acc, "updated"))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance adjusted",
		zap.String("account", acc.ID),
		zap.String("balance", balance),
		zap.String("delta", money(req.Delta)),
	)
	return acc, nil
}

func overTheCounterNote(balance string) string {
	return model.OverTheCounter + " (" + balance + ")"
}
