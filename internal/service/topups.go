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

// CreateTopUpRequest регистрирует заявку клиента на пополнение кошелька переводом с электронного кошелька.
// requestedAmount может быть nil, тогда сумма указывается при одобрении.
func (s *Service) CreateTopUpRequest(ctx context.Context, accountID, referenceNo string, requestedAmount *decimal.Decimal) (*model.TopUpRequest, error) {
	accountID = strings.ToLower(accountID)
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	referenceNo = strings.TrimSpace(referenceNo)
	if referenceNo == "" {
		return nil, ledger.ErrReferenceRequired
	}
	if !validation.IsValidReference(referenceNo) {
		return nil, fmt.Errorf("%w: reference number %q", validation.ErrInvalid, referenceNo)
	}

	if requestedAmount != nil {
		amount := ledger.Round2(*requestedAmount)
		if !amount.IsPositive() {
			return nil, ledger.ErrInvalidAmount
		}
		requestedAmount = &amount
	}

	req := model.TopUpRequest{
		ID:              newID(),
		AccountID:       accountID,
		ReferenceNo:     referenceNo,
		RequestedAmount: requestedAmount,
		Status:          model.TopUpPending,
		CreatedAt:       s.now(),
	}
	if err := s.repo.CreateTopUp(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("top-up requested", zap.String("request", req.ID), zap.String("account", accountID))
	return &req, nil
}

// ListTopUps возвращает заявки на пополнение; пустой status означает все заявки.
func (s *Service) ListTopUps(ctx context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error) {
	return s.repo.ListTopUps(ctx, status)
}

// TopUpStats возвращает количество заявок по статусам.
func (s *Service) TopUpStats(ctx context.Context) (*model.TopUpStats, error) {
	return s.repo.TopUpStats(ctx)
}

// ApproveTopUp одобряет заявку: пополняет кошелёк на amount, пишет запись журнала и меняет статус
// в одной единице работы. Если amount равен nil, используется запрошенная сумма.
func (s *Service) ApproveTopUp(ctx context.Context, requestID string, amount *decimal.Decimal) (*model.TopUpRequest, error) {
	req, err := s.repo.GetTopUp(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.TopUpPending {
		return nil, fmt.Errorf("%w: %s", repository.ErrAlreadyResolved, req.ID)
	}

	if amount == nil {
		amount = req.RequestedAmount
	}
	if amount == nil {
		return nil, ledger.ErrInvalidAmount
	}
	credit := ledger.Round2(*amount)
	if !credit.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	var resolved *model.TopUpRequest
	_, err = s.repo.MutateAccount(ctx, req.AccountID, func(acc *model.Account, tx repository.Tx) error {
		now := s.now()

		r, err := tx.ResolveTopUp(ctx, req.ID, model.TopUpApproved, &credit, now)
		if err != nil {
			return err
		}
		resolved = r

		if err := ledger.AdjustWallet(acc, credit); err != nil {
			return err
		}

		rec := model.TransactionRecord{
			ID:             newID(),
			AccountID:      strPtr(acc.ID),
			Type:           model.TransactionTopUp,
			Amount:         credit,
			PaymentMethod:  model.PaymentWallet,
			ReferenceNo:    req.ReferenceNo,
			PointsUsed:     decimal.Zero,
			PointsEarned:   decimal.Zero,
			WalletDelta:    credit,
			PointsDelta:    decimal.Zero,
			Status:         model.TransactionCompleted,
			IdempotencyKey: "topup:" + req.ID,
			CreatedAt:      now,
		}
		if err := tx.AppendRecord(ctx, rec); err != nil {
			return err
		}

		if err := tx.Enqueue(ctx, s.topUpEvent(r)); err != nil {
			return err
		}
		return tx.Enqueue(ctx, s.accountEvent(acc, "updated"))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("top-up approved",
		zap.String("request", req.ID),
		zap.String("account", req.AccountID),
		zap.String("amount", money(credit)),
	)
	return resolved, nil
}

// RejectTopUp отклоняет заявку, не меняя баланс.
func (s *Service) RejectTopUp(ctx context.Context, requestID string) (*model.TopUpRequest, error) {
	req, err := s.repo.GetTopUp(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var resolved *model.TopUpRequest
	_, err = s.repo.MutateAccount(ctx, req.AccountID, func(acc *model.Account, tx repository.Tx) error {
		r, err := tx.ResolveTopUp(ctx, req.ID, model.TopUpRejected, nil, s.now())
		if err != nil {
			return err
		}
		resolved = r
		return tx.Enqueue(ctx, s.topUpEvent(r))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("top-up rejected", zap.String("request", req.ID), zap.String("account", req.AccountID))
	return resolved, nil
}

func (s *Service) topUpEvent(req *model.TopUpRequest) model.Event {
	payload := map[string]any{
		"status":      string(req.Status),
		"referenceNo": req.ReferenceNo,
	}
	if req.ApprovedAmount != nil {
		payload["approvedAmount"] = money(*req.ApprovedAmount)
	}
	return s.newEvent("topup", strings.ToLower(string(req.Status)), req.ID, req.AccountID, payload)
}
