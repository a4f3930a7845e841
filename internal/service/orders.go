package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/ledger"
	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
	"github.com/mmeshcher/loyalty-ledger/internal/validation"
)

// CreateOrder создаёт заказ в статусе Pending. Пустой accountID означает посетителя без карты.
func (s *Service) CreateOrder(ctx context.Context, accountID string, items []model.LineItem) (*model.Order, error) {
	subtotal, err := orderSubtotal(items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := model.Order{
		ID:        newID(),
		LineItems: items,
		Subtotal:  subtotal,
		Status:    model.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if accountID != "" {
		accountID = strings.ToLower(accountID)
		if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
			return nil, err
		}
		o.AccountID = strPtr(accountID)
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	return &o, nil
}

func orderSubtotal(items []model.LineItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, fmt.Errorf("%w: order has no items", validation.ErrInvalid)
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return decimal.Zero, fmt.Errorf("%w: item name is empty", validation.ErrInvalid)
		}
		if item.Qty <= 0 {
			return decimal.Zero, fmt.Errorf("%w: item %q quantity must be positive", validation.ErrInvalid, item.Name)
		}
		if item.UnitPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: item %q price is negative", validation.ErrInvalid, item.Name)
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}

	subtotal = ledger.Round2(subtotal)
	if !subtotal.IsPositive() {
		return decimal.Zero, ledger.ErrInvalidAmount
	}
	return subtotal, nil
}

// GetOrder возвращает заказ.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// CompleteOrderRequest описывает оплату ожидающего заказа.
type CompleteOrderRequest struct {
	OrderID        string
	Method         model.PaymentMethod
	ReferenceNo    string
	IdempotencyKey string
}

// CompleteOrder оплачивает заказ. Для клиента выполняется полный расчёт с баллами и кошельком;
// посетитель без карты платит наличными или электронным кошельком без начисления баллов.
// Повторный вызов для уже оплаченного заказа возвращает исходный результат.
func (s *Service) CompleteOrder(ctx context.Context, req CompleteOrderRequest) (*SettlementResult, error) {
	o, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "order:" + o.ID
	}

	if o.AccountID == nil {
		return s.completeWalkIn(ctx, o, req)
	}

	res, err := s.settle(ctx, charge{
		SettleRequest: SettleRequest{
			AccountID:      *o.AccountID,
			Amount:         o.Subtotal,
			Method:         req.Method,
			ReferenceNo:    req.ReferenceNo,
			IdempotencyKey: req.IdempotencyKey,
			LineItems:      o.LineItems,
		},
		Type:    model.TransactionOrder,
		OrderID: o.ID,
		after: func(ctx context.Context, acc *model.Account, tx repository.Tx, rec model.TransactionRecord) error {
			if err := tx.SetOrderStatus(ctx, o.ID, model.OrderPending, model.OrderCompleted, rec.PaymentMethod, rec.CreatedAt); err != nil {
				return err
			}
			return tx.Enqueue(ctx, s.orderEvent(o, model.OrderCompleted))
		},
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		s.logger.Info("order completed",
			zap.String("order", o.ID),
			zap.String("account", *o.AccountID),
			zap.String("method", string(res.Method)),
		)
	}
	return res, nil
}

func (s *Service) completeWalkIn(ctx context.Context, o *model.Order, req CompleteOrderRequest) (*SettlementResult, error) {
	if rec, err := s.repo.FindRecordByKey(ctx, req.IdempotencyKey); err == nil {
		if rec.AccountID != nil || rec.OrderID != o.ID {
			return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateIdempotencyKey, req.IdempotencyKey)
		}
		return &SettlementResult{
			Settlement:    ledger.SettlementFromRecord(*rec),
			TransactionID: rec.ID,
			Replayed:      true,
		}, nil
	} else if !errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, fmt.Errorf("find transaction by key: %w", err)
	}

	switch req.Method {
	case model.PaymentCash:
	case model.PaymentEWallet, model.PaymentGCash:
		if req.ReferenceNo == "" {
			return nil, ledger.ErrReferenceRequired
		}
	default:
		return nil, ledger.ErrUnknownMethod
	}

	now := s.now()
	rec := model.TransactionRecord{
		ID:             newID(),
		OrderID:        o.ID,
		Type:           model.TransactionOrder,
		Amount:         o.Subtotal,
		PaymentMethod:  req.Method,
		ReferenceNo:    req.ReferenceNo,
		LineItems:      o.LineItems,
		PointsUsed:     decimal.Zero,
		PointsEarned:   decimal.Zero,
		WalletDelta:    decimal.Zero,
		PointsDelta:    decimal.Zero,
		Status:         model.TransactionCompleted,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}

	err := s.repo.RunInTx(ctx, func(tx repository.Tx) error {
		if err := tx.SetOrderStatus(ctx, o.ID, model.OrderPending, model.OrderCompleted, req.Method, now); err != nil {
			return err
		}
		if err := tx.AppendRecord(ctx, rec); err != nil {
			return err
		}
		return tx.Enqueue(ctx, s.orderEvent(o, model.OrderCompleted))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("walk-in order completed", zap.String("order", o.ID), zap.String("method", string(req.Method)))
	return &SettlementResult{
		Settlement: ledger.Settlement{
			Amount:        rec.Amount,
			PointsUsed:    decimal.Zero,
			Remainder:     rec.Amount,
			WalletDebited: decimal.Zero,
			PointsEarned:  decimal.Zero,
			Method:        rec.PaymentMethod,
		},
		TransactionID: rec.ID,
	}, nil
}

// CancelOrder отменяет заказ. Для оплаченного заказа записи журнала переводятся в статус Canceled
// и показатели активности клиента пересчитываются; балансы не возвращаются.
// Заказ клиента отменяется под блокировкой его счёта, как и оплачивается.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var previous model.OrderStatus
	if o.AccountID == nil {
		err = s.repo.RunInTx(ctx, func(tx repository.Tx) error {
			cur, err := s.repo.GetOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			previous = cur.Status
			return s.cancelInTx(ctx, tx, cur)
		})
	} else {
		_, err = s.repo.MutateAccount(ctx, *o.AccountID, func(acc *model.Account, tx repository.Tx) error {
			cur, err := s.repo.GetOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			previous = cur.Status
			if err := s.cancelInTx(ctx, tx, cur); err != nil {
				return err
			}
			if previous != model.OrderCompleted {
				return nil
			}
			if err := s.refreshEngagement(ctx, acc, tx); err != nil {
				return err
			}
			return tx.Enqueue(ctx, s.accountEvent(acc, "updated"))
		})
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("order canceled", zap.String("order", o.ID), zap.String("previous_status", string(previous)))
	return s.repo.GetOrder(ctx, o.ID)
}

// cancelInTx переводит заказ в Canceled; у оплаченного заказа отменяются и записи журнала.
func (s *Service) cancelInTx(ctx context.Context, tx repository.Tx, o *model.Order) error {
	switch o.Status {
	case model.OrderPending:
		if err := tx.SetOrderStatus(ctx, o.ID, model.OrderPending, model.OrderCanceled, "", s.now()); err != nil {
			return err
		}
	case model.OrderCompleted:
		if err := tx.SetOrderStatus(ctx, o.ID, model.OrderCompleted, model.OrderCanceled, "", s.now()); err != nil {
			return err
		}
		if err := tx.CancelOrderRecords(ctx, o.ID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: order %s is %s", repository.ErrOrderStatus, o.ID, o.Status)
	}
	return tx.Enqueue(ctx, s.orderEvent(o, model.OrderCanceled))
}

func (s *Service) orderEvent(o *model.Order, status model.OrderStatus) model.Event {
	accountID := ""
	if o.AccountID != nil {
		accountID = *o.AccountID
	}
	return s.newEvent("order", strings.ToLower(string(status)), o.ID, accountID, map[string]any{
		"subtotal": money(o.Subtotal),
		"status":   string(status),
	})
}
