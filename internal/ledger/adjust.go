package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// AdjustPoints изменяет баланс баллов на delta. Сумма начисленных баллов и уровень не меняются.
func AdjustPoints(acc *model.Account, delta decimal.Decimal) error {
	delta = Round2(delta)
	if delta.IsZero() {
		return ErrInvalidAmount
	}

	next := acc.PointsBalance.Add(delta)
	if next.IsNegative() {
		return &InsufficientFundsError{
			Source:    "points",
			Required:  delta.Neg(),
			Available: acc.PointsBalance,
		}
	}

	acc.PointsBalance = next
	return nil
}

// AdjustWallet изменяет баланс кошелька на delta, не допуская отрицательного остатка.
func AdjustWallet(acc *model.Account, delta decimal.Decimal) error {
	delta = Round2(delta)
	if delta.IsZero() {
		return ErrInvalidAmount
	}

	next := acc.WalletBalance.Add(delta)
	if next.IsNegative() {
		return &InsufficientFundsError{
			Source:    "wallet",
			Required:  delta.Neg(),
			Available: acc.WalletBalance,
		}
	}

	acc.WalletBalance = next
	return nil
}
