// Package ledger содержит правила расчёта: оплату баллами и кошельком, начисление баллов,
// уровни лояльности, статистику посещений, доступность акций и рейтинг клиентов.
//
// Функции пакета не обращаются к хранилищу и работают только со значениями,
// поэтому вызываются внутри атомарной мутации счёта.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// EarnRate задаёт долю остатка (не покрытого баллами), начисляемая клиенту баллами.
var EarnRate = decimal.New(2, -2)

// Charge описывает списание за заказ или акцию.
type Charge struct {
	Amount      decimal.Decimal
	Method      model.PaymentMethod
	ReferenceNo string
}

// Settlement описывает результат расчёта по одному списанию.
type Settlement struct {
	Amount        decimal.Decimal     `json:"amount"`
	PointsUsed    decimal.Decimal     `json:"pointsUsed"`
	Remainder     decimal.Decimal     `json:"remainder"`
	WalletDebited decimal.Decimal     `json:"walletDebited"`
	PointsEarned  decimal.Decimal     `json:"pointsEarned"`
	Method        model.PaymentMethod `json:"paymentMethod"`
}

// Round2 округляет денежное значение до двух знаков.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Settle списывает сумму со счёта: сначала баллами, остаток выбранным способом.
// При ошибке счёт не изменяется.
func Settle(acc *model.Account, c Charge) (Settlement, error) {
	amount := Round2(c.Amount)
	if !amount.IsPositive() {
		return Settlement{}, ErrInvalidAmount
	}

	pointsUsed := decimal.Min(acc.PointsBalance, amount)
	if pointsUsed.IsNegative() {
		pointsUsed = decimal.Zero
	}
	remainder := amount.Sub(pointsUsed)

	res := Settlement{
		Amount:        amount,
		PointsUsed:    pointsUsed,
		Remainder:     remainder,
		WalletDebited: decimal.Zero,
		PointsEarned:  decimal.Zero,
	}

	if remainder.IsZero() {
		res.Method = model.PaymentPoints
	} else {
		switch c.Method {
		case model.PaymentWallet:
			if acc.WalletBalance.LessThan(remainder) {
				return Settlement{}, &InsufficientFundsError{
					Source:    "wallet",
					Required:  remainder,
					Available: acc.WalletBalance,
				}
			}
			res.WalletDebited = remainder
		case model.PaymentCash:
		case model.PaymentEWallet, model.PaymentGCash:
			if c.ReferenceNo == "" {
				return Settlement{}, ErrReferenceRequired
			}
		default:
			return Settlement{}, ErrUnknownMethod
		}

		res.Method = c.Method
		if pointsUsed.IsPositive() {
			res.Method = c.Method.WithPoints()
		}
		res.PointsEarned = Round2(remainder.Mul(EarnRate))
	}

	acc.PointsBalance = acc.PointsBalance.Sub(pointsUsed).Add(res.PointsEarned)
	acc.WalletBalance = acc.WalletBalance.Sub(res.WalletDebited)
	acc.TotalPointsEarned = acc.TotalPointsEarned.Add(res.PointsEarned)
	acc.TotalSpent = acc.TotalSpent.Add(amount)
	acc.Tier = ApplyTier(acc.Tier, acc.TotalPointsEarned)

	return res, nil
}

// SettlementFromRecord восстанавливает результат расчёта по записи журнала.
// Используется при повторе запроса с тем же ключом идемпотентности.
func SettlementFromRecord(rec model.TransactionRecord) Settlement {
	return Settlement{
		Amount:        rec.Amount,
		PointsUsed:    rec.PointsUsed,
		Remainder:     rec.Amount.Sub(rec.PointsUsed),
		WalletDebited: rec.WalletDelta.Neg(),
		PointsEarned:  rec.PointsEarned,
		Method:        rec.PaymentMethod,
	}
}
