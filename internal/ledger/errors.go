package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds возвращается, если баланса кошелька или баллов не хватает для операции.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrReferenceRequired возвращается при оплате E-Wallet без номера транзакции.
	ErrReferenceRequired = errors.New("reference number required")
	// ErrInvalidAmount возвращается для неположительных сумм.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrUnknownMethod возвращается для неподдерживаемого способа оплаты остатка.
	ErrUnknownMethod = errors.New("unsupported payment method")
	// ErrNotEligible возвращается, если клиент не может воспользоваться акцией.
	ErrNotEligible = errors.New("promotion not eligible")
	// ErrInvalidPromotion возвращается для некорректно заполненной акции.
	ErrInvalidPromotion = errors.New("invalid promotion")
)

// InsufficientFundsError уточняет, какого источника средств не хватило.
type InsufficientFundsError struct {
	Source    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: required %s, available %s",
		e.Source, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Unwrap позволяет сравнивать ошибку с ErrInsufficientFunds через errors.Is.
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// IsClientError сообщает, вызвана ли ошибка некорректным запросом, а не сбоем системы.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrReferenceRequired) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnknownMethod) ||
		errors.Is(err, ErrNotEligible) ||
		errors.Is(err, ErrInvalidPromotion)
}
