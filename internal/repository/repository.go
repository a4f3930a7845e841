// Package repository содержит хранилища счетов, журнала операций, заказов, акций,
// заявок на пополнение, рейтинга и очереди событий: PostgreSQL и in-memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

var (
	// ErrAccountNotFound возвращается, если счёт клиента не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists возвращается при повторной регистрации email или номера телефона.
	ErrAccountExists = errors.New("account already exists")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderStatus возвращается, если заказ находится не в ожидаемом статусе.
	ErrOrderStatus = errors.New("order status does not allow this operation")
	// ErrPromotionNotFound возвращается, если акция не найдена.
	ErrPromotionNotFound = errors.New("promotion not found")
	// ErrTopUpNotFound возвращается, если заявка на пополнение не найдена.
	ErrTopUpNotFound = errors.New("top-up request not found")
	// ErrTransactionNotFound возвращается, если запись журнала не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrAlreadyResolved возвращается при повторной обработке заявки на пополнение.
	ErrAlreadyResolved = errors.New("top-up request already resolved")
	// ErrAlreadyUsed возвращается при повторном использовании одноразовой акции.
	ErrAlreadyUsed = errors.New("promotion already used")
	// ErrDuplicateIdempotencyKey возвращается, если запись с таким ключом уже есть в журнале.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrBusy возвращается, если мутация счёта не удалась из-за конкуренции после всех повторов.
	ErrBusy = errors.New("account is busy, retry later")
)

// IsNotFound сообщает, что запрошенная сущность отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPromotionNotFound) ||
		errors.Is(err, ErrTopUpNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// Tx описывает операции, выполняемые в одной единице работы вместе с мутацией счёта.
// Всё, что записано через Tx, фиксируется вместе со счётом или не фиксируется вовсе.
type Tx interface {
	FindRecordByKey(ctx context.Context, key string) (*model.TransactionRecord, error)
	AppendRecord(ctx context.Context, rec model.TransactionRecord) error
	AccountRecords(ctx context.Context, accountID string) ([]model.TransactionRecord, error)
	CancelOrderRecords(ctx context.Context, orderID string) error
	ClaimPromotion(ctx context.Context, claim model.PromotionClaim) error
	ResolveTopUp(ctx context.Context, id string, status model.TopUpStatus, amount *decimal.Decimal, at time.Time) (*model.TopUpRequest, error)
	SetOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, method model.PaymentMethod, at time.Time) error
	Enqueue(ctx context.Context, ev model.Event) error
}

// MutateFunc изменяет счёт на месте. Ненулевая ошибка отменяет всю единицу работы.
type MutateFunc func(acc *model.Account, tx Tx) error

// Статусы событий в очереди отправки.
const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
	OutboxFailed  = "FAILED"
)

// OutboxEvent описывает событие, ожидающее доставки подписчикам.
type OutboxEvent struct {
	Event    model.Event
	Attempts int
}

const (
	mutateMaxRetries = 4
	mutateRetryBase  = 50 * time.Millisecond
)
