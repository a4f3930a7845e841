// Package model содержит доменные сущности сервиса лояльности.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier описывает уровень лояльности клиента.
type Tier string

const (
	TierBronze Tier = "Bronze"
	TierSilver Tier = "Silver"
	TierGold   Tier = "Gold"
)

// Rank возвращает порядковый номер уровня: Bronze < Silver < Gold.
func (t Tier) Rank() int {
	switch t {
	case TierGold:
		return 2
	case TierSilver:
		return 1
	default:
		return 0
	}
}

// Valid сообщает, является ли значение известным уровнем.
func (t Tier) Valid() bool {
	return t == TierBronze || t == TierSilver || t == TierGold
}

// AccountStatus описывает активность клиента.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "Active"
	AccountStatusInactive AccountStatus = "Inactive"
)

// Account представляет счёт клиента программы лояльности.
type Account struct {
	ID                string          `json:"id"`
	FullName          string          `json:"fullName"`
	Mobile            string          `json:"mobile"`
	PointsBalance     decimal.Decimal `json:"pointsBalance"`
	WalletBalance     decimal.Decimal `json:"walletBalance"`
	TotalPointsEarned decimal.Decimal `json:"totalPointsEarned"`
	TotalSpent        decimal.Decimal `json:"totalSpent"`
	TotalTransactions int             `json:"totalTransactions"`
	TotalVisits       int             `json:"totalVisits"`
	LastVisitDate     *time.Time      `json:"lastVisitDate,omitempty"`
	Tier              Tier            `json:"tier"`
	Status            AccountStatus   `json:"status"`
	FavoriteCategory  string          `json:"favoriteCategory"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// NewAccount создаёт счёт с нулевыми балансами, уровнем Bronze и статусом Inactive.
func NewAccount(id, fullName, mobile string, now time.Time) Account {
	return Account{
		ID:                id,
		FullName:          fullName,
		Mobile:            mobile,
		PointsBalance:     decimal.Zero,
		WalletBalance:     decimal.Zero,
		TotalPointsEarned: decimal.Zero,
		TotalSpent:        decimal.Zero,
		Tier:              TierBronze,
		Status:            AccountStatusInactive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// PaymentMethod описывает способ оплаты, в том числе составной "Points+X".
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "Cash"
	PaymentWallet  PaymentMethod = "Wallet"
	PaymentPoints  PaymentMethod = "Points"
	PaymentEWallet PaymentMethod = "E-Wallet"
	PaymentGCash   PaymentMethod = "GCash"
)

// WithPoints возвращает составную метку "Points+X".
func (m PaymentMethod) WithPoints() PaymentMethod {
	return PaymentPoints + "+" + m
}

// TransactionType описывает вид записи журнала.
type TransactionType string

const (
	TransactionOrder      TransactionType = "order"
	TransactionPromotion  TransactionType = "promotion"
	TransactionTopUp      TransactionType = "topup"
	TransactionAdjustment TransactionType = "adjustment"
)

// TransactionStatus описывает статус записи журнала.
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "Completed"
	TransactionCanceled  TransactionStatus = "Canceled"
)

// OverTheCounter помечает ручные корректировки, выполненные сотрудником.
const OverTheCounter = "Over The Counter"

// LineItem описывает позицию заказа.
type LineItem struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// TransactionRecord описывает неизменяемую запись журнала операций.
type TransactionRecord struct {
	ID             string            `json:"id"`
	AccountID      *string           `json:"accountId,omitempty"`
	OrderID        string            `json:"orderId,omitempty"`
	PromotionID    string            `json:"promotionId,omitempty"`
	Type           TransactionType   `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	PaymentMethod  PaymentMethod     `json:"paymentMethod"`
	ReferenceNo    string            `json:"referenceNo,omitempty"`
	LineItems      []LineItem        `json:"lineItems,omitempty"`
	PointsUsed     decimal.Decimal   `json:"pointsUsed"`
	PointsEarned   decimal.Decimal   `json:"pointsEarned"`
	WalletDelta    decimal.Decimal   `json:"walletDelta"`
	PointsDelta    decimal.Decimal   `json:"pointsDelta"`
	Note           string            `json:"note,omitempty"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// IsPurchase сообщает, относится ли запись к покупке (заказ или акция).
func (r TransactionRecord) IsPurchase() bool {
	return r.Type == TransactionOrder || r.Type == TransactionPromotion
}

// PromotionScope описывает область действия акции.
type PromotionScope string

const (
	ScopeGlobal       PromotionScope = "global"
	ScopePersonalized PromotionScope = "personalized"
)

// Promotion описывает акцию, которую клиент может оплатить.
type Promotion struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	ValidFrom       time.Time       `json:"validFrom"`
	ValidTo         time.Time       `json:"validTo"`
	Scope           PromotionScope  `json:"scope"`
	ApplicableTiers []Tier          `json:"applicableTiers,omitempty"`
	TargetAccountID string          `json:"targetAccountId,omitempty"`
	Category        string          `json:"category,omitempty"`
	SingleUse       bool            `json:"singleUse"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// PromotionClaim фиксирует использование одноразовой акции клиентом.
type PromotionClaim struct {
	PromotionID   string    `json:"promotionId"`
	AccountID     string    `json:"accountId"`
	TransactionID string    `json:"transactionId"`
	UsedAt        time.Time `json:"usedAt"`
}

// TopUpStatus описывает состояние заявки на пополнение кошелька.
type TopUpStatus string

const (
	TopUpPending  TopUpStatus = "Pending"
	TopUpApproved TopUpStatus = "Approved"
	TopUpRejected TopUpStatus = "Rejected"
)

// TopUpRequest описывает заявку на пополнение кошелька.
type TopUpRequest struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"accountId"`
	ReferenceNo     string           `json:"referenceNo"`
	RequestedAmount *decimal.Decimal `json:"requestedAmount,omitempty"`
	ApprovedAmount  *decimal.Decimal `json:"approvedAmount,omitempty"`
	Status          TopUpStatus      `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	ResolvedAt      *time.Time       `json:"resolvedAt,omitempty"`
}

// TopUpStats содержит количество заявок по статусам.
type TopUpStats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderPending   OrderStatus = "Pending"
	OrderCompleted OrderStatus = "Completed"
	OrderCanceled  OrderStatus = "Canceled"
)

// Order описывает заказ клиента или посетителя без карты.
type Order struct {
	ID            string          `json:"id"`
	AccountID     *string         `json:"accountId,omitempty"`
	LineItems     []LineItem      `json:"lineItems"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod PaymentMethod   `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// LeaderboardEntry описывает строку рейтинга клиентов.
type LeaderboardEntry struct {
	Rank              int             `json:"rank"`
	AccountID         string          `json:"accountId"`
	FullName          string          `json:"fullName"`
	Tier              Tier            `json:"tier"`
	TotalPointsEarned decimal.Decimal `json:"totalPointsEarned"`
	TotalTransactions int             `json:"totalTransactions"`
	TotalVisits       int             `json:"totalVisits"`
}

// Event описывает событие ленты изменений.
type Event struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	Action    string         `json:"action"`
	EntityID  string         `json:"entityId"`
	AccountID string         `json:"accountId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Type возвращает тип события вида "entity_action".
func (e Event) Type() string {
	return e.Entity + "_" + e.Action
}
