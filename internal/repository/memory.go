package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется без DATABASE_URI и в тестах.
//
// Мутации одного счёта сериализуются через семафор счёта; изменения, сделанные через Tx,
// накапливаются и применяются под общей блокировкой только после успешного завершения fn.
type MemoryRepository struct {
	mu sync.RWMutex

	accounts    map[string]model.Account
	mobiles     map[string]string
	records     []model.TransactionRecord
	byAccount   map[string][]int
	byKey       map[string]int
	orders      map[string]model.Order
	promotions  map[string]model.Promotion
	claims      map[string]map[string]model.PromotionClaim
	topUps      map[string]model.TopUpRequest
	leaderboard []model.LeaderboardEntry
	outbox      []memOutboxEvent

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	walkInLock  chan struct{}
	lockTimeout time.Duration
}

type memOutboxEvent struct {
	OutboxEvent
	status string
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:    make(map[string]model.Account),
		mobiles:     make(map[string]string),
		byAccount:   make(map[string][]int),
		byKey:       make(map[string]int),
		orders:      make(map[string]model.Order),
		promotions:  make(map[string]model.Promotion),
		claims:      make(map[string]map[string]model.PromotionClaim),
		topUps:      make(map[string]model.TopUpRequest),
		locks:       make(map[string]chan struct{}),
		walkInLock:  make(chan struct{}, 1),
		lockTimeout: 2 * time.Second,
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) accountLock(id string) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		r.locks[id] = l
	}
	return l
}

func (r *MemoryRepository) acquire(ctx context.Context, l chan struct{}) error {
	timer := time.NewTimer(r.lockTimeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateAccount регистрирует новый счёт.
func (r *MemoryRepository) CreateAccount(_ context.Context, acc model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[acc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, acc.ID)
	}
	if acc.Mobile != "" {
		if _, ok := r.mobiles[acc.Mobile]; ok {
			return fmt.Errorf("%w: %s", ErrAccountExists, acc.Mobile)
		}
		r.mobiles[acc.Mobile] = acc.ID
	}

	r.accounts[acc.ID] = acc
	return nil
}

// GetAccount возвращает копию счёта.
func (r *MemoryRepository) GetAccount(_ context.Context, id string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acc, nil
}

// ListAccounts возвращает снимок всех счетов, упорядоченный по идентификатору.
func (r *MemoryRepository) ListAccounts(_ context.Context) ([]model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		res = append(res, acc)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// MutateAccount применяет fn к копии счёта и фиксирует её вместе с изменениями Tx.
func (r *MemoryRepository) MutateAccount(ctx context.Context, id string, fn MutateFunc) (*model.Account, error) {
	l := r.accountLock(id)
	if err := r.acquire(ctx, l); err != nil {
		return nil, err
	}
	defer func() { <-l }()

	acc, err := r.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	tx := &memTx{repo: r}
	if err := fn(acc, tx); err != nil {
		return nil, err
	}

	acc.UpdatedAt = time.Now()
	if err := r.commit(tx, acc); err != nil {
		return nil, err
	}

	res := *acc
	return &res, nil
}

// RunInTx выполняет fn без блокировки счёта; операции без счёта сериализуются между собой.
func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := r.acquire(ctx, r.walkInLock); err != nil {
		return err
	}
	defer func() { <-r.walkInLock }()

	tx := &memTx{repo: r}
	if err := fn(tx); err != nil {
		return err
	}
	return r.commit(tx, nil)
}

func (r *MemoryRepository) commit(tx *memTx, acc *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range tx.records {
		if rec.IdempotencyKey == "" {
			continue
		}
		if _, ok := r.byKey[rec.IdempotencyKey]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, rec.IdempotencyKey)
		}
	}

	// RunInTx и MutateAccount не исключают друг друга: статусы, прочитанные при подготовке,
	// сверяются с зафиксированным состоянием.
	for id, from := range tx.orderFrom {
		if o, ok := r.orders[id]; !ok || o.Status != from {
			return fmt.Errorf("%w: %s", ErrOrderStatus, id)
		}
	}
	for _, req := range tx.topUps {
		if r.topUps[req.ID].Status != model.TopUpPending {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, req.ID)
		}
	}
	for _, c := range tx.claims {
		if _, used := r.claims[c.PromotionID][c.AccountID]; used {
			return fmt.Errorf("%w: %s", ErrAlreadyUsed, c.PromotionID)
		}
	}

	if acc != nil {
		r.accounts[acc.ID] = *acc
	}

	for _, rec := range tx.records {
		r.records = append(r.records, rec)
		idx := len(r.records) - 1
		if rec.AccountID != nil {
			r.byAccount[*rec.AccountID] = append(r.byAccount[*rec.AccountID], idx)
		}
		if rec.IdempotencyKey != "" {
			r.byKey[rec.IdempotencyKey] = idx
		}
	}

	for _, orderID := range tx.canceledOrders {
		for i := range r.records {
			if r.records[i].OrderID == orderID && r.records[i].Status == model.TransactionCompleted {
				r.records[i].Status = model.TransactionCanceled
			}
		}
	}

	for _, c := range tx.claims {
		if r.claims[c.PromotionID] == nil {
			r.claims[c.PromotionID] = make(map[string]model.PromotionClaim)
		}
		r.claims[c.PromotionID][c.AccountID] = c
	}

	for _, req := range tx.topUps {
		r.topUps[req.ID] = req
	}

	for _, o := range tx.orders {
		r.orders[o.ID] = o
	}

	for _, ev := range tx.events {
		r.outbox = append(r.outbox, memOutboxEvent{OutboxEvent: OutboxEvent{Event: ev}, status: OutboxPending})
	}

	return nil
}

// memTx накапливает изменения единицы работы до фиксации.
type memTx struct {
	repo *MemoryRepository

	records        []model.TransactionRecord
	canceledOrders []string
	claims         []model.PromotionClaim
	topUps         []model.TopUpRequest
	orders         []model.Order
	orderFrom      map[string]model.OrderStatus
	events         []model.Event
}

func (t *memTx) FindRecordByKey(ctx context.Context, key string) (*model.TransactionRecord, error) {
	for _, rec := range t.records {
		if rec.IdempotencyKey == key {
			res := rec
			return &res, nil
		}
	}
	return t.repo.FindRecordByKey(ctx, key)
}

func (t *memTx) AppendRecord(_ context.Context, rec model.TransactionRecord) error {
	if rec.IdempotencyKey != "" {
		for _, staged := range t.records {
			if staged.IdempotencyKey == rec.IdempotencyKey {
				return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, rec.IdempotencyKey)
			}
		}

		t.repo.mu.RLock()
		_, exists := t.repo.byKey[rec.IdempotencyKey]
		t.repo.mu.RUnlock()
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, rec.IdempotencyKey)
		}
	}

	rec.LineItems = append([]model.LineItem(nil), rec.LineItems...)
	t.records = append(t.records, rec)
	return nil
}

func (t *memTx) AccountRecords(_ context.Context, accountID string) ([]model.TransactionRecord, error) {
	t.repo.mu.RLock()
	var res []model.TransactionRecord
	for _, idx := range t.repo.byAccount[accountID] {
		res = append(res, t.repo.records[idx])
	}
	t.repo.mu.RUnlock()

	for _, rec := range t.records {
		if rec.AccountID != nil && *rec.AccountID == accountID {
			res = append(res, rec)
		}
	}

	for i := range res {
		for _, orderID := range t.canceledOrders {
			if res[i].OrderID == orderID && res[i].Status == model.TransactionCompleted {
				res[i].Status = model.TransactionCanceled
			}
		}
	}

	return res, nil
}

func (t *memTx) CancelOrderRecords(_ context.Context, orderID string) error {
	t.canceledOrders = append(t.canceledOrders, orderID)
	return nil
}

func (t *memTx) ClaimPromotion(_ context.Context, claim model.PromotionClaim) error {
	for _, c := range t.claims {
		if c.PromotionID == claim.PromotionID && c.AccountID == claim.AccountID {
			return ErrAlreadyUsed
		}
	}

	t.repo.mu.RLock()
	_, used := t.repo.claims[claim.PromotionID][claim.AccountID]
	t.repo.mu.RUnlock()
	if used {
		return ErrAlreadyUsed
	}

	t.claims = append(t.claims, claim)
	return nil
}

func (t *memTx) ResolveTopUp(_ context.Context, id string, status model.TopUpStatus, amount *decimal.Decimal, at time.Time) (*model.TopUpRequest, error) {
	t.repo.mu.RLock()
	req, ok := t.repo.topUps[id]
	t.repo.mu.RUnlock()
	if !ok {
		return nil, ErrTopUpNotFound
	}

	for _, staged := range t.topUps {
		if staged.ID == id {
			req = staged
		}
	}
	if req.Status != model.TopUpPending {
		return nil, ErrAlreadyResolved
	}

	req.Status = status
	req.ApprovedAmount = amount
	resolvedAt := at
	req.ResolvedAt = &resolvedAt

	t.topUps = append(t.topUps, req)
	res := req
	return &res, nil
}

func (t *memTx) SetOrderStatus(_ context.Context, id string, from, to model.OrderStatus, method model.PaymentMethod, at time.Time) error {
	t.repo.mu.RLock()
	o, ok := t.repo.orders[id]
	t.repo.mu.RUnlock()
	if !ok {
		return ErrOrderNotFound
	}

	if t.orderFrom == nil {
		t.orderFrom = make(map[string]model.OrderStatus)
	}
	if _, staged := t.orderFrom[id]; !staged {
		t.orderFrom[id] = o.Status
	}

	for _, staged := range t.orders {
		if staged.ID == id {
			o = staged
		}
	}
	if o.Status != from {
		return ErrOrderStatus
	}

	o.Status = to
	if method != "" {
		o.PaymentMethod = method
	}
	o.UpdatedAt = at

	t.orders = append(t.orders, o)
	return nil
}

func (t *memTx) Enqueue(_ context.Context, ev model.Event) error {
	t.events = append(t.events, ev)
	return nil
}

// FindRecordByKey возвращает запись журнала по ключу идемпотентности.
func (r *MemoryRepository) FindRecordByKey(_ context.Context, key string) (*model.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byKey[key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	rec := r.records[idx]
	return &rec, nil
}

// ListTransactions возвращает последние записи общего журнала.
func (r *MemoryRepository) ListTransactions(_ context.Context, limit int) ([]model.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.TransactionRecord, 0, max(0, min(limit, len(r.records))))
	for i := len(r.records) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, r.records[i])
	}
	return res, nil
}

// ListAccountTransactions возвращает журнал клиента, новые записи первыми.
func (r *MemoryRepository) ListAccountTransactions(_ context.Context, accountID string) ([]model.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idxs := r.byAccount[accountID]
	res := make([]model.TransactionRecord, 0, len(idxs))
	for i := len(idxs) - 1; i >= 0; i-- {
		res = append(res, r.records[idxs[i]])
	}
	return res, nil
}

// CreateOrder сохраняет новый заказ.
func (r *MemoryRepository) CreateOrder(_ context.Context, o model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders[o.ID] = o
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

// CreatePromotion сохраняет акцию.
func (r *MemoryRepository) CreatePromotion(_ context.Context, p model.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.promotions[p.ID] = p
	return nil
}

// GetPromotion возвращает акцию по идентификатору.
func (r *MemoryRepository) GetPromotion(_ context.Context, id string) (*model.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.promotions[id]
	if !ok {
		return nil, ErrPromotionNotFound
	}
	return &p, nil
}

// ListPromotions возвращает все акции, новые первыми.
func (r *MemoryRepository) ListPromotions(_ context.Context) ([]model.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Promotion, 0, len(r.promotions))
	for _, p := range r.promotions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// ClaimedPromotions возвращает идентификаторы одноразовых акций, уже использованных клиентом.
func (r *MemoryRepository) ClaimedPromotions(_ context.Context, accountID string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make(map[string]bool)
	for promoID, byAccount := range r.claims {
		if _, ok := byAccount[accountID]; ok {
			res[promoID] = true
		}
	}
	return res, nil
}

// CreateTopUp сохраняет заявку на пополнение кошелька.
func (r *MemoryRepository) CreateTopUp(_ context.Context, req model.TopUpRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.topUps[req.ID] = req
	return nil
}

// GetTopUp возвращает заявку на пополнение по идентификатору.
func (r *MemoryRepository) GetTopUp(_ context.Context, id string) (*model.TopUpRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.topUps[id]
	if !ok {
		return nil, ErrTopUpNotFound
	}
	return &req, nil
}

// ListTopUps возвращает заявки с указанным статусом; пустой статус означает все заявки.
func (r *MemoryRepository) ListTopUps(_ context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.TopUpRequest
	for _, req := range r.topUps {
		if status == "" || req.Status == status {
			res = append(res, req)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// TopUpStats возвращает количество заявок по статусам.
func (r *MemoryRepository) TopUpStats(_ context.Context) (*model.TopUpStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats model.TopUpStats
	for _, req := range r.topUps {
		switch req.Status {
		case model.TopUpPending:
			stats.Pending++
		case model.TopUpApproved:
			stats.Approved++
		case model.TopUpRejected:
			stats.Rejected++
		}
	}
	return &stats, nil
}

// SaveLeaderboard заменяет материализованный рейтинг целиком.
func (r *MemoryRepository) SaveLeaderboard(_ context.Context, entries []model.LeaderboardEntry, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaderboard = append([]model.LeaderboardEntry(nil), entries...)
	return nil
}

// GetLeaderboard возвращает материализованный рейтинг.
func (r *MemoryRepository) GetLeaderboard(_ context.Context) ([]model.LeaderboardEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.LeaderboardEntry(nil), r.leaderboard...), nil
}

// PendingEvents возвращает неотправленные события в порядке создания.
func (r *MemoryRepository) PendingEvents(_ context.Context, limit int) ([]OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []OutboxEvent
	for _, ev := range r.outbox {
		if len(res) >= limit {
			break
		}
		if ev.status == OutboxPending {
			res = append(res, ev.OutboxEvent)
		}
	}
	return res, nil
}

// MarkEventSent удаляет доставленное событие из очереди.
func (r *MemoryRepository) MarkEventSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].Event.ID == id {
			r.outbox[i].status = OutboxSent
		}
	}
	r.compactOutbox()
	return nil
}

// MarkEventFailed увеличивает счётчик попыток; после maxAttempts событие помечается FAILED
// и удаляется из очереди.
func (r *MemoryRepository) MarkEventFailed(_ context.Context, id, _ string, maxAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].Event.ID == id {
			r.outbox[i].Attempts++
			if r.outbox[i].Attempts >= maxAttempts {
				r.outbox[i].status = OutboxFailed
			}
		}
	}
	r.compactOutbox()
	return nil
}

// compactOutbox оставляет в очереди только ожидающие отправки события. Вызывается под r.mu.
func (r *MemoryRepository) compactOutbox() {
	pending := r.outbox[:0]
	for _, ev := range r.outbox {
		if ev.status == OutboxPending {
			pending = append(pending, ev)
		}
	}
	clear(r.outbox[len(pending):])
	r.outbox = pending
}
