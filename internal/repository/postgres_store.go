package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// FindRecordByKey возвращает запись журнала по ключу идемпотентности.
func (r *PostgresRepository) FindRecordByKey(ctx context.Context, key string) (*model.TransactionRecord, error) {
	return findRecordByKey(ctx, r.pool, key)
}

// ListTransactions возвращает последние записи общего журнала.
func (r *PostgresRepository) ListTransactions(ctx context.Context, limit int) ([]model.TransactionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM transactions ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	return collectRecords(rows)
}

// ListAccountTransactions возвращает журнал клиента, новые записи первыми.
func (r *PostgresRepository) ListAccountTransactions(ctx context.Context, accountID string) ([]model.TransactionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select account transactions: %w", err)
	}
	return collectRecords(rows)
}

const orderColumns = `id, account_id, line_items, subtotal, status, payment_method, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
		method string
	)
	if err := row.Scan(&o.ID, &o.AccountID, &o.LineItems, &o.Subtotal, &status, &method, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentMethod(method)
	return &o, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) error {
	items := o.LineItems
	if items == nil {
		items = []model.LineItem{}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, account_id, line_items, subtotal, status, payment_method, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.AccountID, items, o.Subtotal, string(o.Status), string(o.PaymentMethod), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

const promotionColumns = `id, title, description, price, valid_from, valid_to, scope, applicable_tiers,
	target_account_id, category, single_use, created_at`

func scanPromotion(row pgx.Row) (*model.Promotion, error) {
	var (
		p     model.Promotion
		scope string
		tiers []string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Price, &p.ValidFrom, &p.ValidTo, &scope, &tiers,
		&p.TargetAccountID, &p.Category, &p.SingleUse, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Scope = model.PromotionScope(scope)
	for _, t := range tiers {
		p.ApplicableTiers = append(p.ApplicableTiers, model.Tier(t))
	}
	return &p, nil
}

// CreatePromotion сохраняет акцию.
func (r *PostgresRepository) CreatePromotion(ctx context.Context, p model.Promotion) error {
	tiers := make([]string, 0, len(p.ApplicableTiers))
	for _, t := range p.ApplicableTiers {
		tiers = append(tiers, string(t))
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO promotions (id, title, description, price, valid_from, valid_to, scope, applicable_tiers,
			target_account_id, category, single_use, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Title, p.Description, p.Price, p.ValidFrom, p.ValidTo, string(p.Scope), tiers,
		p.TargetAccountID, p.Category, p.SingleUse, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert promotion: %w", err)
	}
	return nil
}

// GetPromotion возвращает акцию по идентификатору.
func (r *PostgresRepository) GetPromotion(ctx context.Context, id string) (*model.Promotion, error) {
	p, err := scanPromotion(r.pool.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromotionNotFound
		}
		return nil, fmt.Errorf("get promotion: %w", err)
	}
	return p, nil
}

// ListPromotions возвращает все акции, новые первыми.
func (r *PostgresRepository) ListPromotions(ctx context.Context) ([]model.Promotion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+promotionColumns+` FROM promotions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select promotions: %w", err)
	}
	defer rows.Close()

	var res []model.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ClaimedPromotions возвращает идентификаторы одноразовых акций, уже использованных клиентом.
func (r *PostgresRepository) ClaimedPromotions(ctx context.Context, accountID string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT promotion_id FROM promotion_claims WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select promotion claims: %w", err)
	}
	defer rows.Close()

	res := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan promotion claim: %w", err)
		}
		res[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const topUpColumns = `id, account_id, reference_no, requested_amount, approved_amount, status, created_at, resolved_at`

func scanTopUp(row pgx.Row) (*model.TopUpRequest, error) {
	var (
		req       model.TopUpRequest
		requested decimal.NullDecimal
		approved  decimal.NullDecimal
		status    string
	)
	if err := row.Scan(&req.ID, &req.AccountID, &req.ReferenceNo, &requested, &approved, &status, &req.CreatedAt, &req.ResolvedAt); err != nil {
		return nil, err
	}
	if requested.Valid {
		req.RequestedAmount = &requested.Decimal
	}
	if approved.Valid {
		req.ApprovedAmount = &approved.Decimal
	}
	req.Status = model.TopUpStatus(status)
	return &req, nil
}

// CreateTopUp сохраняет заявку на пополнение кошелька.
func (r *PostgresRepository) CreateTopUp(ctx context.Context, req model.TopUpRequest) error {
	var requested decimal.NullDecimal
	if req.RequestedAmount != nil {
		requested = decimal.NewNullDecimal(*req.RequestedAmount)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO topup_requests (id, account_id, reference_no, requested_amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.AccountID, req.ReferenceNo, requested, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert top-up request: %w", err)
	}
	return nil
}

// GetTopUp возвращает заявку на пополнение по идентификатору.
func (r *PostgresRepository) GetTopUp(ctx context.Context, id string) (*model.TopUpRequest, error) {
	req, err := scanTopUp(r.pool.QueryRow(ctx, `SELECT `+topUpColumns+` FROM topup_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTopUpNotFound
		}
		return nil, fmt.Errorf("get top-up request: %w", err)
	}
	return req, nil
}

// ListTopUps возвращает заявки с указанным статусом; пустой статус означает все заявки.
func (r *PostgresRepository) ListTopUps(ctx context.Context, status model.TopUpStatus) ([]model.TopUpRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+topUpColumns+` FROM topup_requests
		 WHERE $1 = '' OR status = $1
		 ORDER BY created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select top-up requests: %w", err)
	}
	defer rows.Close()

	var res []model.TopUpRequest
	for rows.Next() {
		req, err := scanTopUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan top-up request: %w", err)
		}
		res = append(res, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// TopUpStats возвращает количество заявок по статусам.
func (r *PostgresRepository) TopUpStats(ctx context.Context) (*model.TopUpStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM topup_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count top-up requests: %w", err)
	}
	defer rows.Close()

	var stats model.TopUpStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan top-up count: %w", err)
		}
		switch model.TopUpStatus(status) {
		case model.TopUpPending:
			stats.Pending = count
		case model.TopUpApproved:
			stats.Approved = count
		case model.TopUpRejected:
			stats.Rejected = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &stats, nil
}

// SaveLeaderboard заменяет материализованный рейтинг целиком.
func (r *PostgresRepository) SaveLeaderboard(ctx context.Context, entries []model.LeaderboardEntry, builtAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM leaderboard`); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO leaderboard (rank, account_id, full_name, tier, total_points_earned,
				total_transactions, total_visits, built_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.Rank, e.AccountID, e.FullName, string(e.Tier), e.TotalPointsEarned,
			e.TotalTransactions, e.TotalVisits, builtAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert leaderboard: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetLeaderboard возвращает материализованный рейтинг.
func (r *PostgresRepository) GetLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rank, account_id, full_name, tier, total_points_earned, total_transactions, total_visits
		 FROM leaderboard ORDER BY rank`,
	)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}
	defer rows.Close()

	var res []model.LeaderboardEntry
	for rows.Next() {
		var (
			e    model.LeaderboardEntry
			tier string
		)
		if err := rows.Scan(&e.Rank, &e.AccountID, &e.FullName, &tier, &e.TotalPointsEarned, &e.TotalTransactions, &e.TotalVisits); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		e.Tier = model.Tier(tier)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// PendingEvents возвращает неотправленные события в порядке создания.
func (r *PostgresRepository) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, entity, action, entity_id, account_id, payload, created_at, attempts
		 FROM outbox_events
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		OutboxPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select outbox events: %w", err)
	}
	defer rows.Close()

	var res []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		e := &ev.Event
		if err := rows.Scan(&e.ID, &e.Entity, &e.Action, &e.EntityID, &e.AccountID, &e.Payload, &e.CreatedAt, &ev.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		res = append(res, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkEventSent помечает событие доставленным.
func (r *PostgresRepository) MarkEventSent(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET status = $2, sent_at = now() WHERE id = $1`,
		id, OutboxSent,
	)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	return nil
}

// MarkEventFailed увеличивает счётчик попыток; после maxAttempts событие помечается FAILED.
func (r *PostgresRepository) MarkEventFailed(ctx context.Context, id, reason string, maxAttempts int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox_events
		 SET attempts = attempts + 1,
		     last_error = $2,
		     status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE status END
		 WHERE id = $1`,
		id, reason, maxAttempts, OutboxFailed,
	)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}
