package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool      *pgxpool.Pool
	retryBase time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, retryBase: mutateRetryBase}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// withRetry повторяет fn с экспоненциальной задержкой при конфликтах сериализации,
// взаимных блокировках и обрывах соединения. После исчерпания попыток возвращает ErrBusy.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(mutateMaxRetries, retry.WithJitterPercent(20, retry.NewExponential(r.retryBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && isRetryable(err) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Ошибки контекста не повторяем
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.LockNotAvailable
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, full_name, COALESCE(mobile, ''), points_balance, wallet_balance,
	total_points_earned, total_spent, total_transactions, total_visits, last_visit_date,
	tier, status, favorite_category, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a      model.Account
		tier   string
		status string
	)
	err := row.Scan(&a.ID, &a.FullName, &a.Mobile, &a.PointsBalance, &a.WalletBalance,
		&a.TotalPointsEarned, &a.TotalSpent, &a.TotalTransactions, &a.TotalVisits, &a.LastVisitDate,
		&tier, &status, &a.FavoriteCategory, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Tier = model.Tier(tier)
	a.Status = model.AccountStatus(status)
	return &a, nil
}

// CreateAccount регистрирует новый счёт. Повтор email или телефона возвращает ErrAccountExists.
func (r *PostgresRepository) CreateAccount(ctx context.Context, acc model.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, full_name, mobile, tier, status, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $6)`,
		acc.ID, acc.FullName, acc.Mobile, string(acc.Tier), string(acc.Status), acc.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAccountExists, acc.ID)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount возвращает счёт по идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	acc, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// ListAccounts возвращает снимок всех счетов.
func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var res []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		res = append(res, *acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MutateAccount блокирует строку счёта (SELECT ... FOR UPDATE), применяет fn и сохраняет
// счёт вместе со всеми записями, сделанными через Tx, в одной транзакции.
func (r *PostgresRepository) MutateAccount(ctx context.Context, id string, fn MutateFunc) (*model.Account, error) {
	var result *model.Account

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		acc, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account for update: %w", err)
		}

		if err := fn(acc, &pgTx{q: tx}); err != nil {
			return err
		}

		acc.UpdatedAt = time.Now()
		_, err = tx.Exec(ctx,
			`UPDATE accounts SET
				full_name = $2, points_balance = $3, wallet_balance = $4, total_points_earned = $5,
				total_spent = $6, total_transactions = $7, total_visits = $8, last_visit_date = $9,
				tier = $10, status = $11, favorite_category = $12, updated_at = $13
			 WHERE id = $1`,
			acc.ID, acc.FullName, acc.PointsBalance, acc.WalletBalance, acc.TotalPointsEarned,
			acc.TotalSpent, acc.TotalTransactions, acc.TotalVisits, acc.LastVisitDate,
			string(acc.Tier), string(acc.Status), acc.FavoriteCategory, acc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RunInTx выполняет fn в транзакции без блокировки счёта. Используется для заказов без карты клиента.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{q: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// pgTx реализует Tx поверх открытой транзакции pgx.
type pgTx struct {
	q querier
}

const recordColumns = `id, account_id, order_id, promotion_id, type, amount, payment_method,
	reference_no, line_items, points_used, points_earned, wallet_delta, points_delta, note,
	status, COALESCE(idempotency_key, ''), created_at`

func scanRecord(row pgx.Row) (*model.TransactionRecord, error) {
	var (
		rec    model.TransactionRecord
		typ    string
		method string
		status string
	)
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.OrderID, &rec.PromotionID, &typ, &rec.Amount, &method,
		&rec.ReferenceNo, &rec.LineItems, &rec.PointsUsed, &rec.PointsEarned, &rec.WalletDelta, &rec.PointsDelta,
		&rec.Note, &status, &rec.IdempotencyKey, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Type = model.TransactionType(typ)
	rec.PaymentMethod = model.PaymentMethod(method)
	rec.Status = model.TransactionStatus(status)
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]model.TransactionRecord, error) {
	defer rows.Close()

	var res []model.TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (t *pgTx) FindRecordByKey(ctx context.Context, key string) (*model.TransactionRecord, error) {
	return findRecordByKey(ctx, t.q, key)
}

func findRecordByKey(ctx context.Context, q querier, key string) (*model.TransactionRecord, error) {
	rec, err := scanRecord(q.QueryRow(ctx, `SELECT `+recordColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("find transaction by key: %w", err)
	}
	return rec, nil
}

func (t *pgTx) AppendRecord(ctx context.Context, rec model.TransactionRecord) error {
	items := rec.LineItems
	if items == nil {
		items = []model.LineItem{}
	}

	_, err := t.q.Exec(ctx,
		`INSERT INTO transactions (id, account_id, order_id, promotion_id, type, amount, payment_method,
			reference_no, line_items, points_used, points_earned, wallet_delta, points_delta, note,
			status, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULLIF($16, ''), $17)`,
		rec.ID, rec.AccountID, rec.OrderID, rec.PromotionID, string(rec.Type), rec.Amount, string(rec.PaymentMethod),
		rec.ReferenceNo, items, rec.PointsUsed, rec.PointsEarned, rec.WalletDelta, rec.PointsDelta, rec.Note,
		string(rec.Status), rec.IdempotencyKey, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, rec.IdempotencyKey)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) AccountRecords(ctx context.Context, accountID string) ([]model.TransactionRecord, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+recordColumns+` FROM transactions WHERE account_id = $1 ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select account transactions: %w", err)
	}
	return collectRecords(rows)
}

func (t *pgTx) CancelOrderRecords(ctx context.Context, orderID string) error {
	_, err := t.q.Exec(ctx,
		`UPDATE transactions SET status = $2 WHERE order_id = $1 AND status = $3`,
		orderID, string(model.TransactionCanceled), string(model.TransactionCompleted),
	)
	if err != nil {
		return fmt.Errorf("cancel order transactions: %w", err)
	}
	return nil
}

func (t *pgTx) ClaimPromotion(ctx context.Context, claim model.PromotionClaim) error {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO promotion_claims (promotion_id, account_id, transaction_id, used_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (promotion_id, account_id) DO NOTHING`,
		claim.PromotionID, claim.AccountID, claim.TransactionID, claim.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("insert promotion claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyUsed
	}
	return nil
}

func (t *pgTx) ResolveTopUp(ctx context.Context, id string, status model.TopUpStatus, amount *decimal.Decimal, at time.Time) (*model.TopUpRequest, error) {
	var approved decimal.NullDecimal
	if amount != nil {
		approved = decimal.NewNullDecimal(*amount)
	}

	req, err := scanTopUp(t.q.QueryRow(ctx,
		`UPDATE topup_requests SET status = $2, approved_amount = $3, resolved_at = $4
		 WHERE id = $1 AND status = $5
		 RETURNING `+topUpColumns,
		id, string(status), approved, at, string(model.TopUpPending),
	))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve top-up: %w", err)
	}

	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM topup_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check top-up: %w", err)
	}
	if !exists {
		return nil, ErrTopUpNotFound
	}
	return nil, ErrAlreadyResolved
}

func (t *pgTx) SetOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, method model.PaymentMethod, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE orders SET status = $3, payment_method = COALESCE(NULLIF($4, ''), payment_method), updated_at = $5
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), string(method), at,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrOrderStatus
}

func (t *pgTx) Enqueue(ctx context.Context, ev model.Event) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO outbox_events (id, entity, action, entity_id, account_id, payload, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.Entity, ev.Action, ev.EntityID, ev.AccountID, ev.Payload, OutboxPending, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
