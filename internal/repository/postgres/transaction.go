package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const createTransaction = `-- name: CreateTransaction
INSERT INTO credit_transactions
	(id, created_at, account_id, amount, balance_after, type, idempotency_key, reference, description, gateway_id, price_approved, price_live)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id, created_at, account_id, amount, balance_after, type, idempotency_key, reference, description, gateway_id, price_approved, price_live
`

func (r *TransactionRepo) Create(ctx context.Context, tr models.Transaction) (models.Transaction, error) {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createTransaction,
		tr.ID, tr.CreatedAt, tr.AccountID, tr.Amount, tr.BalanceAfter, tr.Type,
		tr.IdempotencyKey, tr.Reference, tr.Description, tr.GatewayID, tr.PriceApproved, tr.PriceLive,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return created, apperrors.ErrIdempotencyKeyTaken
		}
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getByIdempotencyKey = `-- name: GetByIdempotencyKey
SELECT id, created_at, account_id, amount, balance_after, type, idempotency_key, reference, description, gateway_id, price_approved, price_live
FROM credit_transactions
WHERE idempotency_key = $1
`

func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getByIdempotencyKey, key)
	tr, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return tr, nil
	case errors.Is(err, pgx.ErrNoRows):
		return tr, apperrors.ErrTransactionNotFound
	default:
		return tr, fmt.Errorf("db error: %w", err)
	}
}

const defaultListLimit = 50

func (r *TransactionRepo) List(ctx context.Context, accountID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	query := `
	SELECT id, created_at, account_id, amount, balance_after, type, idempotency_key, reference, description, gateway_id, price_approved, price_live
	FROM credit_transactions
	WHERE account_id = $1`
	args := []any{accountID}

	if opts.Type != "" {
		args = append(args, opts.Type)
		query += " AND type = $" + strconv.Itoa(len(args))
	}
	if opts.After != nil {
		args = append(args, *opts.After)
		query += " AND created_at >= $" + strconv.Itoa(len(args))
	}
	if opts.Before != nil {
		args = append(args, *opts.Before)
		query += " AND created_at < $" + strconv.Itoa(len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, opts.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, _ := r.DB.Query(ctx, query, args...)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

const sumAmounts = `-- name: SumAmounts
SELECT COALESCE(SUM(amount), 0)
FROM credit_transactions
WHERE account_id = $1
`

func (r *TransactionRepo) SumAmounts(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	rows, _ := r.DB.Query(ctx, sumAmounts, accountID)
	sum, err := pgx.CollectOneRow(rows, pgx.RowTo[decimal.Decimal])
	if err != nil {
		return decimal.Zero, fmt.Errorf("db error: %w", err)
	}
	return sum, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.CreatedAt, &t.AccountID, &t.Amount, &t.BalanceAfter, &t.Type,
		&t.IdempotencyKey, &t.Reference, &t.Description, &t.GatewayID, &t.PriceApproved, &t.PriceLive,
	)
	return t, err
}
