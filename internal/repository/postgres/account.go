package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, username, password_hash)
VALUES ($1, $2, $3)
RETURNING id, created_at, username, password_hash, balance, tier, last_claim_at, is_flagged, is_admin
`

func (r *AccountRepo) CreateAccount(ctx context.Context, username string, hashedPassword string) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, createAccount, uuid.New(), username, hashedPassword)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return account, apperrors.ErrAccountAlreadyExists
		}
		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccount = `-- name: GetAccount
SELECT id, created_at, username, password_hash, balance, tier, last_claim_at, is_flagged, is_admin
FROM accounts
WHERE id = $1
`

func (r *AccountRepo) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccount, accountID)
	return collectAccount(rows)
}

const getAccountByUsername = `-- name: GetAccountByUsername
SELECT id, created_at, username, password_hash, balance, tier, last_claim_at, is_flagged, is_admin
FROM accounts
WHERE username = $1
`

func (r *AccountRepo) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccountByUsername, username)
	return collectAccount(rows)
}

const getAccountForUpdate = `-- name: GetAccountForUpdate
SELECT id, created_at, username, password_hash, balance, tier, last_claim_at, is_flagged, is_admin
FROM accounts
WHERE id = $1
FOR UPDATE
`

// Locks the account row until the surrounding transaction ends, so
// concurrent balance mutators on the same account serialize here
func (r *AccountRepo) GetAccountForUpdate(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccountForUpdate, accountID)
	return collectAccount(rows)
}

const updateBalance = `-- name: UpdateBalance
UPDATE accounts SET balance = $2
WHERE id = $1
`

func (r *AccountRepo) UpdateBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	tag, err := r.DB.Exec(ctx, updateBalance, accountID, balance)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

const updateBalanceCAS = `-- name: UpdateBalanceCAS
UPDATE accounts SET balance = $3
WHERE id = $1 AND balance = $2
`

// Compare-and-swap on balance: no row changes if someone moved the
// balance since it was observed, the caller re-reads and retries
func (r *AccountRepo) UpdateBalanceCAS(ctx context.Context, accountID uuid.UUID, observed decimal.Decimal, balance decimal.Decimal) (bool, error) {
	tag, err := r.DB.Exec(ctx, updateBalanceCAS, accountID, observed, balance)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const claimDaily = `-- name: ClaimDaily
UPDATE accounts SET last_claim_at = $2
WHERE id = $1 AND (last_claim_at IS NULL OR last_claim_at <= $3)
`

// Takes the daily claim slot atomically: the condition re-checks the
// window inside the statement so two concurrent claims cannot both pass
func (r *AccountRepo) ClaimDaily(ctx context.Context, accountID uuid.UUID, claimedAt time.Time, window time.Duration) (bool, error) {
	tag, err := r.DB.Exec(ctx, claimDaily, accountID, claimedAt, claimedAt.Add(-window))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const setFlagged = `-- name: SetFlagged
UPDATE accounts SET is_flagged = $2
WHERE id = $1
`

func (r *AccountRepo) SetFlagged(ctx context.Context, accountID uuid.UUID, flagged bool) error {
	tag, err := r.DB.Exec(ctx, setFlagged, accountID, flagged)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

const setTier = `-- name: SetTier
UPDATE accounts SET tier = $2
WHERE id = $1
`

func (r *AccountRepo) SetTier(ctx context.Context, accountID uuid.UUID, tier string) error {
	tag, err := r.DB.Exec(ctx, setTier, accountID, tier)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

func collectAccount(rows pgx.Rows) (models.Account, error) {
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.CreatedAt, &a.Username, &a.HashedPassword, &a.Balance, &a.Tier, &a.LastClaimAt, &a.Flagged, &a.Admin)
	return a, err
}
