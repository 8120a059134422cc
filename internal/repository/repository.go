package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/models"
)

// Account repository interface
type AccountRepo interface {
	// Create account with zero balance on free tier
	// If account with the username exists must return apperrors.ErrAccountAlreadyExists
	CreateAccount(ctx context.Context, username string, hashedPassword string) (models.Account, error)

	// Get account by id or username
	// If account not found must return apperrors.ErrAccountNotFound
	GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (models.Account, error)

	// Same as GetAccount but locks the row until the surrounding
	// transaction ends. Only meaningful inside Storage.InTx
	GetAccountForUpdate(ctx context.Context, accountID uuid.UUID) (models.Account, error)

	// Unconditional balance write, callers must hold the row lock
	UpdateBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error

	// Conditional balance write: applies only if the stored balance still
	// equals observed. Reports whether the swap happened
	UpdateBalanceCAS(ctx context.Context, accountID uuid.UUID, observed decimal.Decimal, balance decimal.Decimal) (bool, error)

	// Set last_claim_at to claimedAt only if the account is still outside
	// the claim window (last claim is null or at least window before
	// claimedAt). Reports whether the claim slot was taken
	ClaimDaily(ctx context.Context, accountID uuid.UUID, claimedAt time.Time, window time.Duration) (bool, error)

	SetFlagged(ctx context.Context, accountID uuid.UUID, flagged bool) error
	SetTier(ctx context.Context, accountID uuid.UUID, tier string) error
}

type ListTransactionsOpts struct {
	Type   string // empty means any type
	After  *time.Time
	Before *time.Time
	Limit  int
	Offset int
}

// Transaction repository interface
type TransactionRepo interface {
	// Append transaction row
	// Must return apperrors.ErrIdempotencyKeyTaken if the idempotency key is used already
	Create(ctx context.Context, tr models.Transaction) (models.Transaction, error)

	// If no transaction recorded under the key must return apperrors.ErrTransactionNotFound
	GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error)

	List(ctx context.Context, accountID uuid.UUID, opts ListTransactionsOpts) ([]models.Transaction, error)

	// Sum of all recorded amounts for the account, zero if none
	SumAmounts(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

// Operation repository interface
type OperationRepo interface {
	// Insert a running operation row
	// Must return apperrors.ErrOperationLocked if another running row exists for the account
	Create(ctx context.Context, accountID uuid.UUID, operationType string, cardCount int) (models.Operation, error)

	// Currently running operation for the account
	// Must return apperrors.ErrOperationNotFound if there is none
	GetRunning(ctx context.Context, accountID uuid.UUID) (models.Operation, error)

	// Move one running operation to a terminal status
	// Reports how many rows changed: zero is not an error, a release may
	// race the sweeper's cleanup
	SetStatus(ctx context.Context, accountID uuid.UUID, operationID uuid.UUID, status string) (int64, error)

	// Move every running operation of the account to a terminal status
	ReleaseAll(ctx context.Context, accountID uuid.UUID, status string) (int64, error)

	// Mark running operations started before the deadline as stale
	// Nil accountID sweeps globally
	MarkStale(ctx context.Context, accountID *uuid.UUID, startedBefore time.Time) (int64, error)

	// Delete terminal operations finished before the deadline
	DeleteTerminal(ctx context.Context, completedBefore time.Time) (int64, error)
}

// Gateway pricing repository interface
type PricingRepo interface {
	// Must return apperrors.ErrGatewayNotFound if the gateway has no config row
	Get(ctx context.Context, gatewayID string) (models.GatewayPricing, error)
	ListAll(ctx context.Context) ([]models.GatewayPricing, error)
	Upsert(ctx context.Context, pricing models.GatewayPricing) (models.GatewayPricing, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	Save(ctx context.Context, token models.RefreshToken) error

	// Return the token and mark it used in one statement
	// If the token is already used must return apperrors.ErrRefreshTokenIsUsed
	// and must not overwrite the existing used_at
	GetAndMarkUsed(ctx context.Context, tokenString string) (models.RefreshToken, error)
}

// Storage aggregates repositories sharing one connection or transaction
type Storage interface {
	Account() AccountRepo
	Transaction() TransactionRepo
	Operation() OperationRepo
	Pricing() PricingRepo
	Refresh() RefreshTokenRepo

	// Run fn with a Storage bound to a single database transaction.
	// Rolls back if fn returns an error
	InTx(ctx context.Context, fn func(Storage) error) error
}
