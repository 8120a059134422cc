package apperrors

import (
	"errors"
)

var (
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountFlagged       = errors.New("account is flagged for abuse")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenIsUsed   = errors.New("refresh token is used")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")

	ErrInvalidAmount = errors.New("amount must be a positive number")

	// Unique idempotency_key index rejected the insert: the same request
	// was recorded already, callers return the recorded result instead
	ErrIdempotencyKeyTaken = errors.New("idempotency key already used")
	ErrTransactionNotFound = errors.New("transaction not found")

	// Conditional balance update lost the race too many times
	ErrConflict = errors.New("concurrent balance modification")

	// Another running operation exists for the account
	ErrOperationLocked   = errors.New("operation already running for account")
	ErrOperationNotFound = errors.New("operation not found")

	ErrGatewayNotFound = errors.New("gateway config not found")
)
