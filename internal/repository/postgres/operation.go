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

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
)

type OperationRepo struct {
	DB DBTX
}

const createOperation = `-- name: CreateOperation
INSERT INTO active_operations (id, account_id, operation_type, status, card_count, started_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, account_id, operation_type, status, card_count, started_at, completed_at
`

// Insert-or-fail on the partial unique index is the mutual exclusion
// mechanism. No advisory locks: those don't survive pooled connections
func (r *OperationRepo) Create(ctx context.Context, accountID uuid.UUID, operationType string, cardCount int) (models.Operation, error) {
	rows, _ := r.DB.Query(ctx, createOperation,
		uuid.New(), accountID, operationType, models.OperationStatusRunning, cardCount, time.Now(),
	)
	op, err := pgx.CollectOneRow(rows, rowToOperation)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return op, apperrors.ErrOperationLocked
		}
		return op, fmt.Errorf("db error: %w", err)
	}

	return op, nil
}

const getRunningOperation = `-- name: GetRunningOperation
SELECT id, account_id, operation_type, status, card_count, started_at, completed_at
FROM active_operations
WHERE account_id = $1 AND status = 'running'
`

func (r *OperationRepo) GetRunning(ctx context.Context, accountID uuid.UUID) (models.Operation, error) {
	rows, _ := r.DB.Query(ctx, getRunningOperation, accountID)
	op, err := pgx.CollectOneRow(rows, rowToOperation)

	switch {
	case err == nil:
		return op, nil
	case errors.Is(err, pgx.ErrNoRows):
		return op, apperrors.ErrOperationNotFound
	default:
		return op, fmt.Errorf("db error: %w", err)
	}
}

const setOperationStatus = `-- name: SetOperationStatus
UPDATE active_operations
SET status = $3, completed_at = $4
WHERE account_id = $1 AND id = $2 AND status = 'running'
`

func (r *OperationRepo) SetStatus(ctx context.Context, accountID uuid.UUID, operationID uuid.UUID, status string) (int64, error) {
	tag, err := r.DB.Exec(ctx, setOperationStatus, accountID, operationID, status, time.Now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const releaseAllOperations = `-- name: ReleaseAllOperations
UPDATE active_operations
SET status = $2, completed_at = $3
WHERE account_id = $1 AND status = 'running'
`

func (r *OperationRepo) ReleaseAll(ctx context.Context, accountID uuid.UUID, status string) (int64, error) {
	tag, err := r.DB.Exec(ctx, releaseAllOperations, accountID, status, time.Now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const markStaleAll = `-- name: MarkStaleAll
UPDATE active_operations
SET status = 'stale', completed_at = $1
WHERE status = 'running' AND started_at < $2
`

const markStaleForAccount = `-- name: MarkStaleForAccount
UPDATE active_operations
SET status = 'stale', completed_at = $1
WHERE status = 'running' AND started_at < $2 AND account_id = $3
`

func (r *OperationRepo) MarkStale(ctx context.Context, accountID *uuid.UUID, startedBefore time.Time) (int64, error) {
	var tag pgconn.CommandTag
	var err error

	if accountID == nil {
		tag, err = r.DB.Exec(ctx, markStaleAll, time.Now(), startedBefore)
	} else {
		tag, err = r.DB.Exec(ctx, markStaleForAccount, time.Now(), startedBefore, *accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const deleteTerminalOperations = `-- name: DeleteTerminalOperations
DELETE FROM active_operations
WHERE status IN ('completed', 'failed', 'stale') AND completed_at < $1
`

func (r *OperationRepo) DeleteTerminal(ctx context.Context, completedBefore time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteTerminalOperations, completedBefore)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToOperation(row pgx.CollectableRow) (models.Operation, error) {
	var o models.Operation
	err := row.Scan(&o.ID, &o.AccountID, &o.Type, &o.Status, &o.CardCount, &o.StartedAt, &o.CompletedAt)
	return o, err
}
