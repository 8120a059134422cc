package oplock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
)

const (
	// Running operations older than this are considered abandoned by a
	// crashed worker and reclaimable
	defaultStaleAfter = 60 * time.Second

	// Terminal rows older than this get deleted by Cleanup
	defaultCleanupAfter = 1 * time.Hour
)

type Config struct {
	// Zero values fall back to defaults
	StaleAfter   time.Duration
	CleanupAfter time.Duration
}

// Serializes credit-consuming batches per account. Correctness comes
// from the storage-level partial unique index, never from in-process
// locking: the service runs in multiple instances
type Service struct {
	storage      repository.Storage
	logger       logger.Logger
	staleAfter   time.Duration
	cleanupAfter time.Duration
}

func NewService(cfg Config, storage repository.Storage, l logger.Logger) *Service {
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.CleanupAfter == 0 {
		cfg.CleanupAfter = defaultCleanupAfter
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage:      storage,
		logger:       l,
		staleAfter:   cfg.StaleAfter,
		cleanupAfter: cfg.CleanupAfter,
	}
}

type AcquireResult struct {
	Acquired  bool
	Operation models.Operation

	// The operation currently holding the lock, set when Acquired is false
	Existing models.Operation
}

// Acquire tries to take the per-account operation lock. It first
// reclaims a stale lock left by a crashed worker, then inserts the
// running row. A losing racer gets the holder's details so the caller
// can tell the user what is already running
func (s *Service) Acquire(ctx context.Context, accountID uuid.UUID, operationType string, cardCount int) (AcquireResult, error) {
	account, err := s.storage.Account().GetAccount(ctx, accountID)
	if err != nil {
		return AcquireResult{}, err
	}
	if account.Flagged {
		return AcquireResult{}, apperrors.ErrAccountFlagged
	}

	if _, err := s.SweepStale(ctx, &accountID); err != nil {
		return AcquireResult{}, fmt.Errorf("can't sweep stale operations. Err: %w", err)
	}

	op, err := s.storage.Operation().Create(ctx, accountID, operationType, cardCount)

	switch {
	case err == nil:
		return AcquireResult{Acquired: true, Operation: op}, nil
	case errors.Is(err, apperrors.ErrOperationLocked):
		existing, getErr := s.storage.Operation().GetRunning(ctx, accountID)
		if getErr != nil && !errors.Is(getErr, apperrors.ErrOperationNotFound) {
			return AcquireResult{}, getErr
		}
		return AcquireResult{Existing: existing}, err
	default:
		return AcquireResult{}, err
	}
}

// Release moves the operation to completed or failed. A missing row is
// fine: the release may race the sweeper's cleanup
func (s *Service) Release(ctx context.Context, accountID uuid.UUID, operationID uuid.UUID, status string) error {
	if status != models.OperationStatusCompleted && status != models.OperationStatusFailed {
		return fmt.Errorf("can't release operation to status %q", status)
	}

	count, err := s.storage.Operation().SetStatus(ctx, accountID, operationID, status)
	if err != nil {
		return err
	}
	if count == 0 {
		s.logger.Debug("operation already gone on release", "account_id", accountID, "operation_id", operationID)
	}

	return nil
}

// ReleaseAll ends every running operation of the account. Used by the
// out-of-band stop request that doesn't know the operation id
func (s *Service) ReleaseAll(ctx context.Context, accountID uuid.UUID, status string) (int64, error) {
	if status != models.OperationStatusCompleted && status != models.OperationStatusFailed {
		return 0, fmt.Errorf("can't release operations to status %q", status)
	}

	return s.storage.Operation().ReleaseAll(ctx, accountID, status)
}

// SweepStale marks long-running operations stale. Nil accountID sweeps
// every account (the periodic job), a concrete id sweeps inline before
// an acquire
func (s *Service) SweepStale(ctx context.Context, accountID *uuid.UUID) (int64, error) {
	count, err := s.storage.Operation().MarkStale(ctx, accountID, time.Now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Warn("reclaimed stale operations", "count", count)
	}

	return count, nil
}

// Cleanup deletes terminal rows past the retention threshold. Periodic
// housekeeping only, never called on the hot path
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	return s.storage.Operation().DeleteTerminal(ctx, time.Now().Add(-s.cleanupAfter))
}
