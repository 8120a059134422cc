package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
)

const (
	// Bounded retry for the conditional balance update. After the last
	// attempt the debit fails with apperrors.ErrConflict
	casMaxAttempts = 5
	casBackoff     = 10 * time.Millisecond
)

// Internal marker: the conditional update found a changed balance
var errCASMiss = errors.New("balance changed since observed")

type pricingResolver interface {
	// Resolve pricing for the gateway, defaults if unknown or store unavailable
	GetPricing(ctx context.Context, gatewayID string) models.GatewayPricing
}

// The only writer of account balances and transaction rows
type Service struct {
	storage repository.Storage
	pricing pricingResolver
	logger  logger.Logger
}

func NewService(storage repository.Storage, pricing pricingResolver, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage: storage,
		pricing: pricing,
		logger:  l,
	}
}

// Cards per outcome class in one classified batch
type OutcomeCounts struct {
	Approved int
	Live     int
}

type CreditOpts struct {
	IdempotencyKey string
	Description    string
	Reference      string
}

type DebitOpts struct {
	IdempotencyKey string
	Reference      string
}

type MutationResult struct {
	TransactionID   uuid.UUID
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal

	// True when the idempotency key matched an earlier transaction and
	// nothing was mutated this time
	Duplicate bool
}

type DebitResult struct {
	// False only when the balance could not cover the cost
	OK                 bool
	InsufficientCredit bool

	RequiredCredits decimal.Decimal
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal

	// Nil uuid when no transaction was created (free outcome classes)
	TransactionID uuid.UUID
	Duplicate     bool

	// Pricing used to compute the charge
	Pricing models.GatewayPricing
}

type AffordCheck struct {
	CanContinue bool
	Balance     decimal.Decimal
	Cost        decimal.Decimal
	Shortfall   decimal.Decimal
}

func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	account, err := s.storage.Account().GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// Credit adds amount to the account balance and records a transaction, as
// one atomic unit. With an idempotency key the operation applies at most
// once: replays return the recorded result
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txType string, opts CreditOpts) (MutationResult, error) {
	if !amount.IsPositive() {
		return MutationResult{}, apperrors.ErrInvalidAmount
	}

	// Fast path only: the unique index on idempotency_key is the actual guarantee
	if opts.IdempotencyKey != "" {
		tr, err := s.storage.Transaction().GetByIdempotencyKey(ctx, opts.IdempotencyKey)
		if err == nil {
			return duplicateResult(tr), nil
		}
	}

	var result MutationResult
	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		result, err = CreditTx(ctx, st, accountID, amount, txType, opts)
		return err
	})

	if errors.Is(err, apperrors.ErrIdempotencyKeyTaken) && opts.IdempotencyKey != "" {
		tr, getErr := s.storage.Transaction().GetByIdempotencyKey(ctx, opts.IdempotencyKey)
		if getErr != nil {
			return result, fmt.Errorf("can't load duplicate transaction. Err: %w", getErr)
		}
		return duplicateResult(tr), nil
	}

	return result, err
}

// CreditTx is the credit mutation scoped to an already open storage
// transaction. Used by Credit itself and by services that must bundle a
// credit with their own writes (the daily claim gate does)
func CreditTx(ctx context.Context, st repository.Storage, accountID uuid.UUID, amount decimal.Decimal, txType string, opts CreditOpts) (MutationResult, error) {
	if !amount.IsPositive() {
		return MutationResult{}, apperrors.ErrInvalidAmount
	}

	account, err := st.Account().GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return MutationResult{}, err
	}

	newBalance := account.Balance.Add(amount)

	tr, err := st.Transaction().Create(ctx, models.Transaction{
		AccountID:      accountID,
		Amount:         amount,
		BalanceAfter:   newBalance,
		Type:           txType,
		IdempotencyKey: optString(opts.IdempotencyKey),
		Description:    optString(opts.Description),
		Reference:      optString(opts.Reference),
	})
	if err != nil {
		return MutationResult{}, err
	}

	if err := st.Account().UpdateBalance(ctx, accountID, newBalance); err != nil {
		return MutationResult{}, err
	}

	return MutationResult{
		TransactionID:   tr.ID,
		PreviousBalance: account.Balance,
		NewBalance:      newBalance,
	}, nil
}

// DebitForOutcomeCounts charges the whole classified batch at once.
// Declines, errors, dead cards and captchas are always free: only
// approved and live cards cost credits. Insufficient balance is a
// structured result, not an error, so the caller can stop the batch
func (s *Service) DebitForOutcomeCounts(ctx context.Context, accountID uuid.UUID, gatewayID string, counts OutcomeCounts, opts DebitOpts) (DebitResult, error) {
	pricing := s.pricing.GetPricing(ctx, gatewayID)

	rawCost := pricing.Approved.Mul(decimal.NewFromInt(int64(counts.Approved))).
		Add(pricing.Live.Mul(decimal.NewFromInt(int64(counts.Live))))

	if rawCost.IsZero() {
		account, err := s.storage.Account().GetAccount(ctx, accountID)
		if err != nil {
			return DebitResult{}, err
		}
		return DebitResult{
			OK:              true,
			PreviousBalance: account.Balance,
			NewBalance:      account.Balance,
			Pricing:         pricing,
		}, nil
	}

	if opts.IdempotencyKey != "" {
		tr, err := s.storage.Transaction().GetByIdempotencyKey(ctx, opts.IdempotencyKey)
		if err == nil {
			return duplicateDebitResult(tr, pricing), nil
		}
	}

	var result DebitResult
	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		account, err := st.Account().GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		cost := rawCost.Mul(models.TierFor(account.Tier).RateMultiplier)

		if account.Balance.LessThan(cost) {
			result = DebitResult{
				InsufficientCredit: true,
				RequiredCredits:    cost,
				PreviousBalance:    account.Balance,
				NewBalance:         account.Balance,
				Pricing:            pricing,
			}
			return nil
		}

		newBalance := account.Balance.Sub(cost)

		tr, err := st.Transaction().Create(ctx, models.Transaction{
			AccountID:      accountID,
			Amount:         cost.Neg(),
			BalanceAfter:   newBalance,
			Type:           models.TransactionTypeUsage,
			IdempotencyKey: optString(opts.IdempotencyKey),
			Reference:      optString(opts.Reference),
			GatewayID:      &pricing.GatewayID,
			PriceApproved:  &pricing.Approved,
			PriceLive:      &pricing.Live,
		})
		if err != nil {
			return err
		}

		if err := st.Account().UpdateBalance(ctx, accountID, newBalance); err != nil {
			return err
		}

		result = DebitResult{
			OK:              true,
			RequiredCredits: cost,
			PreviousBalance: account.Balance,
			NewBalance:      newBalance,
			TransactionID:   tr.ID,
			Pricing:         pricing,
		}
		return nil
	})

	if errors.Is(err, apperrors.ErrIdempotencyKeyTaken) && opts.IdempotencyKey != "" {
		tr, getErr := s.storage.Transaction().GetByIdempotencyKey(ctx, opts.IdempotencyKey)
		if getErr != nil {
			return result, fmt.Errorf("can't load duplicate transaction. Err: %w", getErr)
		}
		return duplicateDebitResult(tr, pricing), nil
	}

	return result, err
}

// DebitSingleUnit charges exactly one card so the submission layer can
// stop the batch after any card. Keeps the compare-and-swap discipline:
// on a concurrent balance change it re-reads and retries, bounded
func (s *Service) DebitSingleUnit(ctx context.Context, accountID uuid.UUID, gatewayID string, outcome string) (DebitResult, error) {
	pricing := s.pricing.GetPricing(ctx, gatewayID)
	unitCost := pricing.CostFor(outcome)

	for attempt := 1; attempt <= casMaxAttempts; attempt++ {
		account, err := s.storage.Account().GetAccount(ctx, accountID)
		if err != nil {
			return DebitResult{}, err
		}

		cost := unitCost.Mul(models.TierFor(account.Tier).RateMultiplier)

		// Free outcome classes never create a transaction
		if cost.IsZero() {
			return DebitResult{
				OK:              true,
				PreviousBalance: account.Balance,
				NewBalance:      account.Balance,
				Pricing:         pricing,
			}, nil
		}

		if account.Balance.LessThan(cost) {
			return DebitResult{
				InsufficientCredit: true,
				RequiredCredits:    cost,
				PreviousBalance:    account.Balance,
				NewBalance:         account.Balance,
				Pricing:            pricing,
			}, nil
		}

		newBalance := account.Balance.Sub(cost)

		var trID uuid.UUID
		err = s.storage.InTx(ctx, func(st repository.Storage) error {
			swapped, err := st.Account().UpdateBalanceCAS(ctx, accountID, account.Balance, newBalance)
			if err != nil {
				return err
			}
			if !swapped {
				return errCASMiss
			}

			tr, err := st.Transaction().Create(ctx, models.Transaction{
				AccountID:     accountID,
				Amount:        cost.Neg(),
				BalanceAfter:  newBalance,
				Type:          models.TransactionTypeUsage,
				GatewayID:     &pricing.GatewayID,
				PriceApproved: &pricing.Approved,
				PriceLive:     &pricing.Live,
			})
			if err != nil {
				return err
			}
			trID = tr.ID
			return nil
		})

		switch {
		case err == nil:
			return DebitResult{
				OK:              true,
				RequiredCredits: cost,
				PreviousBalance: account.Balance,
				NewBalance:      newBalance,
				TransactionID:   trID,
				Pricing:         pricing,
			}, nil
		case errors.Is(err, errCASMiss):
			s.logger.Debug("balance moved under us, retrying debit", "account_id", accountID, "attempt", attempt)
			select {
			case <-time.After(time.Duration(attempt) * casBackoff):
			case <-ctx.Done():
				return DebitResult{}, ctx.Err()
			}
		default:
			return DebitResult{}, err
		}
	}

	return DebitResult{}, apperrors.ErrConflict
}

// CanAfford is a read-only advisory check. If the backing store is
// unreachable it fails open: batch progress is allowed rather than
// blocked, missing account stays an error
func (s *Service) CanAfford(ctx context.Context, accountID uuid.UUID, gatewayID string, outcome string) (AffordCheck, error) {
	pricing := s.pricing.GetPricing(ctx, gatewayID)

	account, err := s.storage.Account().GetAccount(ctx, accountID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return AffordCheck{}, err
	default:
		s.logger.Warn("store unreachable on affordability check, allowing", "account_id", accountID, "error", err)
		return AffordCheck{CanContinue: true}, nil
	}

	cost := pricing.CostFor(outcome).Mul(models.TierFor(account.Tier).RateMultiplier)

	check := AffordCheck{
		CanContinue: account.Balance.GreaterThanOrEqual(cost),
		Balance:     account.Balance,
		Cost:        cost,
	}
	if !check.CanContinue {
		check.Shortfall = cost.Sub(account.Balance)
	}

	return check, nil
}

// ListTransactions returns the account's ledger history, newest first
func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	if _, err := s.storage.Account().GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.storage.Transaction().List(ctx, accountID, opts)
}

func duplicateResult(tr models.Transaction) MutationResult {
	return MutationResult{
		TransactionID:   tr.ID,
		PreviousBalance: tr.BalanceAfter.Sub(tr.Amount),
		NewBalance:      tr.BalanceAfter,
		Duplicate:       true,
	}
}

func duplicateDebitResult(tr models.Transaction, pricing models.GatewayPricing) DebitResult {
	if tr.PriceApproved != nil && tr.PriceLive != nil && tr.GatewayID != nil {
		pricing = models.GatewayPricing{GatewayID: *tr.GatewayID, Approved: *tr.PriceApproved, Live: *tr.PriceLive}
	}
	return DebitResult{
		OK:              true,
		RequiredCredits: tr.Amount.Neg(),
		PreviousBalance: tr.BalanceAfter.Sub(tr.Amount),
		NewBalance:      tr.BalanceAfter,
		TransactionID:   tr.ID,
		Duplicate:       true,
		Pricing:         pricing,
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
