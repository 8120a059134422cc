package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
	"github.com/osmakov/creditgate/internal/service/ledger"
)

// Rolling window instead of a calendar-day reset, so the grant can't be
// doubled around midnight
const claimWindow = 20 * time.Hour

// One credit grant per account per rolling window, amount set by tier
type Gate struct {
	storage repository.Storage
	logger  logger.Logger

	// Injectable clock for window tests
	now func() time.Time
}

func NewGate(storage repository.Storage, l logger.Logger) *Gate {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Gate{
		storage: storage,
		logger:  l,
		now:     time.Now,
	}
}

type Eligibility struct {
	CanClaim    bool
	ClaimAmount decimal.Decimal

	// When the next claim unlocks, nil if claimable right now
	NextClaimAvailable *time.Time
}

type Result struct {
	// False means AlreadyClaimed
	Claimed            bool
	Amount             decimal.Decimal
	NewBalance         decimal.Decimal
	NextClaimAvailable time.Time
}

// CheckEligibility is advisory: the claim itself re-verifies, callers
// must not treat this answer as a reservation
func (g *Gate) CheckEligibility(ctx context.Context, accountID uuid.UUID) (Eligibility, error) {
	account, err := g.storage.Account().GetAccount(ctx, accountID)
	if err != nil {
		return Eligibility{}, err
	}

	return g.eligibilityFor(account), nil
}

// Claim re-checks the window atomically at claim time (the eligibility
// answer a caller saw earlier may be stale) and credits the tier's daily
// amount in the same storage transaction
func (g *Gate) Claim(ctx context.Context, accountID uuid.UUID) (Result, error) {
	var result Result

	err := g.storage.InTx(ctx, func(st repository.Storage) error {
		account, err := st.Account().GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		now := g.now()
		amount := models.TierFor(account.Tier).DailyClaim

		taken, err := st.Account().ClaimDaily(ctx, accountID, now, claimWindow)
		if err != nil {
			return err
		}
		if !taken {
			next := now
			if account.LastClaimAt != nil {
				next = account.LastClaimAt.Add(claimWindow)
			}
			result = Result{NextClaimAvailable: next}
			return nil
		}

		credited, err := ledger.CreditTx(ctx, st, accountID, amount, models.TransactionTypeClaim, ledger.CreditOpts{
			Description: fmt.Sprintf("daily claim (%s tier)", account.Tier),
		})
		if err != nil {
			return err
		}

		result = Result{
			Claimed:            true,
			Amount:             amount,
			NewBalance:         credited.NewBalance,
			NextClaimAvailable: now.Add(claimWindow),
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if result.Claimed {
		g.logger.Info("daily claim granted", "account_id", accountID, "amount", result.Amount)
	}

	return result, nil
}

func (g *Gate) eligibilityFor(account models.Account) Eligibility {
	amount := models.TierFor(account.Tier).DailyClaim

	if account.LastClaimAt == nil {
		return Eligibility{CanClaim: true, ClaimAmount: amount}
	}

	next := account.LastClaimAt.Add(claimWindow)
	if !g.now().Before(next) {
		return Eligibility{CanClaim: true, ClaimAmount: amount}
	}

	return Eligibility{ClaimAmount: amount, NextClaimAvailable: &next}
}
