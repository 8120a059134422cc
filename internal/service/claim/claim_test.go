package claim

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
	"github.com/osmakov/creditgate/internal/repository/postgres"
	"github.com/osmakov/creditgate/internal/testutil"
)

func TestClaimGate(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Helper to create the gate with a controllable clock within transaction
	withTx := func(t *testing.T, fn func(g *Gate, st repository.Storage, account models.Account, clock *time.Time)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			gate := NewGate(storage, nil)

			clock := time.Now()
			gate.now = func() time.Time { return clock }

			account, err := storage.Account().CreateAccount(t.Context(), "claim-account", "hash")
			require.NoError(t, err, "creating account should not fail")

			fn(gate, storage, account, &clock)
		})
	}

	t.Run("first claim grants tier amount", func(t *testing.T) {
		withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
			result, err := g.Claim(t.Context(), account.ID)

			require.NoError(t, err)
			assert.True(t, result.Claimed)
			assert.True(t, result.Amount.Equal(decimal.NewFromInt(10)), "free tier claims 10")
			assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(10)))
			assert.WithinDuration(t, clock.Add(20*time.Hour), result.NextClaimAvailable, time.Second)

			got, err := st.Account().GetAccount(t.Context(), account.ID)
			require.NoError(t, err)
			assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)), "claim must move the balance")
			require.NotNil(t, got.LastClaimAt)
		})
	})

	t.Run("claim records a ledger transaction", func(t *testing.T) {
		withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
			_, err := g.Claim(t.Context(), account.ID)
			require.NoError(t, err)

			history, err := st.Transaction().List(t.Context(), account.ID, repository.ListTransactionsOpts{
				Type: models.TransactionTypeClaim,
			})
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.True(t, history[0].Amount.Equal(decimal.NewFromInt(10)))
		})
	})

	t.Run("second claim inside window rejected", func(t *testing.T) {
		withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
			first, err := g.Claim(t.Context(), account.ID)
			require.NoError(t, err)
			require.True(t, first.Claimed)

			*clock = clock.Add(19 * time.Hour)
			second, err := g.Claim(t.Context(), account.ID)

			require.NoError(t, err)
			assert.False(t, second.Claimed, "19h after the last claim is still inside the 20h window")
			assert.WithinDuration(t, first.NextClaimAvailable, second.NextClaimAvailable, time.Second)

			got, err := st.Account().GetAccount(t.Context(), account.ID)
			require.NoError(t, err)
			assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)), "rejected claim must not credit")
		})
	})

	t.Run("claim unlocks after the window", func(t *testing.T) {
		withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
			_, err := g.Claim(t.Context(), account.ID)
			require.NoError(t, err)

			*clock = clock.Add(20*time.Hour + time.Minute)
			result, err := g.Claim(t.Context(), account.ID)

			require.NoError(t, err)
			assert.True(t, result.Claimed, "20h after the last claim a new one is allowed")
			assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(20)))
		})
	})

	t.Run("tier decides the amount", func(t *testing.T) {
		withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
			require.NoError(t, st.Account().SetTier(t.Context(), account.ID, models.TierGold))

			result, err := g.Claim(t.Context(), account.ID)

			require.NoError(t, err)
			assert.True(t, result.Amount.Equal(decimal.NewFromInt(25)), "gold tier claims 25")
		})
	})

	t.Run("CheckEligibility", func(t *testing.T) {
		t.Run("never claimed", func(t *testing.T) {
			withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
				eligibility, err := g.CheckEligibility(t.Context(), account.ID)

				require.NoError(t, err)
				assert.True(t, eligibility.CanClaim)
				assert.True(t, eligibility.ClaimAmount.Equal(decimal.NewFromInt(10)))
				assert.Nil(t, eligibility.NextClaimAvailable)
			})
		})

		t.Run("inside window", func(t *testing.T) {
			withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
				claimed, err := g.Claim(t.Context(), account.ID)
				require.NoError(t, err)

				*clock = clock.Add(time.Hour)
				eligibility, err := g.CheckEligibility(t.Context(), account.ID)

				require.NoError(t, err)
				assert.False(t, eligibility.CanClaim)
				require.NotNil(t, eligibility.NextClaimAvailable)
				assert.WithinDuration(t, claimed.NextClaimAvailable, *eligibility.NextClaimAvailable, time.Second)
			})
		})

		t.Run("window passed", func(t *testing.T) {
			withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
				_, err := g.Claim(t.Context(), account.ID)
				require.NoError(t, err)

				*clock = clock.Add(21 * time.Hour)
				eligibility, err := g.CheckEligibility(t.Context(), account.ID)

				require.NoError(t, err)
				assert.True(t, eligibility.CanClaim)
			})
		})
	})

	t.Run("unknown account", func(t *testing.T) {
		withTx(t, func(g *Gate, st repository.Storage, account models.Account, clock *time.Time) {
			_, err := g.Claim(t.Context(), uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)

			_, err = g.CheckEligibility(t.Context(), uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
		})
	})
}
