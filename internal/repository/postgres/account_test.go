package postgres

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
	"github.com/osmakov/creditgate/internal/testutil"
)

func Test_AccountRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("create account ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}

			account, err := r.CreateAccount(t.Context(), "testaccount", "hashedpassword123")

			require.NoError(t, err)
			assert.Equal(t, "testaccount", account.Username)
			assert.Equal(t, "hashedpassword123", account.HashedPassword)
			assert.True(t, account.Balance.IsZero(), "new account must start with zero balance")
			assert.Equal(t, models.TierFree, account.Tier)
			assert.Nil(t, account.LastClaimAt)
			assert.False(t, account.Flagged)
			assert.WithinDuration(t, time.Now(), account.CreatedAt, time.Second, "CreatedAt should be recent")
		})
	})

	t.Run("create account duplicate username", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			_, err := r.CreateAccount(t.Context(), "duplicate", "hash")
			require.NoError(t, err)

			_, err = r.CreateAccount(t.Context(), "duplicate", "otherhash")

			assert.ErrorIs(t, err, apperrors.ErrAccountAlreadyExists, "should return well known error")
		})
	})

	t.Run("get account ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), "findbyid", "hash")
			require.NoError(t, err)

			got, err := r.GetAccount(t.Context(), created.ID)

			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, created.Username, got.Username)
		})
	})

	t.Run("get account not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}

			_, err := r.GetAccount(t.Context(), uuid.New())

			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound, "should return well known error")
		})
	})

	t.Run("get account by username", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), "findbyusername", "hash")
			require.NoError(t, err)

			got, err := r.GetAccountByUsername(t.Context(), "findbyusername")
			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)

			_, err = r.GetAccountByUsername(t.Context(), "nosuchaccount")
			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
		})
	})

	t.Run("update balance", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), "balanceupdate", "hash")
			require.NoError(t, err)

			err = r.UpdateBalance(t.Context(), created.ID, decimal.NewFromInt(25))
			require.NoError(t, err)

			got, err := r.GetAccount(t.Context(), created.ID)
			require.NoError(t, err)
			assert.True(t, got.Balance.Equal(decimal.NewFromInt(25)), "balance should be 25, got %s", got.Balance)
		})
	})

	t.Run("update balance negative rejected", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), "negativebalance", "hash")
			require.NoError(t, err)

			err = r.UpdateBalance(t.Context(), created.ID, decimal.NewFromInt(-1))

			assert.Error(t, err, "check constraint must reject negative balance")
		})
	})

	t.Run("cas balance", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), "casbalance", "hash")
			require.NoError(t, err)
			require.NoError(t, r.UpdateBalance(t.Context(), created.ID, decimal.NewFromInt(10)))

			t.Run("observed matches", func(t *testing.T) {
				swapped, err := r.UpdateBalanceCAS(t.Context(), created.ID, decimal.NewFromInt(10), decimal.NewFromInt(7))

				require.NoError(t, err)
				assert.True(t, swapped, "swap must apply when observed balance matches")

				got, err := r.GetAccount(t.Context(), created.ID)
				require.NoError(t, err)
				assert.True(t, got.Balance.Equal(decimal.NewFromInt(7)))
			})

			t.Run("observed stale", func(t *testing.T) {
				swapped, err := r.UpdateBalanceCAS(t.Context(), created.ID, decimal.NewFromInt(10), decimal.NewFromInt(4))

				require.NoError(t, err)
				assert.False(t, swapped, "swap must not apply when observed balance is stale")

				got, err := r.GetAccount(t.Context(), created.ID)
				require.NoError(t, err)
				assert.True(t, got.Balance.Equal(decimal.NewFromInt(7)), "balance must stay untouched")
			})
		})
	})

	t.Run("claim daily", func(t *testing.T) {
		window := 20 * time.Hour

		t.Run("first claim", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				r := AccountRepo{DB: tx}
				created, err := r.CreateAccount(t.Context(), "firstclaim", "hash")
				require.NoError(t, err)

				taken, err := r.ClaimDaily(t.Context(), created.ID, time.Now(), window)

				require.NoError(t, err)
				assert.True(t, taken, "first claim must always be taken")
			})
		})

		t.Run("second claim inside window", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				r := AccountRepo{DB: tx}
				created, err := r.CreateAccount(t.Context(), "insidewindow", "hash")
				require.NoError(t, err)

				now := time.Now()
				taken, err := r.ClaimDaily(t.Context(), created.ID, now, window)
				require.NoError(t, err)
				require.True(t, taken)

				taken, err = r.ClaimDaily(t.Context(), created.ID, now.Add(time.Hour), window)

				require.NoError(t, err)
				assert.False(t, taken, "claim inside the window must be rejected")
			})
		})

		t.Run("claim after window passed", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				r := AccountRepo{DB: tx}
				created, err := r.CreateAccount(t.Context(), "afterwindow", "hash")
				require.NoError(t, err)

				now := time.Now()
				taken, err := r.ClaimDaily(t.Context(), created.ID, now.Add(-21*time.Hour), window)
				require.NoError(t, err)
				require.True(t, taken)

				taken, err = r.ClaimDaily(t.Context(), created.ID, now, window)

				require.NoError(t, err)
				assert.True(t, taken, "claim after the window passed must be taken")
			})
		})
	})

	t.Run("set flagged and tier", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), "adminactions", "hash")
			require.NoError(t, err)

			require.NoError(t, r.SetFlagged(t.Context(), created.ID, true))
			require.NoError(t, r.SetTier(t.Context(), created.ID, models.TierGold))

			got, err := r.GetAccount(t.Context(), created.ID)
			require.NoError(t, err)
			assert.True(t, got.Flagged)
			assert.Equal(t, models.TierGold, got.Tier)
		})
	})

	t.Run("set flagged unknown account", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}

			err := r.SetFlagged(t.Context(), uuid.New(), true)

			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
		})
	})
}
