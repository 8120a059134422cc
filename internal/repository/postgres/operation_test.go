package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/testutil"
)

func Test_OperationRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	createAccount := func(t *testing.T, tx pgx.Tx, username string) models.Account {
		t.Helper()
		account, err := (&AccountRepo{DB: tx}).CreateAccount(t.Context(), username, "hash")
		require.NoError(t, err)
		return account
	}

	t.Run("create ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "opcreate")

			op, err := r.Create(t.Context(), account.ID, "batch_check", 10)

			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, op.ID)
			assert.Equal(t, account.ID, op.AccountID)
			assert.Equal(t, "batch_check", op.Type)
			assert.Equal(t, models.OperationStatusRunning, op.Status)
			assert.Equal(t, 10, op.CardCount)
			assert.Nil(t, op.CompletedAt)
		})
	})

	t.Run("second running operation rejected", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "opsecond")

			_, err := r.Create(t.Context(), account.ID, "batch_check", 5)
			require.NoError(t, err)

			_, err = r.Create(t.Context(), account.ID, "single_check", 1)

			assert.ErrorIs(t, err, apperrors.ErrOperationLocked, "partial unique index must reject second running op")
		})
	})

	t.Run("different accounts run independently", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			first := createAccount(t, tx, "opfirst")
			second := createAccount(t, tx, "opother")

			_, err := r.Create(t.Context(), first.ID, "batch_check", 5)
			require.NoError(t, err)

			_, err = r.Create(t.Context(), second.ID, "batch_check", 5)
			require.NoError(t, err, "lock is per account, other accounts must not be affected")
		})
	})

	t.Run("get running", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "opgetrunning")

			_, err := r.GetRunning(t.Context(), account.ID)
			assert.ErrorIs(t, err, apperrors.ErrOperationNotFound)

			created, err := r.Create(t.Context(), account.ID, "batch_check", 3)
			require.NoError(t, err)

			got, err := r.GetRunning(t.Context(), account.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
		})
	})

	t.Run("set status releases the slot", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "oprelease")

			op, err := r.Create(t.Context(), account.ID, "batch_check", 3)
			require.NoError(t, err)

			count, err := r.SetStatus(t.Context(), account.ID, op.ID, models.OperationStatusCompleted)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)

			// The slot is free again
			_, err = r.Create(t.Context(), account.ID, "batch_check", 3)
			require.NoError(t, err)
		})
	})

	t.Run("set status on released operation changes nothing", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "opdoublerelease")

			op, err := r.Create(t.Context(), account.ID, "batch_check", 3)
			require.NoError(t, err)
			_, err = r.SetStatus(t.Context(), account.ID, op.ID, models.OperationStatusCompleted)
			require.NoError(t, err)

			count, err := r.SetStatus(t.Context(), account.ID, op.ID, models.OperationStatusFailed)

			require.NoError(t, err)
			assert.Equal(t, int64(0), count, "terminal operation must not be moved again")
		})
	})

	t.Run("release all", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "opreleaseall")

			_, err := r.Create(t.Context(), account.ID, "batch_check", 3)
			require.NoError(t, err)

			count, err := r.ReleaseAll(t.Context(), account.ID, models.OperationStatusFailed)

			require.NoError(t, err)
			assert.Equal(t, int64(1), count)

			_, err = r.GetRunning(t.Context(), account.ID)
			assert.ErrorIs(t, err, apperrors.ErrOperationNotFound)
		})
	})

	t.Run("mark stale", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "opstale")

			_, err := r.Create(t.Context(), account.ID, "batch_check", 3)
			require.NoError(t, err)

			t.Run("fresh operation not touched", func(t *testing.T) {
				count, err := r.MarkStale(t.Context(), nil, time.Now().Add(-time.Minute))

				require.NoError(t, err)
				assert.Equal(t, int64(0), count)
			})

			t.Run("old operation reclaimed", func(t *testing.T) {
				count, err := r.MarkStale(t.Context(), nil, time.Now().Add(time.Minute))

				require.NoError(t, err)
				assert.Equal(t, int64(1), count)

				_, err = r.GetRunning(t.Context(), account.ID)
				assert.ErrorIs(t, err, apperrors.ErrOperationNotFound, "stale operation is not running anymore")
			})

			t.Run("scoped to account", func(t *testing.T) {
				other := createAccount(t, tx, "opstaleother")
				_, err := r.Create(t.Context(), other.ID, "batch_check", 1)
				require.NoError(t, err)

				count, err := r.MarkStale(t.Context(), &account.ID, time.Now().Add(time.Minute))

				require.NoError(t, err)
				assert.Equal(t, int64(0), count, "only the requested account may be swept")

				_, err = r.GetRunning(t.Context(), other.ID)
				require.NoError(t, err, "other account operation must survive")
			})
		})
	})

	t.Run("delete terminal", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := OperationRepo{DB: tx}
			account := createAccount(t, tx, "opcleanup")

			op, err := r.Create(t.Context(), account.ID, "batch_check", 3)
			require.NoError(t, err)
			_, err = r.SetStatus(t.Context(), account.ID, op.ID, models.OperationStatusCompleted)
			require.NoError(t, err)

			t.Run("recent rows kept", func(t *testing.T) {
				count, err := r.DeleteTerminal(t.Context(), time.Now().Add(-time.Hour))

				require.NoError(t, err)
				assert.Equal(t, int64(0), count)
			})

			t.Run("old rows removed", func(t *testing.T) {
				count, err := r.DeleteTerminal(t.Context(), time.Now().Add(time.Minute))

				require.NoError(t, err)
				assert.Equal(t, int64(1), count)
			})
		})
	})
}
