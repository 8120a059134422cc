package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/testutil"
)

func Test_PricingRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("get not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := PricingRepo{DB: tx}

			_, err := r.Get(t.Context(), "nonexistent-gateway")

			assert.ErrorIs(t, err, apperrors.ErrGatewayNotFound, "should return well known error")
		})
	})

	t.Run("upsert and get", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := PricingRepo{DB: tx}

			created, err := r.Upsert(t.Context(), models.GatewayPricing{
				GatewayID: "stripe",
				Approved:  decimal.NewFromInt(5),
				Live:      decimal.NewFromInt(3),
			})

			require.NoError(t, err)
			assert.Equal(t, "stripe", created.GatewayID)
			assert.WithinDuration(t, time.Now(), created.UpdatedAt, time.Second)

			got, err := r.Get(t.Context(), "stripe")
			require.NoError(t, err)
			assert.True(t, got.Approved.Equal(decimal.NewFromInt(5)))
			assert.True(t, got.Live.Equal(decimal.NewFromInt(3)))
		})
	})

	t.Run("upsert updates existing row", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := PricingRepo{DB: tx}

			_, err := r.Upsert(t.Context(), models.GatewayPricing{
				GatewayID: "braintree",
				Approved:  decimal.NewFromInt(5),
				Live:      decimal.NewFromInt(3),
			})
			require.NoError(t, err)

			updated, err := r.Upsert(t.Context(), models.GatewayPricing{
				GatewayID: "braintree",
				Approved:  decimal.NewFromInt(8),
				Live:      decimal.NewFromInt(4),
			})
			require.NoError(t, err)
			assert.True(t, updated.Approved.Equal(decimal.NewFromInt(8)))

			got, err := r.Get(t.Context(), "braintree")
			require.NoError(t, err)
			assert.True(t, got.Approved.Equal(decimal.NewFromInt(8)))
			assert.True(t, got.Live.Equal(decimal.NewFromInt(4)))
		})
	})

	t.Run("list all", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := PricingRepo{DB: tx}

			for _, gateway := range []string{"gw-a", "gw-b"} {
				_, err := r.Upsert(t.Context(), models.GatewayPricing{
					GatewayID: gateway,
					Approved:  decimal.NewFromInt(5),
					Live:      decimal.NewFromInt(3),
				})
				require.NoError(t, err)
			}

			got, err := r.ListAll(t.Context())

			require.NoError(t, err)
			require.Len(t, got, 2)
		})
	})
}
