package e2e

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stretchr/testify/require"

	"github.com/osmakov/creditgate/internal/handlers"
	"github.com/osmakov/creditgate/internal/handlers/middleware"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/repository/postgres"
	"github.com/osmakov/creditgate/internal/service/auth"
	"github.com/osmakov/creditgate/internal/service/auth/tokenmanager"
	"github.com/osmakov/creditgate/internal/service/claim"
	"github.com/osmakov/creditgate/internal/service/ledger"
	"github.com/osmakov/creditgate/internal/service/oplock"
	"github.com/osmakov/creditgate/internal/service/pricing"
	"github.com/osmakov/creditgate/internal/testutil"
)

type Services struct {
	AuthService   *auth.AuthService
	LedgerService *ledger.Service
	ClaimGate     *claim.Gate
	LockService   *oplock.Service
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		log := logger.NewNoOpLogger()
		storage := postgres.NewStorage(tx)

		tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage.Refresh())
		require.NoError(t, err, "token manager should be created without errors")

		authService, err := auth.NewService(auth.Config{}, tokenManager, storage)
		require.NoError(t, err, "auth service starting error")

		pricingResolver := pricing.NewResolver(storage.Pricing(), log)
		ledgerService := ledger.NewService(storage, pricingResolver, log)
		claimGate := claim.NewGate(storage, log)
		lockService := oplock.NewService(oplock.Config{}, storage, log)

		router := handlers.NewRouter(
			handlers.NewAuth(authService),
			handlers.NewAccount(ledgerService, claimGate, log),
			handlers.NewLedger(ledgerService, log),
			handlers.NewOperations(lockService, log),
			handlers.NewAdmin(pricingResolver, ledgerService, storage.Account(), lockService, log),
			middleware.AuthMiddleware(authService),
			middleware.AdminMiddleware(),
			middleware.LoggerMiddleware(log),
		)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			AuthService:   authService,
			LedgerService: ledgerService,
			ClaimGate:     claimGate,
			LockService:   lockService,
		})
	})
}
