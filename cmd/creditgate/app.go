package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/osmakov/creditgate/internal/db"
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
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger

	// Background loops started by Run
	sweeper  *oplock.Sweeper
	listener func(ctx context.Context) <-chan struct{}
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey}, storage.Refresh())
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{}, tokenManager, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	pricingResolver := pricing.NewResolver(storage.Pricing(), log)
	ledgerService := ledger.NewService(storage, pricingResolver, log)
	claimGate := claim.NewGate(storage, log)
	lockService := oplock.NewService(oplock.Config{}, storage, log)

	app := &ServerApp{
		ListenAddr: c.ListenAddr,
		logger:     log,
		sweeper:    oplock.NewSweeper(lockService, log),
	}

	// Optional cross-instance pricing invalidation
	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		broadcaster := pricing.NewRedisBroadcaster(rdb, log)
		pricingResolver.SetBroadcaster(broadcaster)
		app.listener = func(ctx context.Context) <-chan struct{} {
			return broadcaster.Listen(ctx, pricingResolver)
		}
	}

	// Initialize handlers
	authHandler := handlers.NewAuth(authService)
	accountHandler := handlers.NewAccount(ledgerService, claimGate, log)
	ledgerHandler := handlers.NewLedger(ledgerService, log)
	operationsHandler := handlers.NewOperations(lockService, log)
	adminHandler := handlers.NewAdmin(pricingResolver, ledgerService, storage.Account(), lockService, log)

	app.Handler = handlers.NewRouter(
		authHandler,
		accountHandler,
		ledgerHandler,
		operationsHandler,
		adminHandler,
		middleware.AuthMiddleware(authService),
		middleware.AdminMiddleware(),
		middleware.LoggerMiddleware(log),
	)

	return app, nil
}

// Run starts the http server and background loops, closes gracefully on
// context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.sweeper.Run(srvCtx)

	var listenerStopped <-chan struct{}
	if s.listener != nil {
		listenerStopped = s.listener(srvCtx)
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled, then close gracefully
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped
	if listenerStopped != nil {
		<-listenerStopped
	}

	return err
}
