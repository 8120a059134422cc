package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
	"github.com/osmakov/creditgate/internal/repository/postgres"
	"github.com/osmakov/creditgate/internal/service/auth/tokenmanager"
	"github.com/osmakov/creditgate/internal/testutil"
)

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Begin new db transaction and create new AuthService
	// Rollback transaction when test stops
	withTx := func(t *testing.T, fn func(s *AuthService, st repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			tokenManager, err := tokenmanager.New(
				tokenmanager.Config{SecretKey: "test-secret-key"},
				storage.Refresh(),
			)
			require.NoError(t, err, "token manager should be created without errors")

			s, err := NewService(Config{}, tokenManager, storage)
			require.NoError(t, err, "auth service could't be started", err)

			fn(s, storage)
		})
	}

	t.Run("new service requires token manager and storage", func(t *testing.T) {
		_, err := NewService(Config{}, nil, nil)
		require.Error(t, err)
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new account ok", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				pair, err := s.Register(t.Context(), "osmakov", "pwd")

				require.NoError(t, err, "registering new account should be ok")
				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
			})
		})

		t.Run("grants starter credits", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				_, err := s.Register(t.Context(), "osmakov", "pwd")
				require.NoError(t, err)

				account, err := st.Account().GetAccountByUsername(t.Context(), "osmakov")
				require.NoError(t, err)
				assert.True(t, account.Balance.Equal(decimal.NewFromInt(25)), "new accounts start with 25 credits")

				history, err := st.Transaction().List(t.Context(), account.ID, repository.ListTransactionsOpts{
					Type: models.TransactionTypeStarter,
				})
				require.NoError(t, err)
				require.Len(t, history, 1, "starter grant must be recorded in the ledger")
			})
		})

		t.Run("fail if account exists", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				_, err := s.Register(t.Context(), "osmakov", "pwd")
				require.NoError(t, err, "no error has should happen if account not exists")

				_, err = s.Register(t.Context(), "osmakov", "other-pwd")

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrAccountAlreadyExists)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing account ok", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				_, err := s.Register(t.Context(), "osmakov", "pwd")
				require.NoError(t, err)

				pair, err := s.Login(t.Context(), "osmakov", "pwd")

				require.NoError(t, err)
				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
			})
		})

		tests := []struct {
			name     string
			login    string
			password string
		}{
			{
				name:     "login fail if wrong password",
				login:    "osmakov",
				password: "wrong",
			},
			{
				name:     "login fail if account not exists",
				login:    "not-existed-account",
				password: "password",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				withTx(t, func(s *AuthService, st repository.Storage) {
					_, err := s.Register(t.Context(), "osmakov", "pwd")
					require.NoError(t, err)

					_, err = s.Login(t.Context(), tt.login, tt.password)

					require.Error(t, err)
					require.ErrorIs(t, err, apperrors.ErrAccountNotFound, "both failures look the same to the caller")
				})
			})
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("rotates the pair", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				pair, err := s.Register(t.Context(), "osmakov", "pwd")
				require.NoError(t, err)

				rotated, err := s.Refresh(t.Context(), pair.Refresh.Value)

				require.NoError(t, err)
				assert.NotEqual(t, pair.Refresh.Value, rotated.Refresh.Value, "refresh token must rotate")
				assert.NotEmpty(t, rotated.Access.Value)
			})
		})

		t.Run("refresh token is single use", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				pair, err := s.Register(t.Context(), "osmakov", "pwd")
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsUsed)
			})
		})

		t.Run("unknown token rejected", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				_, err := s.Refresh(t.Context(), "no-such-token")
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})
	})

	t.Run("Auth", func(t *testing.T) {
		t.Run("bearer token accepted", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				pair, err := s.Register(t.Context(), "osmakov", "pwd")
				require.NoError(t, err)

				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.Header.Set("Authorization", "Bearer "+pair.Access.Value)

				account, err := s.Auth(t.Context(), r)

				require.NoError(t, err)
				assert.Equal(t, "osmakov", account.Username)
			})
		})

		t.Run("missing header rejected", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				r := httptest.NewRequest(http.MethodGet, "/", nil)

				_, err := s.Auth(t.Context(), r)

				require.Error(t, err)
			})
		})

		t.Run("garbage token rejected", func(t *testing.T) {
			withTx(t, func(s *AuthService, st repository.Storage) {
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				r.Header.Set("Authorization", "Bearer garbage")

				_, err := s.Auth(t.Context(), r)

				require.Error(t, err)
			})
		})
	})

	t.Run("SetTokens and GetRefresh", func(t *testing.T) {
		withTx(t, func(s *AuthService, st repository.Storage) {
			pair, err := s.Register(t.Context(), "osmakov", "pwd")
			require.NoError(t, err)

			w := httptest.NewRecorder()
			s.SetTokens(w, pair)

			resp := w.Result()
			assert.Equal(t, "Bearer "+pair.Access.Value, resp.Header.Get("Authorization"))

			r := httptest.NewRequest(http.MethodPost, "/", nil)
			for _, cookie := range resp.Cookies() {
				r.AddCookie(cookie)
			}

			refresh, err := s.GetRefresh(r)
			require.NoError(t, err)
			assert.Equal(t, pair.Refresh.Value, refresh)
		})
	})
}
