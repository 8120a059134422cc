package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
	"github.com/osmakov/creditgate/internal/service/auth/tokenmanager"
	"github.com/osmakov/creditgate/internal/service/ledger"
)

const refreshCookieName = "refreshtoken"

// Every new account starts with this many credits (transaction type starter)
var starterCredits = decimal.NewFromInt(25)

// Interface to create or compare password hashes
type PasswordHasher interface {
	// Generate hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher used during registration and login, bcrypt if nil
	Hasher PasswordHasher
}

type AuthService struct {
	token   *tokenmanager.TokenManager
	hasher  PasswordHasher
	storage repository.Storage
}

func NewService(cfg Config, token *tokenmanager.TokenManager, storage repository.Storage) (*AuthService, error) {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	if token == nil || storage == nil {
		return nil, fmt.Errorf("token manager and storage must not be nil")
	}

	return &AuthService{
		token:   token,
		hasher:  hasher,
		storage: storage,
	}, nil
}

// Register creates the account and grants starter credits in the same
// storage transaction, then issues a token pair
func (s *AuthService) Register(ctx context.Context, username string, password string) (models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	var account models.Account
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error
		account, err = st.Account().CreateAccount(ctx, username, hash)
		if err != nil {
			return err
		}

		_, err = ledger.CreditTx(ctx, st, account.ID, starterCredits, models.TransactionTypeStarter, ledger.CreditOpts{
			Description: "starter credits",
		})
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	pair, err := s.token.GeneratePair(ctx, account)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	return pair, nil
}

func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	account, err := s.storage.Account().GetAccountByUsername(ctx, username)
	if err != nil {
		// Compare against an empty hash anyway to keep timing flat
		_ = s.hasher.Compare("", password)
		return models.TokenPair{}, apperrors.ErrAccountNotFound
	}

	if err := s.hasher.Compare(account.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrAccountNotFound
	}

	pair, err := s.token.GeneratePair(ctx, account)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	return pair, nil
}

// Refresh rotates the pair: the presented refresh token is single use
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	token, err := s.token.UseRefresh(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	account, err := s.storage.Account().GetAccount(ctx, token.AccountID)
	if err != nil {
		return models.TokenPair{}, err
	}

	pair, err := s.token.GeneratePair(ctx, account)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	return pair, nil
}

// Auth authenticates a request by its bearer access token
func (s *AuthService) Auth(ctx context.Context, r *http.Request) (models.Account, error) {
	header := r.Header.Get("Authorization")
	access, found := strings.CutPrefix(header, "Bearer ")
	if !found || access == "" {
		return models.Account{}, fmt.Errorf("no bearer token in request")
	}

	accountID, err := s.token.ParseAccess(ctx, access)
	if err != nil {
		return models.Account{}, err
	}

	return s.storage.Account().GetAccount(ctx, accountID)
}

// SetTokens writes the pair to the response: access in the
// Authorization header, refresh in an HttpOnly cookie
func (s *AuthService) SetTokens(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set("Authorization", "Bearer "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		MaxAge:   int(s.token.RefreshTTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// GetRefresh reads the refresh token cookie from the request
func (s *AuthService) GetRefresh(r *http.Request) (string, error) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return "", fmt.Errorf("refresh cookie not found. Err: %w", err)
	}
	return cookie.Value, nil
}
