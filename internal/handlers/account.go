package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/handlers/render"
	"github.com/osmakov/creditgate/internal/handlers/userctx"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/repository"
	"github.com/osmakov/creditgate/internal/service/claim"
)

type balanceService interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error)
}

type claimGate interface {
	CheckEligibility(ctx context.Context, accountID uuid.UUID) (claim.Eligibility, error)
	Claim(ctx context.Context, accountID uuid.UUID) (claim.Result, error)
}

type AccountHandler struct {
	ledger balanceService
	claims claimGate
	logger logger.Logger
}

func NewAccount(ledger balanceService, claims claimGate, l logger.Logger) *AccountHandler {
	return &AccountHandler{ledger: ledger, claims: claims, logger: l}
}

func (h *AccountHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /balance", h.balance)
	mux.HandleFunc("GET /transactions", h.transactions)
	mux.HandleFunc("GET /claim", h.claimEligibility)
	mux.HandleFunc("POST /claim", h.claim)

	return mux
}

func (h *AccountHandler) balance(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Balance float64 `json:"balance"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("Failed to get balance", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	value, _ := balance.Float64()
	render.JSON(w, response{Balance: value})
}

func (h *AccountHandler) transactions(w http.ResponseWriter, r *http.Request) {
	type transaction struct {
		ID           uuid.UUID `json:"id"`
		CreatedAt    time.Time `json:"created_at"`
		Amount       float64   `json:"amount"`
		BalanceAfter float64   `json:"balance_after"`
		Type         string    `json:"type"`
		Gateway      *string   `json:"gateway,omitempty"`
		Reference    *string   `json:"reference,omitempty"`
		Description  *string   `json:"description,omitempty"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	opts, err := listOptsFromQuery(r)
	if err != nil {
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
		return
	}

	trs, err := h.ledger.ListTransactions(r.Context(), account.ID, opts)
	if err != nil {
		h.logger.Error("Failed to list transactions", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	history := make([]transaction, 0, len(trs))
	for _, tr := range trs {
		amount, _ := tr.Amount.Float64()
		after, _ := tr.BalanceAfter.Float64()
		history = append(history, transaction{
			ID:           tr.ID,
			CreatedAt:    tr.CreatedAt,
			Amount:       amount,
			BalanceAfter: after,
			Type:         tr.Type,
			Gateway:      tr.GatewayID,
			Reference:    tr.Reference,
			Description:  tr.Description,
		})
	}

	render.JSON(w, history)
}

func (h *AccountHandler) claimEligibility(w http.ResponseWriter, r *http.Request) {
	type response struct {
		CanClaim           bool       `json:"can_claim"`
		ClaimAmount        float64    `json:"claim_amount"`
		NextClaimAvailable *time.Time `json:"next_claim_available,omitempty"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	eligibility, err := h.claims.CheckEligibility(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("Failed to check claim eligibility", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	amount, _ := eligibility.ClaimAmount.Float64()
	render.JSON(w, response{
		CanClaim:           eligibility.CanClaim,
		ClaimAmount:        amount,
		NextClaimAvailable: eligibility.NextClaimAvailable,
	})
}

func (h *AccountHandler) claim(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Amount             float64   `json:"amount"`
		NewBalance         float64   `json:"new_balance"`
		NextClaimAvailable time.Time `json:"next_claim_available"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result, err := h.claims.Claim(r.Context(), account.ID)
	switch {
	case err == nil && result.Claimed:
		amount, _ := result.Amount.Float64()
		balance, _ := result.NewBalance.Float64()
		render.JSON(w, response{
			Amount:             amount,
			NewBalance:         balance,
			NextClaimAvailable: result.NextClaimAvailable,
		})
	case err == nil:
		render.JSONWithStatus(w, render.ErrorResponse{
			Error:   "already_claimed",
			Message: "Daily credits already claimed, try later",
		}, http.StatusConflict)
	case errors.Is(err, apperrors.ErrAccountNotFound):
		render.ServiceError(w, "Account not found", http.StatusNotFound)
	default:
		h.logger.Error("Failed to claim daily credits", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// listOptsFromQuery parses pagination and filters: ?type=, ?from=, ?to=,
// ?limit=, ?offset=. Dates are RFC 3339
func listOptsFromQuery(r *http.Request) (repository.ListTransactionsOpts, error) {
	var opts repository.ListTransactionsOpts
	q := r.URL.Query()

	opts.Type = q.Get("type")

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return opts, errors.New("invalid 'from' date, expected RFC 3339")
		}
		opts.After = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return opts, errors.New("invalid 'to' date, expected RFC 3339")
		}
		opts.Before = &t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return opts, errors.New("invalid 'limit'")
		}
		opts.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return opts, errors.New("invalid 'offset'")
		}
		opts.Offset = n
	}

	return opts, nil
}
