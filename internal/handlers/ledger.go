package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/handlers/render"
	"github.com/osmakov/creditgate/internal/handlers/userctx"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/service/ledger"
)

type ledgerService interface {
	DebitForOutcomeCounts(ctx context.Context, accountID uuid.UUID, gatewayID string, counts ledger.OutcomeCounts, opts ledger.DebitOpts) (ledger.DebitResult, error)
	DebitSingleUnit(ctx context.Context, accountID uuid.UUID, gatewayID string, outcome string) (ledger.DebitResult, error)
	CanAfford(ctx context.Context, accountID uuid.UUID, gatewayID string, outcome string) (ledger.AffordCheck, error)
}

type LedgerHandler struct {
	ledger ledgerService
	logger logger.Logger
}

func NewLedger(ledgerService ledgerService, l logger.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledgerService, logger: l}
}

func (h *LedgerHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /debit", h.debit)
	mux.HandleFunc("POST /debit-unit", h.debitUnit)
	mux.HandleFunc("GET /can-afford", h.canAfford)

	return mux
}

type debitResponse struct {
	TransactionID   *uuid.UUID `json:"transaction_id,omitempty"`
	PreviousBalance float64    `json:"previous_balance"`
	NewBalance      float64    `json:"new_balance"`
	Charged         float64    `json:"charged"`
	Duplicate       bool       `json:"duplicate,omitempty"`
	PriceApproved   float64    `json:"price_approved"`
	PriceLive       float64    `json:"price_live"`
}

type insufficientResponse struct {
	Error           string  `json:"error"`
	Message         string  `json:"message"`
	RequiredCredits float64 `json:"required_credits"`
	CurrentBalance  float64 `json:"current_balance"`
}

func (h *LedgerHandler) debit(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Gateway        string `json:"gateway" validate:"required"`
		Approved       int    `json:"approved" validate:"min=0"`
		Live           int    `json:"live" validate:"min=0"`
		IdempotencyKey string `json:"idempotency_key"`
		Reference      string `json:"reference"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	result, err := h.ledger.DebitForOutcomeCounts(
		r.Context(),
		account.ID,
		data.Gateway,
		ledger.OutcomeCounts{Approved: data.Approved, Live: data.Live},
		ledger.DebitOpts{IdempotencyKey: data.IdempotencyKey, Reference: data.Reference},
	)
	h.writeDebitResult(w, result, err)
}

func (h *LedgerHandler) debitUnit(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Gateway string `json:"gateway" validate:"required"`
		Outcome string `json:"outcome" validate:"required,outcome"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	result, err := h.ledger.DebitSingleUnit(r.Context(), account.ID, data.Gateway, data.Outcome)
	h.writeDebitResult(w, result, err)
}

func (h *LedgerHandler) canAfford(w http.ResponseWriter, r *http.Request) {
	type response struct {
		CanContinue bool    `json:"can_continue"`
		Balance     float64 `json:"balance"`
		Cost        float64 `json:"cost"`
		Shortfall   float64 `json:"shortfall,omitempty"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	gateway := r.URL.Query().Get("gateway")
	outcome := r.URL.Query().Get("outcome")
	if gateway == "" || outcome == "" {
		render.ServiceError(w, "Both 'gateway' and 'outcome' query parameters are required", http.StatusBadRequest)
		return
	}

	check, err := h.ledger.CanAfford(r.Context(), account.ID, gateway, outcome)
	if err != nil {
		h.logger.Error("Failed to check affordability", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	balance, _ := check.Balance.Float64()
	cost, _ := check.Cost.Float64()
	shortfall, _ := check.Shortfall.Float64()
	render.JSON(w, response{
		CanContinue: check.CanContinue,
		Balance:     balance,
		Cost:        cost,
		Shortfall:   shortfall,
	})
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func (h *LedgerHandler) writeDebitResult(w http.ResponseWriter, result ledger.DebitResult, err error) {
	switch {
	case err == nil && result.OK:
		resp := debitResponse{
			PreviousBalance: toFloat(result.PreviousBalance),
			NewBalance:      toFloat(result.NewBalance),
			Charged:         toFloat(result.RequiredCredits),
			Duplicate:       result.Duplicate,
			PriceApproved:   toFloat(result.Pricing.Approved),
			PriceLive:       toFloat(result.Pricing.Live),
		}
		if result.TransactionID != uuid.Nil {
			resp.TransactionID = &result.TransactionID
		}
		render.JSON(w, resp)
	case err == nil && result.InsufficientCredit:
		// Expected early-stop signal for the batch, not a failure
		render.JSONWithStatus(w, insufficientResponse{
			Error:           "insufficient_credit",
			Message:         "Credits exhausted, stopping",
			RequiredCredits: toFloat(result.RequiredCredits),
			CurrentBalance:  toFloat(result.PreviousBalance),
		}, http.StatusPaymentRequired)
	case errors.Is(err, apperrors.ErrAccountNotFound):
		render.ServiceError(w, "Account not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrConflict):
		render.ServiceError(w, "Too much contention, retry the card", http.StatusConflict)
	default:
		h.logger.Error("Failed to debit", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
