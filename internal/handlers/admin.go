package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/handlers/render"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/service/ledger"
)

type pricingAdmin interface {
	ListAll(ctx context.Context) ([]models.GatewayPricing, error)
	UpdatePricing(ctx context.Context, p models.GatewayPricing) (models.GatewayPricing, error)
}

type creditAdmin interface {
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txType string, opts ledger.CreditOpts) (ledger.MutationResult, error)
}

type accountAdmin interface {
	SetFlagged(ctx context.Context, accountID uuid.UUID, flagged bool) error
	SetTier(ctx context.Context, accountID uuid.UUID, tier string) error
}

type AdminHandler struct {
	pricing  pricingAdmin
	ledger   creditAdmin
	accounts accountAdmin
	locks    lockService
	logger   logger.Logger
}

func NewAdmin(pricing pricingAdmin, creditLedger creditAdmin, accounts accountAdmin, locks lockService, l logger.Logger) *AdminHandler {
	return &AdminHandler{
		pricing:  pricing,
		ledger:   creditLedger,
		accounts: accounts,
		locks:    locks,
		logger:   l,
	}
}

func (h *AdminHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gateways", h.listGateways)
	mux.HandleFunc("PUT /gateways/{gateway}/pricing", h.updatePricing)
	mux.HandleFunc("POST /accounts/{id}/credit", h.creditAccount)
	mux.HandleFunc("POST /accounts/{id}/flag", h.flagAccount)
	mux.HandleFunc("POST /accounts/{id}/tier", h.setTier)
	mux.HandleFunc("POST /accounts/{id}/stop", h.stopAccount)

	return mux
}

type gatewayPricingResponse struct {
	Gateway  string  `json:"gateway"`
	Approved float64 `json:"approved"`
	Live     float64 `json:"live"`
}

func (h *AdminHandler) listGateways(w http.ResponseWriter, r *http.Request) {
	pricings, err := h.pricing.ListAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list gateway configs", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]gatewayPricingResponse, 0, len(pricings))
	for _, p := range pricings {
		resp = append(resp, gatewayPricingResponse{
			Gateway:  p.GatewayID,
			Approved: toFloat(p.Approved),
			Live:     toFloat(p.Live),
		})
	}

	render.JSON(w, resp)
}

func (h *AdminHandler) updatePricing(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Approved float64 `json:"approved" validate:"min=0"`
		Live     float64 `json:"live" validate:"min=0"`
	}

	gateway := r.PathValue("gateway")
	if gateway == "" {
		render.ServiceError(w, "Gateway id is required", http.StatusBadRequest)
		return
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	updated, err := h.pricing.UpdatePricing(r.Context(), models.GatewayPricing{
		GatewayID: gateway,
		Approved:  decimal.NewFromFloat(data.Approved),
		Live:      decimal.NewFromFloat(data.Live),
	})
	if err != nil {
		h.logger.Error("Failed to update gateway pricing", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, gatewayPricingResponse{
		Gateway:  updated.GatewayID,
		Approved: toFloat(updated.Approved),
		Live:     toFloat(updated.Live),
	})
}

func (h *AdminHandler) creditAccount(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Amount         float64 `json:"amount" validate:"required,gt=0"`
		Type           string  `json:"type" validate:"required,oneof=purchase bonus referral refund"`
		IdempotencyKey string  `json:"idempotency_key"`
		Description    string  `json:"description"`
		Reference      string  `json:"reference"`
	}
	type response struct {
		TransactionID uuid.UUID `json:"transaction_id"`
		NewBalance    float64   `json:"new_balance"`
		Duplicate     bool      `json:"duplicate,omitempty"`
	}

	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	result, err := h.ledger.Credit(r.Context(), accountID, decimal.NewFromFloat(data.Amount), data.Type, ledger.CreditOpts{
		IdempotencyKey: data.IdempotencyKey,
		Description:    data.Description,
		Reference:      data.Reference,
	})
	switch {
	case err == nil:
		render.JSON(w, response{
			TransactionID: result.TransactionID,
			NewBalance:    toFloat(result.NewBalance),
			Duplicate:     result.Duplicate,
		})
	case errors.Is(err, apperrors.ErrAccountNotFound):
		render.ServiceError(w, "Account not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrInvalidAmount):
		render.ServiceError(w, "Amount must be a positive number", http.StatusBadRequest)
	default:
		h.logger.Error("Failed to credit account", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *AdminHandler) flagAccount(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Flagged bool `json:"flagged"`
	}
	type response struct {
		Message string `json:"message"`
	}

	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	err = h.accounts.SetFlagged(r.Context(), accountID, data.Flagged)
	switch {
	case err == nil:
		render.JSON(w, response{Message: "Account updated"})
	case errors.Is(err, apperrors.ErrAccountNotFound):
		render.ServiceError(w, "Account not found", http.StatusNotFound)
	default:
		h.logger.Error("Failed to flag account", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *AdminHandler) setTier(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Tier string `json:"tier" validate:"required,oneof=free bronze silver gold diamond"`
	}
	type response struct {
		Message string `json:"message"`
	}

	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	err = h.accounts.SetTier(r.Context(), accountID, data.Tier)
	switch {
	case err == nil:
		render.JSON(w, response{Message: "Account updated"})
	case errors.Is(err, apperrors.ErrAccountNotFound):
		render.ServiceError(w, "Account not found", http.StatusNotFound)
	default:
		h.logger.Error("Failed to set account tier", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Manual "stop batch" for support: ends whatever is running for the account
func (h *AdminHandler) stopAccount(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Stopped int64 `json:"stopped"`
	}

	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	count, err := h.locks.ReleaseAll(r.Context(), accountID, models.OperationStatusFailed)
	if err != nil {
		h.logger.Error("Failed to stop account operations", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, response{Stopped: count})
}
