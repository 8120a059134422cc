package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/osmakov/creditgate/internal/apperrors"
	"github.com/osmakov/creditgate/internal/handlers/render"
	"github.com/osmakov/creditgate/internal/handlers/userctx"
	"github.com/osmakov/creditgate/internal/logger"
	"github.com/osmakov/creditgate/internal/models"
	"github.com/osmakov/creditgate/internal/service/oplock"
)

type lockService interface {
	Acquire(ctx context.Context, accountID uuid.UUID, operationType string, cardCount int) (oplock.AcquireResult, error)
	Release(ctx context.Context, accountID uuid.UUID, operationID uuid.UUID, status string) error
	ReleaseAll(ctx context.Context, accountID uuid.UUID, status string) (int64, error)
}

type OperationsHandler struct {
	locks  lockService
	logger logger.Logger
}

func NewOperations(locks lockService, l logger.Logger) *OperationsHandler {
	return &OperationsHandler{locks: locks, logger: l}
}

func (h *OperationsHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", h.acquire)
	mux.HandleFunc("POST /{id}/release", h.release)
	mux.HandleFunc("POST /stop", h.stop)

	return mux
}

func (h *OperationsHandler) acquire(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Type      string `json:"type" validate:"required,min=1,max=50"`
		CardCount int    `json:"card_count" validate:"min=0"`
	}
	type response struct {
		OperationID uuid.UUID `json:"operation_id"`
		StartedAt   time.Time `json:"started_at"`
	}
	type lockedResponse struct {
		Error               string    `json:"error"`
		Message             string    `json:"message"`
		ExistingOperationID uuid.UUID `json:"existing_operation_id"`
		ExistingType        string    `json:"existing_type"`
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

	result, err := h.locks.Acquire(r.Context(), account.ID, data.Type, data.CardCount)
	switch {
	case err == nil:
		render.JSON(w, response{OperationID: result.Operation.ID, StartedAt: result.Operation.StartedAt})
	case errors.Is(err, apperrors.ErrOperationLocked):
		// Expected outcome, the client tells the user what's running
		render.JSONWithStatus(w, lockedResponse{
			Error:               "locked",
			Message:             "Another operation is already in progress",
			ExistingOperationID: result.Existing.ID,
			ExistingType:        result.Existing.Type,
		}, http.StatusConflict)
	case errors.Is(err, apperrors.ErrAccountFlagged):
		render.ServiceError(w, "Account is flagged, operations disabled", http.StatusForbidden)
	default:
		h.logger.Error("Failed to acquire operation lock", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *OperationsHandler) release(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Status string `json:"status" validate:"required,oneof=completed failed"`
	}
	type response struct {
		Message string `json:"message"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	operationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid operation id", http.StatusBadRequest)
		return
	}

	data, err := render.BindAndValidate[request](w, r)
	if err != nil {
		return
	}

	if err := h.locks.Release(r.Context(), account.ID, operationID, data.Status); err != nil {
		h.logger.Error("Failed to release operation", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, response{Message: "Operation released"})
}

func (h *OperationsHandler) stop(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Stopped int64 `json:"stopped"`
	}

	account, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	count, err := h.locks.ReleaseAll(r.Context(), account.ID, models.OperationStatusFailed)
	if err != nil {
		h.logger.Error("Failed to stop operations", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, response{Stopped: count})
}
