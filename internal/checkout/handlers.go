package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kasira-dev/fees-engine/internal/common"
	"github.com/kasira-dev/fees-engine/internal/money"
	"github.com/kasira-dev/fees-engine/internal/store"
)

// Handler exposes the session endpoints. Validate must carry the
// paymentmethod rule registered by app.NewValidator.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type createSessionRequest struct {
	CustomerID    *uuid.UUID `json:"customerId"`
	PaymentMethod string     `json:"paymentMethod" validate:"required,paymentmethod"`
}

type addItemRequest struct {
	ProductID uuid.UUID   `json:"productId" validate:"required"`
	Title     string      `json:"title" validate:"required,max=200"`
	Qty       int32       `json:"qty" validate:"required,gt=0"`
	UnitPrice money.Money `json:"unitPrice" validate:"gte=0"`
}

type updateItemRequest struct {
	Qty int32 `json:"qty" validate:"required,gt=0"`
}

type paymentMethodRequest struct {
	Method string `json:"method" validate:"required,paymentmethod"`
}

type shippingRequest struct {
	Amount money.Money `json:"amount" validate:"gte=0"`
}

// Create handles POST /sessions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.CreateSession(r.Context(), req.CustomerID, req.PaymentMethod)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// Get handles GET /sessions/{sessionId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	id, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	view, err := h.Svc.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Fees handles GET /sessions/{sessionId}/fees.
func (h *Handler) Fees(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	id, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	view, err := h.Svc.GetFees(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AddItem handles POST /sessions/{sessionId}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	id, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.AddItem(r.Context(), id, req.ProductID, req.Title, req.Qty, req.UnitPrice)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// UpdateItem handles PATCH /sessions/{sessionId}/items/{itemId}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	sessionID, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	itemID, ok := h.pathUUID(w, r, "itemId")
	if !ok {
		return
	}
	var req updateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.UpdateItemQty(r.Context(), sessionID, itemID, req.Qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// RemoveItem handles DELETE /sessions/{sessionId}/items/{itemId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	sessionID, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	itemID, ok := h.pathUUID(w, r, "itemId")
	if !ok {
		return
	}
	view, err := h.Svc.RemoveItem(r.Context(), sessionID, itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// SetPaymentMethod handles PUT /sessions/{sessionId}/payment-method.
func (h *Handler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	id, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	var req paymentMethodRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.SetPaymentMethod(r.Context(), id, req.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// SetShipping handles PUT /sessions/{sessionId}/shipping.
func (h *Handler) SetShipping(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	id, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	var req shippingRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.SetShipping(r.Context(), id, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Recalculate handles POST /sessions/{sessionId}/recalculate. The pass is
// forced: the gate opens even when the baseline is unchanged.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	id, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	pass, err := h.Svc.Recalculate(r.Context(), id, true)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.Svc.GetFees(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": view,
		"meta": map[string]any{
			"reason":  string(pass.Reason),
			"skipped": pass.Skipped,
		},
	})
}

// Delete handles DELETE /sessions/{sessionId}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	id, ok := h.pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	if err := h.Svc.DeleteSession(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode parses and validates the request body, writing the error response
// itself when the payload is unacceptable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "validation failed", validationDetails(err))
			return false
		}
	}
	return true
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("%s must be a UUID", name), nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, store.ErrUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "storage unavailable", nil)
	default:
		common.WriteError(w, err)
	}
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
