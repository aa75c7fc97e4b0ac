package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasira-dev/fees-engine/internal/app"
	"github.com/kasira-dev/fees-engine/internal/money"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t, scenarioRules())
	v, err := app.NewValidator()
	require.NoError(t, err)
	h := &Handler{Svc: svc, Validate: v}

	r := chi.NewRouter()
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{sessionId}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Get("/fees", h.Fees)
			r.Post("/items", h.AddItem)
			r.Patch("/items/{itemId}", h.UpdateItem)
			r.Delete("/items/{itemId}", h.RemoveItem)
			r.Put("/payment-method", h.SetPaymentMethod)
			r.Put("/shipping", h.SetShipping)
			r.Post("/recalculate", h.Recalculate)
		})
	})
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) SessionView {
	t.Helper()
	var body struct {
		Data SessionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestCreateSessionHandler(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]any{"paymentMethod": "cod"})

	require.Equal(t, http.StatusCreated, rec.Code)
	view := decodeSession(t, rec)
	assert.NotEqual(t, uuid.Nil, view.ID)
	assert.Equal(t, "cod", view.PaymentMethod)
	assert.Equal(t, "active", view.Status)
	assert.Empty(t, view.Ledger.Entries)
}

func TestCreateSessionHandlerRejectsBadMethod(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]any{"paymentMethod": "pay pal"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)
	assert.Equal(t, "paymentmethod", body.Error.Details["PaymentMethod"])
}

func TestGetSessionHandlerNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestSessionHandlerRejectsBadUUID(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/sessions/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sessionId must be a UUID")
}

func TestItemFlowThroughHandlers(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]any{"paymentMethod": "cod"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sessionID := decodeSession(t, rec).ID
	base := "/api/v1/sessions/" + sessionID.String()

	rec = doJSON(t, r, http.MethodPut, base+"/shipping", map[string]any{"amount": 2626})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, base+"/items", map[string]any{
		"productId": uuid.NewString(),
		"title":     "standing desk",
		"qty":       5,
		"unitPrice": 10900,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decodeSession(t, rec)
	require.Len(t, view.Items, 1)
	require.Len(t, view.Ledger.Entries, 2)
	fee, ok := findEntry(view.Ledger, "cod_fee")
	require.True(t, ok)
	assert.Equal(t, "15.64", fee.Formatted)

	itemID := view.Items[0].ID
	rec = doJSON(t, r, http.MethodPatch, fmt.Sprintf("%s/items/%s", base, itemID), map[string]any{"qty": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeSession(t, rec)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int32(4), view.Items[0].Qty)
	_, ok = findEntry(view.Ledger, "per_item_discount")
	assert.False(t, ok, "four units sit below the discount threshold")

	rec = doJSON(t, r, http.MethodDelete, fmt.Sprintf("%s/items/%s", base, itemID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeSession(t, rec)
	assert.Empty(t, view.Items)
	assert.Empty(t, view.Ledger.Entries)

	rec = doJSON(t, r, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, r, http.MethodGet, base, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddItemHandlerValidatesPayload(t *testing.T) {
	r, svc := newTestRouter(t)
	sess, err := svc.CreateSession(context.Background(), nil, "cod")
	require.NoError(t, err)
	base := "/api/v1/sessions/" + sess.ID.String()

	rec := doJSON(t, r, http.MethodPost, base+"/items", map[string]any{
		"productId": uuid.NewString(),
		"title":     "desk",
		"qty":       0,
		"unitPrice": 100,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, base+"/items", map[string]any{
		"productId": uuid.NewString(),
		"qty":       1,
		"unitPrice": 100,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Title")
}

func TestRecalculateHandlerForcesPass(t *testing.T) {
	r, svc := newTestRouter(t)
	view, sessionID := scenarioSession(t, svc)
	base := "/api/v1/sessions/" + sessionID.String()

	rec := doJSON(t, r, http.MethodPost, base+"/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data LedgerView `json:"data"`
		Meta struct {
			Reason  string `json:"reason"`
			Skipped bool   `json:"skipped"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "forced", body.Meta.Reason)
	assert.False(t, body.Meta.Skipped)
	assert.Equal(t, view.Ledger.Signal.LedgerVersion+1, body.Data.Signal.LedgerVersion)

	fee, ok := findEntry(body.Data, "cod_fee")
	require.True(t, ok)
	assert.Equal(t, money.Money(1564), fee.Amount)
}

func TestShippingHandlerRejectsNegative(t *testing.T) {
	r, svc := newTestRouter(t)
	sess, err := svc.CreateSession(context.Background(), nil, "card")
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPut, "/api/v1/sessions/"+sess.ID.String()+"/shipping", map[string]any{"amount": -5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
