package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kasira-dev/fees-engine/internal/common"
)

// Handler exposes the token exchange endpoint for the admin surface.
type Handler struct {
	Service *Service
}

type tokenRequest struct {
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
}

// ExchangeToken handles POST /api/v1/admin/token.
func (h *Handler) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "clientId is required", nil)
		return
	}
	if req.APIKey == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "apiKey is required", nil)
		return
	}
	token, expiresAt, err := h.Service.ExchangeAPIKey(req.ClientID, req.APIKey)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAPIKey):
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key", nil)
		case errors.Is(err, ErrAPIKeyNotConfigured):
			common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "admin token exchange is not configured", nil)
		default:
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		}
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"accessToken": token,
			"expiresAt":   expiresAt,
		},
	})
}
