package audit

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kasira-dev/fees-engine/internal/common"
)

// Handler exposes HTTP endpoints for reading the audit trail.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/admin/audit.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit store not configured", nil)
		return
	}
	limit := common.QueryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := common.QueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	params := ListParams{Limit: int32(limit), Offset: int32(offset)}
	if raw := r.URL.Query().Get("sessionId"); raw != "" {
		sessionID, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "sessionId must be a UUID", nil)
			return
		}
		params.SessionID = &sessionID
	}

	entries, err := h.Store.ListAuditLogs(r.Context(), params)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to fetch audit entries", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": entries,
		"meta": map[string]any{"limit": limit, "offset": offset},
	})
}
