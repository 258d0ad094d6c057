package audit

import (
	"net/http"

	"github.com/noah-isme/esim-admin/internal/common"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/admin/audit, newest first. Filters: action,
// resourceType, resourceId.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	q := r.URL.Query()
	limit, offset := common.Window(q, 50, 200)

	rows, err := h.Store.List(r.Context(), ListParams{
		Limit:        limit,
		Offset:       offset,
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "limit": limit, "offset": offset})
}
