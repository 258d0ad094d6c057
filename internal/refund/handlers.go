package refund

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/esim-admin/internal/common"
)

// Handler exposes refund review endpoints.
type Handler struct {
	Service *Service
}

// PatchStatus handles PATCH /api/v1/admin/refunds/{id}.
func (h *Handler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund service not configured", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "refund id is required", nil)
		return
	}
	var req UpdateInput
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	rec, err := h.Service.UpdateStatus(r.Context(), id, req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}
