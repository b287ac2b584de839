package httpapi

import (
	"encoding/json"
	"net/http"

	"aura/internal/ratelimit/admin"
	"aura/internal/ratelimit/models"
	dErrors "aura/pkg/domain-errors"
	"aura/pkg/platform/httputil"
)

// AdminHandler exposes the operator surface over the ratelimit state.
type AdminHandler struct {
	service *admin.Service
}

func NewAdminHandler(service *admin.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

type resetRequest struct {
	ClientKey string `json:"client_key"`
}

func (h *AdminHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientKey == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "client_key is required"))
		return
	}

	deleted, err := h.service.ResetClient(r.Context(), models.ClientKey(req.ClientKey))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.ResetResponse{
		ClientKey:   req.ClientKey,
		KeysDeleted: deleted,
	})
}

func (h *AdminHandler) handlePolicies(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.PolicyReport())
}
