package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/loomline/loomline-engine/pkg/middleware"
	"github.com/loomline/loomline-engine/pkg/repositories"
)

// RolesHandler exposes the production role catalog.
type RolesHandler struct {
	roleRepo repositories.RoleRepository
	logger   *zap.Logger
}

// NewRolesHandler creates a new roles handler.
func NewRolesHandler(roleRepo repositories.RoleRepository, logger *zap.Logger) *RolesHandler {
	return &RolesHandler{roleRepo: roleRepo, logger: logger}
}

// RegisterRoutes registers the roles handler's routes on the given mux.
func (h *RolesHandler) RegisterRoutes(mux *http.ServeMux, client *middleware.Client) {
	mux.HandleFunc("GET /api/roles", client.Require(h.List))
}

// List handles GET /api/roles
func (h *RolesHandler) List(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roleRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list roles", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list roles"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, roles); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
