package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomline/loomline-engine/pkg/middleware"
	"github.com/loomline/loomline-engine/pkg/models"
	"github.com/loomline/loomline-engine/pkg/services"
)

// LotsHandler handles lot and supply-chain HTTP requests.
type LotsHandler struct {
	lotService         services.LotService
	supplyChainService services.SupplyChainService
	logger             *zap.Logger
}

// NewLotsHandler creates a new lots handler.
func NewLotsHandler(lotService services.LotService, supplyChainService services.SupplyChainService, logger *zap.Logger) *LotsHandler {
	return &LotsHandler{
		lotService:         lotService,
		supplyChainService: supplyChainService,
		logger:             logger,
	}
}

// RegisterRoutes registers the lots handler's routes on the given mux.
func (h *LotsHandler) RegisterRoutes(mux *http.ServeMux, client *middleware.Client) {
	mux.HandleFunc("POST /api/lots", client.Require(h.Create))
	mux.HandleFunc("GET /api/lots", client.Require(h.List))
	mux.HandleFunc("GET /api/lots/{id}", client.Require(h.Get))
	mux.HandleFunc("PUT /api/lots/{id}/suppliers", client.Require(h.SyncPlan))
	mux.HandleFunc("POST /api/lots/{id}/advance", client.Require(h.Advance))
	mux.HandleFunc("POST /api/lots/{id}/submit", client.Require(h.SubmitForApproval))
	mux.HandleFunc("POST /api/lots/{id}/approve", client.Require(h.Approve))
	mux.HandleFunc("POST /api/lots/{id}/reject", client.Require(h.Reject))
	mux.HandleFunc("POST /api/lots/{id}/ship", client.Require(h.Ship))
	mux.HandleFunc("GET /api/lots/{id}/approvals", client.Require(h.Approvals))
}

type createLotRequest struct {
	StyleRef string `json:"style_ref"`
	Quantity int    `json:"quantity"`
}

type decisionRequest struct {
	DeciderID uuid.UUID `json:"decider_id"`
	Note      string    `json:"note"`
}

// Create handles POST /api/lots
func (h *LotsHandler) Create(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetClientID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing client identity")
		return
	}

	var req createLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	lot, err := h.lotService.Create(r.Context(), clientID, req.StyleRef, req.Quantity)
	if err != nil {
		h.serviceError(w, err, "Failed to create lot")
		return
	}

	h.writeJSON(w, http.StatusCreated, lot)
}

// List handles GET /api/lots
func (h *LotsHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetClientID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing client identity")
		return
	}

	lots, err := h.lotService.ListByClient(r.Context(), clientID)
	if err != nil {
		h.serviceError(w, err, "Failed to list lots")
		return
	}

	h.writeJSON(w, http.StatusOK, lots)
}

// Get handles GET /api/lots/{id}
func (h *LotsHandler) Get(w http.ResponseWriter, r *http.Request) {
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	view, err := h.supplyChainService.GetSupplyChain(r.Context(), lotID)
	if err != nil {
		h.serviceError(w, err, "Failed to get lot")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// SyncPlan handles PUT /api/lots/{id}/suppliers
func (h *LotsHandler) SyncPlan(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetClientID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing client identity")
		return
	}
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	var req models.SyncPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	view, err := h.supplyChainService.SyncPlan(r.Context(), clientID, lotID, &req)
	if err != nil {
		h.serviceError(w, err, "Failed to sync supplier plan")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// Advance handles POST /api/lots/{id}/advance
func (h *LotsHandler) Advance(w http.ResponseWriter, r *http.Request) {
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	view, err := h.supplyChainService.Advance(r.Context(), lotID)
	if err != nil {
		h.serviceError(w, err, "Failed to advance lot")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// SubmitForApproval handles POST /api/lots/{id}/submit
func (h *LotsHandler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	lot, err := h.lotService.SubmitForApproval(r.Context(), lotID)
	if err != nil {
		h.serviceError(w, err, "Failed to submit lot for approval")
		return
	}

	h.writeJSON(w, http.StatusOK, lot)
}

// Approve handles POST /api/lots/{id}/approve
func (h *LotsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	var note *string
	if req.Note != "" {
		note = &req.Note
	}

	lot, err := h.lotService.Approve(r.Context(), lotID, req.DeciderID, note)
	if err != nil {
		h.serviceError(w, err, "Failed to approve lot")
		return
	}

	h.writeJSON(w, http.StatusOK, lot)
}

// Reject handles POST /api/lots/{id}/reject
func (h *LotsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid JSON body")
		return
	}

	lot, err := h.lotService.Reject(r.Context(), lotID, req.DeciderID, req.Note)
	if err != nil {
		h.serviceError(w, err, "Failed to reject lot")
		return
	}

	h.writeJSON(w, http.StatusOK, lot)
}

// Ship handles POST /api/lots/{id}/ship
func (h *LotsHandler) Ship(w http.ResponseWriter, r *http.Request) {
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	lot, err := h.lotService.Ship(r.Context(), lotID)
	if err != nil {
		h.serviceError(w, err, "Failed to ship lot")
		return
	}

	h.writeJSON(w, http.StatusOK, lot)
}

// Approvals handles GET /api/lots/{id}/approvals
func (h *LotsHandler) Approvals(w http.ResponseWriter, r *http.Request) {
	lotID, ok := h.lotID(w, r)
	if !ok {
		return
	}

	approvals, err := h.lotService.Approvals(r.Context(), lotID)
	if err != nil {
		h.serviceError(w, err, "Failed to list approvals")
		return
	}

	h.writeJSON(w, http.StatusOK, approvals)
}

func (h *LotsHandler) lotID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_lot_id", "Invalid lot id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *LotsHandler) serviceError(w http.ResponseWriter, err error, logMsg string) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(logMsg, zap.Error(err))
	}
	h.writeError(w, status, code, err.Error())
}

func (h *LotsHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *LotsHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, data); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
