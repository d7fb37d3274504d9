package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

// Handlers exposes the REST surface and the WebSocket upgrade endpoint.
// Responses use a {status, message, data} envelope.
type Handlers struct {
	service *Service
	hub     *RoomHub
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(service *Service, hub *RoomHub) *Handlers {
	return &Handlers{service: service, hub: hub}
}

// RegisterRoutes registers all routes with an HTTP mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auctions", h.handleList)
	mux.HandleFunc("POST /api/auctions", h.handleCreate)
	mux.HandleFunc("GET /api/auctions/{id}", h.handleGet)
	mux.HandleFunc("PATCH /api/auctions/{id}", h.handleUpdate)
	mux.HandleFunc("POST /api/auctions/{id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /ws/auctions", h.handleWebSocket)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	log.Info().Msg("auction gateway routes registered")
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status": true,
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  false,
		"message": message,
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrPhaseConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBidTooLow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// AnonymousUser is the identity assigned to room connections that present no
// credentials. Anonymous connections can watch auctions but not bid.
const AnonymousUser = "anonymous"

// identity extracts the caller identity from headers. In production this
// would come from a JWT or session.
func identity(r *http.Request) auction.UserRef {
	return auction.UserRef{
		ID:       r.Header.Get("X-User-Id"),
		Username: r.Header.Get("X-Username"),
	}
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.service.ListAuctions(r.Context(), auction.ListParams{
		Page:      page,
		Limit:     limit,
		Search:    q.Get("search"),
		Status:    q.Get("status"),
		Category:  q.Get("category"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to list auctions")
		writeError(w, errorStatus(err), "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetAuction(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		log.Error().Err(err).Msg("failed to get auction")
		writeError(w, http.StatusInternalServerError, "failed to get auction")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	seller := identity(r)
	if seller.ID == "" {
		writeError(w, http.StatusUnauthorized, "identity headers are required")
		return
	}

	var req auction.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.service.CreateAuction(r.Context(), req, seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := identity(r)
	if caller.ID == "" {
		writeError(w, http.StatusUnauthorized, "identity headers are required")
		return
	}

	current, err := h.service.GetAuction(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), "auction not found")
		return
	}
	if current.CreatedBy.ID != caller.ID {
		writeError(w, http.StatusForbidden, "only the creator can edit an auction")
		return
	}

	var patch auction.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.service.UpdateAuction(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			writeError(w, http.StatusConflict, "auction can only be edited while pending")
			return
		}
		writeError(w, errorStatus(err), "failed to update auction")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := identity(r)
	if caller.ID == "" {
		writeError(w, http.StatusUnauthorized, "identity headers are required")
		return
	}

	current, err := h.service.GetAuction(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), "auction not found")
		return
	}
	if current.CreatedBy.ID != caller.ID {
		writeError(w, http.StatusForbidden, "only the creator can cancel an auction")
		return
	}

	snap, err := h.service.CancelAuction(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPhaseConflict) {
			writeError(w, http.StatusConflict, "auction can no longer be cancelled")
			return
		}
		writeError(w, errorStatus(err), "failed to cancel auction")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := identity(r)
	if user.ID == "" {
		// Fall back to query parameters for browser WebSocket clients, which
		// cannot set headers on the upgrade request.
		user.ID = r.URL.Query().Get("userId")
		user.Username = r.URL.Query().Get("username")
	}
	if user.ID == "" {
		user.ID = AnonymousUser
	}

	if _, err := h.hub.Upgrade(w, r, user.ID, user.Username); err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Error().Err(err).Str("user_id", user.ID).Msg("websocket upgrade failed")
	}
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.hub.Stats()
	total := 0
	for _, n := range stats {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalConnections": total,
		"rooms":            stats,
	})
}
