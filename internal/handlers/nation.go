package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alliancemanager/apiserver/internal/services"
	"github.com/alliancemanager/apiserver/types"
)

// NationHandler provides the nation verification and cache endpoints. All
// routes require authentication.
type NationHandler struct {
	userService *services.UserService
}

func NewNationHandler(userService *services.UserService) *NationHandler {
	return &NationHandler{userService: userService}
}

// VerifyRouter registers the /pnw routes.
func VerifyRouter(r chi.Router, handler *NationHandler, requireAuth func(http.Handler) http.Handler) {
	r.Use(requireAuth)
	r.Post("/verify", handler.Verify)
	r.Post("/refresh", handler.Refresh)
}

// NationRouter registers the /user routes.
func NationRouter(r chi.Router, handler *NationHandler, requireAuth func(http.Handler) http.Handler) {
	r.Use(requireAuth)
	r.Get("/nation", handler.Nation)
}

type VerifyRequest struct {
	APIKey string `json:"apiKey"`
}

type VerifyResponse struct {
	User   types.User   `json:"user"`
	Nation types.Nation `json:"nationData"`
}

type RefreshResponse struct {
	User    types.User `json:"user"`
	Updated bool       `json:"updated"`
}

// Verify links the caller's account to the nation resolved from the
// submitted API key.
func (h *NationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, nation, err := h.userService.VerifyNation(r.Context(), claims.UserID(), req.APIKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{User: user, Nation: nation})
}

// Refresh re-fetches nation data with the stored API key. Best-effort:
// a failed directory call reports updated=false rather than an error.
func (h *NationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	user, updated, err := h.userService.RefreshNation(r.Context(), claims.UserID())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{User: user, Updated: updated})
}

// Nation returns the cached nation linked to the caller's account.
func (h *NationHandler) Nation(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	nation, err := h.userService.NationFor(r.Context(), claims.UserID())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]types.Nation{"nation": nation})
}
