package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alliancemanager/apiserver/internal/discord"
	"github.com/alliancemanager/apiserver/internal/services"
	"github.com/alliancemanager/apiserver/internal/token"
	"github.com/alliancemanager/apiserver/types"
)

// AuthHandler provides registration, login, and Discord OAuth endpoints.
type AuthHandler struct {
	userService *services.UserService
	issuer      *token.Issuer
	discord     *discord.Client
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, issuer *token.Issuer, discordClient *discord.Client) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		issuer:      issuer,
		discord:     discordClient,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, requireAuth func(http.Handler) http.Handler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Get("/discord", handler.DiscordAuthURL)
	r.Post("/discord/callback", handler.DiscordCallback)
	r.With(requireAuth).Get("/me", handler.Me)
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type DiscordCallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// Register creates a new user account and returns a session token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" && req.Username == "" {
		writeError(w, http.StatusBadRequest, "email or username required")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password required")
		return
	}

	user, err := h.userService.CreateUser(r.Context(), services.CreateUserData{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.respondWithSession(w, http.StatusCreated, user)
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.respondWithSession(w, http.StatusOK, user)
}

// DiscordAuthURL returns the provider authorization URL with a signed
// anti-forgery state token embedded.
func (h *AuthHandler) DiscordAuthURL(w http.ResponseWriter, r *http.Request) {
	if !h.discord.Configured() {
		writeError(w, http.StatusInternalServerError, "discord oauth not configured")
		return
	}

	state, err := h.issuer.IssueState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create state token")
		return
	}
	authURL, err := h.discord.AuthURL(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "discord oauth not configured")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

// DiscordCallback validates the anti-forgery state, exchanges the code,
// fetches the Discord profile, and resolves it to a local user. No user
// record is touched before the profile fetch succeeds.
func (h *AuthHandler) DiscordCallback(w http.ResponseWriter, r *http.Request) {
	var req DiscordCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Code == "" || req.State == "" {
		writeError(w, http.StatusBadRequest, "code and state required")
		return
	}

	if err := h.issuer.VerifyState(req.State); err != nil {
		writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	oauthToken, err := h.discord.Exchange(r.Context(), req.Code)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to obtain Discord access token")
		return
	}

	profile, err := h.discord.FetchUser(r.Context(), oauthToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to fetch Discord user")
		return
	}

	user, err := h.userService.FindOrCreateDiscordUser(r.Context(), profile.ID, profile.Username, profile.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.respondWithSession(w, http.StatusOK, user)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	user, err := h.userService.UserByID(r.Context(), claims.UserID())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) respondWithSession(w http.ResponseWriter, status int, user types.User) {
	sessionToken, err := h.issuer.Issue(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, status, AuthResponse{Token: sessionToken, User: user})
}
