package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/service"
	"github.com/tallycrm/tally/internal/store"
)

// SystemHandler serves sessions, user administration and API key
// management.
type SystemHandler struct {
	store   *store.Store
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(s *store.Store, authSvc *service.AuthService, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{store: s, authSvc: authSvc, logger: logger}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string      `json:"session_token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int         `json:"expires_in"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// Login verifies email and password and returns a JWT session token.
// POST /api/v1/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	sess, err := h.authSvc.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		if service.IsUnauthorized(err) {
			h.logger.Warn("login rejected", "detail", err.Error(), "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "authentication unavailable")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		TokenType: "bearer",
		ExpiresIn: int(h.authSvc.SessionTTL().Seconds()),
		ExpiresAt: sess.ExpiresAt,
		User:      sess.User,
	})
}

// Logout ends the current session. Since JWTs are stateless, this is a
// no-op on the server side. Clients should discard their token.
// DELETE /api/v1/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session ended",
	})
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// Me returns the authenticated user.
// GET /api/v1/me
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), principal(r).UserID)
	if err != nil {
		writeStoreError(w, r, h.logger, "user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListUsers returns all users.
// GET /api/v1/system/user
func (h *SystemHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, "users", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users, len(users), 0, 0))
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser creates a user account.
// POST /api/v1/system/user
func (h *SystemHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	if req.Role == "" {
		req.Role = string(model.RoleSalesRep)
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := service.HashPassword(req.Password)
	if err != nil {
		writeStoreError(w, r, h.logger, "user", err)
		return
	}

	user := &model.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "A user with this email already exists")
			return
		}
		writeStoreError(w, r, h.logger, "user", err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// createAPIKeyRequest is the expected payload for CreateAPIKey.
type createAPIKeyRequest struct {
	UserID    int64      `json:"user_id,omitempty"`
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createAPIKeyResponse includes the plaintext key (shown once only).
type createAPIKeyResponse struct {
	model.APIKey
	Key string `json:"api_key"` // Plaintext, shown ONCE.
}

// ListAPIKeys returns every API key (without exposing hashes).
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.listKeys(w, r, userID)
}

// ListMyAPIKeys returns the caller's API keys.
// GET /api/v1/me/api-key
func (h *SystemHandler) ListMyAPIKeys(w http.ResponseWriter, r *http.Request) {
	h.listKeys(w, r, principal(r).UserID)
}

func (h *SystemHandler) listKeys(w http.ResponseWriter, r *http.Request, userID int64) {
	keys, err := h.store.ListAPIKeys(r.Context(), userID)
	if err != nil {
		writeStoreError(w, r, h.logger, "api keys", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(keys, len(keys), 0, 0))
}

// CreateAPIKey issues a key for any user (default: the caller) and returns
// the plaintext key exactly once.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	h.createKey(w, r, true)
}

// CreateMyAPIKey issues a key for the caller.
// POST /api/v1/me/api-key
func (h *SystemHandler) CreateMyAPIKey(w http.ResponseWriter, r *http.Request) {
	h.createKey(w, r, false)
}

func (h *SystemHandler) createKey(w http.ResponseWriter, r *http.Request, anyUser bool) {
	var req createAPIKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	userID := principal(r).UserID
	if req.UserID != 0 {
		if !anyUser && req.UserID != userID {
			writeError(w, http.StatusForbidden, "Cannot create keys for another user")
			return
		}
		userID = req.UserID
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "User not found")
			return
		}
		writeStoreError(w, r, h.logger, "user", err)
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusBadRequest, "User is disabled")
		return
	}

	issued, err := h.authSvc.IssueAPIKey(r.Context(), user.ID, req.Label, req.ExpiresAt)
	if err != nil {
		writeStoreError(w, r, h.logger, "api key", err)
		return
	}

	// Return the plaintext key. This is the ONLY time it will be visible.
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{APIKey: issued.Key, Key: issued.Raw})
}

// RevokeAPIKey deactivates any API key by ID.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	h.revokeKey(w, r, true)
}

// RevokeMyAPIKey deactivates one of the caller's API keys.
// DELETE /api/v1/me/api-key/{keyId}
func (h *SystemHandler) RevokeMyAPIKey(w http.ResponseWriter, r *http.Request) {
	h.revokeKey(w, r, false)
}

func (h *SystemHandler) revokeKey(w http.ResponseWriter, r *http.Request, anyUser bool) {
	id, err := pathID(r, "keyId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !anyUser {
		key, err := h.store.GetAPIKey(r.Context(), id)
		if err != nil {
			writeStoreError(w, r, h.logger, "api key", err)
			return
		}
		if key.UserID != principal(r).UserID {
			writeError(w, http.StatusNotFound, "api key not found")
			return
		}
	}

	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, "api key", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}
