// cmdbd - Configuration Management Database Server
// Copyright 2026 The cmdbd Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opsmesh/cmdbd

package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/opsmesh/cmdbd/internal/database"
	"github.com/opsmesh/cmdbd/internal/logging"
	"github.com/opsmesh/cmdbd/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AccountStore is the account surface the handlers need beyond the
// resolver's read-only lookups.
type AccountStore interface {
	UserStore
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
}

// HandlersConfig holds the cookie settings for the jwt-cookie flow.
type HandlersConfig struct {
	CookieName   string
	CookieSecure bool
	CookieMaxAge time.Duration
}

// Handlers provides the authentication endpoints: token login, cookie
// login, logout, registration, and the current-user probe.
type Handlers struct {
	tokens  *TokenManager
	store   AccountStore
	lockout *LockoutManager
	limiter *LoginLimiter
	seclog  *logging.SecurityLogger
	config  *HandlersConfig
	onLogin func(ctx context.Context, user *models.User)
}

// NewHandlers creates the auth handler set. onLogin, if non-nil, runs
// after each successful credential check; the role synchronizer hooks
// in here to keep superuser grants current.
func NewHandlers(tokens *TokenManager, store AccountStore, lockout *LockoutManager,
	limiter *LoginLimiter, cfg *HandlersConfig, onLogin func(ctx context.Context, user *models.User)) *Handlers {
	return &Handlers{
		tokens:  tokens,
		store:   store,
		lockout: lockout,
		limiter: limiter,
		seclog:  logging.NewSecurityLogger(),
		config:  cfg,
		onLogin: onLogin,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=255"`
	Password string `json:"password" validate:"required,min=1,max=256"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type userResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FullName    string `json:"full_name,omitempty"`
	IsActive    bool   `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
}

func toUserResponse(u *models.User) *userResponse {
	return &userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
	}
}

// Login authenticates and returns a bearer token.
// POST /auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	token, err := h.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Token generation failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, &loginResponse{AccessToken: token, TokenType: "bearer"})
}

// CookieLogin authenticates and sets the session cookie.
// POST /auth/jwt-cookie/login
func (h *Handlers) CookieLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	token, err := h.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Token generation failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.config.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged in"})
}

// authenticate runs the shared credential check: rate limit, lockout,
// user lookup, password verify, lazy rehash, audit. A uniform 401 hides
// whether the username or the password was wrong.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	ip := clientIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return nil, false
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	ctx := r.Context()
	if h.lockout != nil {
		if err := h.lockout.CheckLocked(ctx, req.Username); err != nil {
			if errors.Is(err, ErrAccountLocked) {
				h.seclog.LogAuth(req.Username, "login", false)
				writeError(w, http.StatusTooManyRequests, "account temporarily locked")
				return nil, false
			}
			logging.Ctx(ctx).Error().Err(err).Msg("Lockout check failed")
		}
	}

	user, err := h.store.GetUserByUsernameOrEmail(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logging.Ctx(ctx).Error().Err(err).Msg("Account lookup failed")
		}
		h.recordFailure(ctx, req.Username, ip)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return nil, false
	}

	ok, needsRehash := VerifyPassword(req.Password, user.PasswordHash)
	if !ok {
		h.recordFailure(ctx, req.Username, ip)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return nil, false
	}
	if !user.IsActive {
		h.seclog.LogAuth(user.Username, "login", false)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return nil, false
	}

	if needsRehash {
		if hash, err := HashPassword(req.Password); err == nil {
			if err := h.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Password rehash failed")
			}
		}
	}

	if h.lockout != nil {
		if err := h.lockout.RecordSuccess(ctx, req.Username); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Lockout reset failed")
		}
	}
	h.seclog.LogAuth(user.Username, "login", true)
	if h.onLogin != nil {
		h.onLogin(ctx, user)
	}
	return user, true
}

func (h *Handlers) recordFailure(ctx context.Context, username, ip string) {
	h.seclog.LogAuth(username, "login", false)
	if h.lockout == nil {
		return
	}
	if _, err := h.lockout.RecordFailure(ctx, username, ip); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to record login failure")
	}
}

// Logout is a no-op for bearer tokens; the client discards the token.
// POST /auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	if !subject.IsAnonymous() {
		h.seclog.LogAuth(subject.Name, "logout", true)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// CookieLogout clears the session cookie.
// POST /auth/jwt-cookie/logout
func (h *Handlers) CookieLogout(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	if !subject.IsAnonymous() {
		h.seclog.LogAuth(subject.Name, "logout", true)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=256"`
	FullName string `json:"full_name" validate:"max=255"`
}

// Register creates a new account. New accounts are active,
// non-superuser, and carry no roles until an administrator grants them.
// POST /auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Password hashing failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user, err := h.store.CreateUser(r.Context(), &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			writeError(w, http.StatusConflict, "username or email already registered")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("Account creation failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.seclog.LogAuth(user.Username, "register", true)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Me returns the authenticated account.
// GET /auth/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	if subject.IsAnonymous() {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	user, err := h.store.GetUserByID(r.Context(), subject.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("Account lookup failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
