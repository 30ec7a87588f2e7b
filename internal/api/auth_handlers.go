package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"farmhand.dev/core/internal/apperr"
	"farmhand.dev/core/internal/auth"
	"farmhand.dev/core/internal/auth/oauth"
	"farmhand.dev/core/internal/models"
	"farmhand.dev/core/internal/storage"
)

type registerRequest struct {
	Username             string `json:"username"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type authResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      userPayload `json:"user"`
}

type userPayload struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Handle string `json:"handle"`
	Role   string `json:"role"`
}

func newUserPayload(u models.User) userPayload {
	return userPayload{ID: u.ID, Email: u.Email, Handle: u.Handle, Role: string(u.Role)}
}

const minPasswordLength = 8

// Register handles POST /auth/register: body {username,email,password,
// password_confirmation} → 200|400|409.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.AllowSelfSignup {
		WriteError(w, http.StatusForbidden, apperr.New(apperr.KindForbidden, "self-signup is disabled"))
		return
	}

	var req registerRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = models.NormalizeEmail(req.Email)

	if req.Username == "" || req.Email == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, ValidationError("username, email, and password are required"))
		return
	}
	if req.Password != req.PasswordConfirmation {
		WriteError(w, http.StatusBadRequest, ValidationError("password and password_confirmation must match"))
		return
	}
	if len(req.Password) < minPasswordLength {
		WriteError(w, http.StatusBadRequest, ValidationError(fmt.Sprintf("password must be at least %d characters", minPasswordLength)))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	user, err := h.Store.CreateUser(r.Context(), models.User{
		ID:           newOpaqueID(),
		Email:        req.Email,
		Handle:       req.Username,
		PasswordHash: hash,
		Role:         models.RoleCreator,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			WriteError(w, http.StatusConflict, apperr.New(apperr.KindConflict, "email or username already registered"))
			return
		}
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	h.issueSession(w, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login: body {username?|email?, password} →
// 200|400.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.RateLimiter != nil {
		allowed, err := h.RateLimiter.Allow(r.Context(), "login:"+clientIP(r))
		if err == nil && !allowed {
			WriteError(w, http.StatusTooManyRequests, apperr.New(apperr.KindUpstream, "too many login attempts, try again later"))
			return
		}
	}

	var req loginRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if req.Password == "" || (req.Username == "" && req.Email == "") {
		WriteError(w, http.StatusBadRequest, ValidationError("password and username or email are required"))
		return
	}

	var (
		user models.User
		err  error
	)
	if req.Email != "" {
		user, err = h.Store.FindUserByEmail(r.Context(), models.NormalizeEmail(req.Email))
	} else {
		user, err = h.Store.FindUserByHandle(r.Context(), strings.TrimSpace(req.Username))
	}
	if err != nil {
		WriteError(w, http.StatusBadRequest, apperr.New(apperr.KindInput, "invalid credentials"))
		return
	}

	ok, err := auth.VerifyPassword(user.PasswordHash, req.Password)
	if err != nil || !ok {
		WriteError(w, http.StatusBadRequest, apperr.New(apperr.KindInput, "invalid credentials"))
		return
	}

	h.issueSession(w, user)
}

func (h *Handler) issueSession(w http.ResponseWriter, user models.User) {
	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, authResponse{Token: token, ExpiresAt: expiresAt, User: newUserPayload(user)})
}

// OAuthRedirect handles GET /auth/twitch: 302 to the provider authorize URL.
func (h *Handler) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		WriteError(w, http.StatusServiceUnavailable, apperr.New(apperr.KindUpstream, "oauth is not configured"))
		return
	}
	result, err := h.OAuth.Begin("twitch", r.URL.Query().Get("return_to"))
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, apperr.Wrap(apperr.KindUpstream, "start oauth flow", err))
		return
	}
	http.Redirect(w, r, result.URL, http.StatusFound)
}

// OAuthCallback handles GET /auth/twitch/callback: ?code&state → 302 to
// FRONTEND_URL/login?token=<jwt> (spec.md §6). The linked Account is
// upserted by (provider, provider_user_id); a new platform User is created
// on first sign-in via this provider.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		WriteError(w, http.StatusServiceUnavailable, apperr.New(apperr.KindUpstream, "oauth is not configured"))
		return
	}
	query := r.URL.Query()
	completion, err := h.OAuth.Complete("twitch", query.Get("state"), query.Get("code"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, apperr.Wrap(apperr.KindInput, "complete oauth flow", err))
		return
	}

	userID, err := h.resolveOAuthUser(r, completion.Profile)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	token, err := issueRedirectToken(h.JWTSecret, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	redirectTo := strings.TrimRight(h.FrontendURL, "/") + "/login?token=" + token
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

func (h *Handler) resolveOAuthUser(r *http.Request, profile oauth.UserProfile) (string, error) {
	account, err := h.Store.FindAccountByProvider(r.Context(), "twitch", profile.Subject)
	if err == nil {
		_, upsertErr := h.Store.UpsertAccount(r.Context(), account)
		return account.UserID, upsertErr
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	user, err := h.Store.CreateUser(r.Context(), models.User{
		ID:           newOpaqueID(),
		Email:        models.NormalizeEmail(profile.Email),
		Handle:       handleFromProfile(profile),
		PasswordHash: "",
		Role:         models.RoleCreator,
	})
	if err != nil {
		return "", fmt.Errorf("create user for oauth sign-in: %w", err)
	}

	if _, err := h.Store.UpsertAccount(r.Context(), models.Account{
		UserID:         user.ID,
		Provider:       "twitch",
		ProviderUserID: profile.Subject,
		ProviderHandle: profile.DisplayName,
	}); err != nil {
		return "", fmt.Errorf("link oauth account: %w", err)
	}
	return user.ID, nil
}

func handleFromProfile(profile oauth.UserProfile) string {
	if profile.DisplayName != "" {
		return profile.DisplayName
	}
	return "twitch_" + profile.Subject
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}
