package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/simphiwe-mabaso/family-dining/internal/httputil"
	"github.com/simphiwe-mabaso/family-dining/internal/logging"
	"github.com/simphiwe-mabaso/family-dining/internal/ratelimit"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// Rate limit purposes.
const (
	purposeRegister       = "register"
	purposeLogin          = "login"
	purposeRefresh        = "refresh"
	purposeForgotPassword = "forgot_password"
	purposeResetPassword  = "reset_password"
)

const maxRequestBodyBytes = 1 << 20

// forgotPasswordMessage is identical whether or not the account exists.
const forgotPasswordMessage = "If the email exists, a reset link has been sent"

// Handler contains HTTP handlers for authentication endpoints.
type Handler struct {
	sessions        *SessionManager
	rateLimiter     *ratelimit.Limiter
	isProduction    bool
	accessDuration  time.Duration
	refreshDuration time.Duration
}

func NewHandler(sessions *SessionManager, rateLimiter *ratelimit.Limiter, isProduction bool, accessDuration, refreshDuration time.Duration) *Handler {
	return &Handler{
		sessions:        sessions,
		rateLimiter:     rateLimiter,
		isProduction:    isProduction,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create an account and start a session. A welcome email is sent in the background.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration details"
// @Success      201 {object} Session
// @Failure      400 {object} httputil.ErrorResponse "Invalid request or validation error"
// @Failure      409 {object} httputil.ErrorResponse "Email already exists"
// @Failure      413 {object} httputil.ErrorResponse "Request body too large"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.rateLimited(w, r, logger, purposeRegister) {
		return
	}

	var req RegisterRequest
	if !decodeJSON(w, r, logger, "registration", &req) {
		return
	}

	session, err := h.sessions.Register(r.Context(), RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, clientInfo(r))
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			logger.Warn("registration failed: email already exists")
			respondError(w, "email already exists", httputil.CodeEmailAlreadyExists, http.StatusConflict)
			return
		}
		h.respondServiceError(w, logger, "registration", err)
		return
	}

	logger.Info("user registered", "user_id", session.User.ID)
	h.respondSession(w, r, session, http.StatusCreated)
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate with email and password and receive access and refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} Session
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      403 {object} httputil.ErrorResponse "Account disabled"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.rateLimited(w, r, logger, purposeLogin) {
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, logger, "login", &req) {
		return
	}

	session, err := h.sessions.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			logger.Warn("login failed: invalid credentials")
			respondError(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
		case errors.Is(err, ErrAccountDisabled):
			logger.Warn("login failed: account disabled")
			respondError(w, "account is disabled", httputil.CodeAccountDisabled, http.StatusForbidden)
		default:
			h.respondServiceError(w, logger, "login", err)
		}
		return
	}

	logger.Info("user logged in", "user_id", session.User.ID)
	h.respondSession(w, r, session, http.StatusOK)
}

// Refresh reads the refresh token from the body, falling back to the cookie.
// @Summary      Refresh access token
// @Description  Rotate a refresh token. Each refresh token can be used once.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest false "Refresh token"
// @Success      200 {object} AuthTokens
// @Failure      400 {object} httputil.ErrorResponse "Refresh token missing"
// @Failure      401 {object} httputil.ErrorResponse "Invalid, expired or reused refresh token"
// @Failure      403 {object} httputil.ErrorResponse "Account disabled"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.rateLimited(w, r, logger, purposeRefresh) {
		return
	}

	refreshToken := refreshTokenFromRequest(w, r)
	if refreshToken == "" {
		logger.Warn("refresh token missing from both body and cookie")
		respondError(w, "refresh token required", httputil.CodeRefreshTokenRequired, http.StatusBadRequest)
		return
	}

	tokens, err := h.sessions.Refresh(r.Context(), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			logger.Warn("token refresh failed: expired")
			respondError(w, "refresh token has expired", httputil.CodeRefreshTokenExpired, http.StatusUnauthorized)
		case errors.Is(err, ErrTokenReused):
			logger.Warn("token refresh failed: token reuse detected")
			respondError(w, "refresh token has already been used", httputil.CodeRefreshTokenReused, http.StatusUnauthorized)
		case errors.Is(err, ErrTokenInvalid):
			logger.Warn("token refresh failed: invalid token")
			respondError(w, "invalid refresh token", httputil.CodeInvalidRefreshToken, http.StatusUnauthorized)
		case errors.Is(err, ErrAccountDisabled):
			logger.Warn("token refresh failed: account disabled")
			respondError(w, "account is disabled", httputil.CodeAccountDisabled, http.StatusForbidden)
		default:
			h.respondServiceError(w, logger, "token refresh", err)
		}
		return
	}

	logger.Info("access token refreshed")

	if ShouldUseCookies(r) {
		SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken, h.isProduction, h.accessDuration, h.refreshDuration)
		respondJSON(w, MessageResponse{Message: "token refreshed"}, http.StatusOK)
		return
	}
	respondJSON(w, tokens, http.StatusOK)
}

// Logout revokes the presented refresh token when one is sent, otherwise
// every session of the caller. It always clears the auth cookies.
// @Summary      Logout
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Param        request body RefreshRequest false "Session to end"
// @Success      200 {object} MessageResponse
// @Failure      401 {object} httputil.ErrorResponse "Missing or invalid access token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	var err error
	if refreshToken := refreshTokenFromRequest(w, r); refreshToken != "" {
		err = h.sessions.LogoutSession(r.Context(), userID, refreshToken, clientInfo(r))
	} else {
		err = h.sessions.Logout(r.Context(), userID, clientInfo(r))
	}
	if err != nil {
		h.respondServiceError(w, logger, "logout", err)
		return
	}

	ClearAuthCookies(w, h.isProduction)

	logger.Info("user logged out")
	respondJSON(w, MessageResponse{Message: "logged out"}, http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request a password reset
// @Description  Always returns the same message whether or not the email is registered
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ForgotPasswordRequest true "Account email"
// @Success      200 {object} MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests or cooldown active"
// @Router       /auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.rateLimited(w, r, logger, purposeForgotPassword) {
		return
	}

	var req ForgotPasswordRequest
	if !decodeJSON(w, r, logger, "forgot password", &req) {
		return
	}

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), req.Email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
	} else if onCooldown {
		logger.Warn("email on cooldown")
		respondError(w, "please wait before requesting another reset", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return
	}
	if err := h.rateLimiter.SetEmailCooldown(r.Context(), req.Email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}

	_ = h.sessions.RequestPasswordReset(r.Context(), req.Email)

	respondJSON(w, MessageResponse{Message: forgotPasswordMessage}, http.StatusOK)
}

// ResetPassword handles password reset with a reset token
// @Summary      Reset password
// @Description  Set a new password with a single-use reset token. Every session of the account is revoked.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset token and new password"
// @Success      200 {object} MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid, expired or used token, or validation error"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.rateLimited(w, r, logger, purposeResetPassword) {
		return
	}

	var req ResetPasswordRequest
	if !decodeJSON(w, r, logger, "reset password", &req) {
		return
	}

	err := h.sessions.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			logger.Warn("password reset failed: token expired")
			respondError(w, "reset token has expired", httputil.CodeResetTokenExpired, http.StatusBadRequest)
		case errors.Is(err, ErrTokenAlreadyUsed):
			logger.Warn("password reset failed: token already used")
			respondError(w, "reset token has already been used", httputil.CodeResetTokenUsed, http.StatusBadRequest)
		case errors.Is(err, ErrTokenInvalid):
			logger.Warn("password reset failed: invalid token")
			respondError(w, "invalid reset token", httputil.CodeInvalidResetToken, http.StatusBadRequest)
		default:
			h.respondServiceError(w, logger, "password reset", err)
		}
		return
	}

	logger.Info("password reset")
	respondJSON(w, MessageResponse{Message: "Password has been reset. Please log in again."}, http.StatusOK)
}

// Profile returns the authenticated user's sanitized record.
// @Summary      Current user profile
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} map[string]user.Public
// @Failure      401 {object} httputil.ErrorResponse "Missing or invalid access token"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /users/profile [get]
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	u, err := h.sessions.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			respondError(w, "user not found", httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		h.respondServiceError(w, logger, "profile", err)
		return
	}

	respondJSON(w, map[string]any{"user": u.Public()}, http.StatusOK)
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, session *Session, status int) {
	if ShouldUseCookies(r) {
		SetAuthCookies(w, session.Tokens.AccessToken, session.Tokens.RefreshToken, h.isProduction, h.accessDuration, h.refreshDuration)
		respondJSON(w, map[string]any{"user": session.User}, status)
		return
	}
	respondJSON(w, session, status)
}

// respondServiceError handles the errors every operation can produce.
func (h *Handler) respondServiceError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		logger.Warn(op+" failed: validation error", "fields", validationErr.Fields)
		httputil.RespondValidationError(w, validationErr.Fields)
		return
	}

	logger.Error(op+" failed: internal error", "error", err.Error())
	respondError(w, "internal server error", httputil.CodeInternalError, http.StatusInternalServerError)
}

// rateLimited checks and records one request for purpose. Limiter failures
// are logged and let the request through.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, logger *logging.Logger, purpose string) bool {
	if h.rateLimiter == nil {
		return false
	}

	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	return false
}

func refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) string {
	var req RefreshRequest
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && strings.TrimSpace(req.RefreshToken) != "" {
			return strings.TrimSpace(req.RefreshToken)
		}
	}

	if cookieToken, err := GetRefreshTokenFromCookie(r); err == nil {
		return cookieToken
	}
	return ""
}

// decodeJSON reads at most maxRequestBodyBytes of the body into dst. On
// failure it writes the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, logger *logging.Logger, op string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		logger.Warn(op+" request body too large", "limit", tooLarge.Limit)
		respondError(w, "request body too large", httputil.CodeRequestTooLarge, http.StatusRequestEntityTooLarge)
		return false
	}

	logger.Warn("invalid "+op+" request body", "error", err.Error())
	respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
	return false
}

func clientInfo(r *http.Request) ClientInfo {
	return ClientInfo{IP: getClientIP(r), UserAgent: r.UserAgent()}
}

func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP prefers proxy headers, then RemoteAddr without its port.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
