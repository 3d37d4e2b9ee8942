package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/simphiwe-mabaso/family-dining/internal/logging"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

const (
	maxEmailLength    = 254
	maxPasswordLength = 128
	dispatchTimeout   = 30 * time.Second
)

// AuthTokens is the token half of a session as returned to clients.
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Session is the response to a successful register or login.
type Session struct {
	User   user.Public `json:"user"`
	Tokens AuthTokens  `json:"tokens"`
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// ClientInfo identifies the caller for the activity log.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// SessionManager orchestrates registration, login, refresh, logout and
// password reset on top of the credential, token and reset components.
type SessionManager struct {
	users       UserRepository
	activity    ActivityRecorder
	hasher      PasswordHasher
	credentials *CredentialValidator
	issuer      *TokenIssuer
	tokens      RefreshTokenRepository
	resets      *PasswordResetTokenManager
	notifier    Notifier
	logger      *logging.Logger
	minPassword int

	wg sync.WaitGroup
}

// NewSessionManager creates a SessionManager. minPasswordLength is counted in runes.
func NewSessionManager(
	users UserRepository,
	activity ActivityRecorder,
	hasher PasswordHasher,
	credentials *CredentialValidator,
	issuer *TokenIssuer,
	tokens RefreshTokenRepository,
	resets *PasswordResetTokenManager,
	notifier Notifier,
	logger *logging.Logger,
	minPasswordLength int,
) *SessionManager {
	return &SessionManager{
		users:       users,
		activity:    activity,
		hasher:      hasher,
		credentials: credentials,
		issuer:      issuer,
		tokens:      tokens,
		resets:      resets,
		notifier:    notifier,
		logger:      logger,
		minPassword: minPasswordLength,
	}
}

// Register creates an active account and signs it in.
func (s *SessionManager) Register(ctx context.Context, in RegisterInput, client ClientInfo) (*Session, error) {
	in.Email = user.NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)

	fields := map[string]string{}
	if msg := validateEmail(in.Email); msg != "" {
		fields["email"] = msg
	}
	if msg := s.validatePassword(in.Password); msg != "" {
		fields["password"] = msg
	}
	if in.FirstName == "" {
		fields["first_name"] = "first name is required"
	}
	if in.LastName == "" {
		fields["last_name"] = "last name is required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, s.internal("register", err)
	}

	params := user.CreateParams{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	}
	if in.Phone != "" {
		params.Phone = &in.Phone
	}

	u, err := s.users.Create(ctx, params)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, s.internal("register", err)
	}

	s.recordActivity(ctx, u.ID, user.ActivityRegister, client)

	session, err := s.startSession(ctx, u)
	if err != nil {
		return nil, s.internal("register", err)
	}

	s.dispatch(ctx, "send welcome email", u.ID, func(ctx context.Context) error {
		return s.notifier.SendWelcomeEmail(ctx, u)
	})

	return session, nil
}

// Login validates credentials and starts a new session
func (s *SessionManager) Login(ctx context.Context, email, password string, client ClientInfo) (*Session, error) {
	u, err := s.credentials.Validate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccountDisabled) {
			return nil, err
		}
		return nil, s.internal("login", err)
	}

	session, err := s.startSession(ctx, u)
	if err != nil {
		return nil, s.internal("login", err)
	}

	s.recordActivity(ctx, u.ID, user.ActivityLogin, client)

	return session, nil
}

// Refresh rotates refreshToken and returns a new pair. A presented token
// can succeed at most once. The owner is loaded and the access token minted
// before the rotation commits, so a failed lookup leaves the presented token
// usable for a retry.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrTokenInvalid
	}

	ownerID, err := s.tokens.Owner(ctx, refreshToken)
	if err != nil {
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			return nil, err
		}
		return nil, s.internal("refresh", err)
	}

	u, err := s.users.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, s.internal("refresh", err)
	}

	access, _, err := s.issuer.NewAccessToken(u, nil)
	if err != nil {
		return nil, s.internal("refresh", err)
	}

	next, nextExp, err := s.issuer.NewRefreshToken()
	if err != nil {
		return nil, s.internal("refresh", err)
	}

	userID, err := s.tokens.RedeemAndRotate(ctx, refreshToken, next, nextExp)
	if err != nil {
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			return nil, err
		}
		return nil, s.internal("refresh", err)
	}
	if userID != u.ID {
		return nil, s.internal("refresh", fmt.Errorf("rotated token owner %s does not match %s", userID, u.ID))
	}

	if !u.IsActive {
		if err := s.tokens.RevokeUser(ctx, u.ID); err != nil {
			s.logger.Error("failed to revoke tokens of disabled account", "user_id", u.ID, "error", err)
		}
		return nil, ErrAccountDisabled
	}

	return s.authTokens(access, next), nil
}

// Logout revokes every refresh token of userID. Calling it again is a no-op.
func (s *SessionManager) Logout(ctx context.Context, userID uuid.UUID, client ClientInfo) error {
	if err := s.tokens.RevokeUser(ctx, userID); err != nil {
		return s.internal("logout", err)
	}
	s.recordActivity(ctx, userID, user.ActivityLogout, client)
	return nil
}

// LogoutSession revokes a single refresh token, but only one owned by userID.
func (s *SessionManager) LogoutSession(ctx context.Context, userID uuid.UUID, refreshToken string, client ClientInfo) error {
	active, err := s.tokens.IsActive(ctx, userID, refreshToken)
	if err != nil {
		return s.internal("logout", err)
	}
	if !active {
		return nil
	}

	if err := s.tokens.RevokeToken(ctx, refreshToken); err != nil {
		return s.internal("logout", err)
	}
	s.recordActivity(ctx, userID, user.ActivityLogout, client)
	return nil
}

// RequestPasswordReset always returns nil so callers cannot tell whether the
// email is registered. A reset mail goes out only for active accounts.
func (s *SessionManager) RequestPasswordReset(ctx context.Context, email string) error {
	logger := s.logger.WithFields(map[string]any{"op": "request password reset"})

	email = user.NormalizeEmail(email)
	if validateEmail(email) != "" {
		return nil
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			logger.Error("failed to get user for password reset", "error", err)
		}
		return nil
	}
	if !u.IsActive {
		return nil
	}

	token, err := s.resets.Issue(ctx, u)
	if err != nil {
		logger.Error("failed to issue password reset token", "user_id", u.ID, "error", err)
		return nil
	}

	s.dispatch(ctx, "send password reset email", u.ID, func(ctx context.Context) error {
		return s.notifier.SendPasswordResetEmail(ctx, u, token)
	})

	return nil
}

// ResetPassword sets a new password using a reset token and signs the user
// out of every session.
func (s *SessionManager) ResetPassword(ctx context.Context, token, newPassword string) error {
	if msg := s.validatePassword(newPassword); msg != "" {
		return &ValidationError{Fields: map[string]string{"password": msg}}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenInvalid
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return s.internal("reset password", err)
	}

	u, err := s.resets.Redeem(ctx, token, hash)
	if err != nil {
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			return err
		}
		return s.internal("reset password", err)
	}

	s.recordActivity(ctx, u.ID, user.ActivityPasswordReset, ClientInfo{})
	return nil
}

// Profile returns the user behind an access token
func (s *SessionManager) Profile(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, err
		}
		return nil, s.internal("profile", err)
	}
	return u, nil
}

// Wait blocks until background e-mail deliveries have finished.
func (s *SessionManager) Wait() {
	s.wg.Wait()
}

// startSession mints an access token and stores a new refresh token family
func (s *SessionManager) startSession(ctx context.Context, u *user.User) (*Session, error) {
	issued, err := s.issuer.Issue(u)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Store(ctx, u.ID, issued.RefreshToken, issued.RefreshExpiresAt); err != nil {
		return nil, err
	}

	return &Session{
		User:   u.Public(),
		Tokens: *s.authTokens(issued.AccessToken, issued.RefreshToken),
	}, nil
}

func (s *SessionManager) authTokens(access, refresh string) *AuthTokens {
	return &AuthTokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL() / time.Second),
	}
}

func (s *SessionManager) recordActivity(ctx context.Context, userID uuid.UUID, action string, client ClientInfo) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, userID, action, client.IP, client.UserAgent); err != nil {
		s.logger.Warn("failed to record activity", "user_id", userID, "action", action, "error", err)
	}
}

// dispatch runs fn in the background on a context that survives the request.
func (s *SessionManager) dispatch(ctx context.Context, op string, userID uuid.UUID, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Warn("background task failed", "op", op, "user_id", userID, "error", err)
		}
	}()
}

func (s *SessionManager) internal(op string, err error) error {
	s.logger.Error("internal error", "op", op, "error", err)
	return &InternalError{Op: op, Err: err}
}

func (s *SessionManager) validatePassword(password string) string {
	n := utf8.RuneCountInString(password)
	switch {
	case password == "":
		return "password is required"
	case n < s.minPassword:
		return fmt.Sprintf("password must be at least %d characters", s.minPassword)
	case n > maxPasswordLength:
		return fmt.Sprintf("password must be at most %d characters", maxPasswordLength)
	}
	return ""
}

func validateEmail(email string) string {
	if email == "" {
		return "email is required"
	}
	if len(email) > maxEmailLength {
		return "email is too long"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "invalid email format"
	}
	return ""
}
