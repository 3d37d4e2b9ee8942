package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simphiwe-mabaso/family-dining/internal/logging"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

type sessionEnv struct {
	sessions *SessionManager
	users    *fakeUsers
	activity *fakeActivity
	notifier *fakeNotifier
	resets   *fakeResets
	store    *RedisRepository
	codec    *JWTService
	advance  func(time.Duration)
}

func newSessionEnv(t *testing.T, policy ReusePolicy) *sessionEnv {
	t.Helper()

	users := newFakeUsers()
	hasher := newTestHasher()
	credentials, err := NewCredentialValidator(context.Background(), users, hasher)
	require.NoError(t, err)

	codec := newTestJWT(t)
	issuer := NewTokenIssuer(codec, 15*time.Minute, time.Hour)

	store, advance := newTestRedisRepo(t, policy)
	resets := newFakeResets(users)
	activity := &fakeActivity{}
	notifier := newFakeNotifier()

	sessions := NewSessionManager(
		users,
		activity,
		hasher,
		credentials,
		issuer,
		store,
		NewPasswordResetTokenManager(resets, users, store, time.Hour),
		notifier,
		logging.Discard(),
		6,
	)
	t.Cleanup(sessions.Wait)

	return &sessionEnv{
		sessions: sessions,
		users:    users,
		activity: activity,
		notifier: notifier,
		resets:   resets,
		store:    store,
		codec:    codec,
		advance:  advance,
	}
}

func (e *sessionEnv) register(t *testing.T, email, pw string) *Session {
	t.Helper()
	s, err := e.sessions.Register(context.Background(), RegisterInput{
		Email: email, Password: pw, FirstName: "Bongani", LastName: "Mthembu",
	}, ClientInfo{IP: "10.1.1.1", UserAgent: "test"})
	require.NoError(t, err)
	return s
}

func TestRegister(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)

	s, err := env.sessions.Register(context.Background(), RegisterInput{
		Email:     "  Bongani@Example.com ",
		Password:  "pap-en-vleis",
		FirstName: " Bongani ",
		LastName:  "Mthembu",
		Phone:     "+27 82 000 0000",
	}, ClientInfo{IP: "10.1.1.1"})
	require.NoError(t, err)

	assert.Equal(t, "bongani@example.com", s.User.Email)
	assert.Equal(t, "Bongani", s.User.FirstName)
	require.NotNil(t, s.User.Phone)
	assert.Equal(t, "Bearer", s.Tokens.TokenType)
	assert.Equal(t, int64(900), s.Tokens.ExpiresIn)

	claims, err := env.codec.VerifyToken(s.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID.String(), claims.UserID)

	active, err := env.store.IsActive(context.Background(), s.User.ID, s.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, active)

	env.sessions.Wait()
	assert.Equal(t, []string{"bongani@example.com"}, env.notifier.welcomed)
	assert.Equal(t, []string{user.ActivityRegister}, env.activity.actions())
}

func TestRegister_Validation(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)

	_, err := env.sessions.Register(context.Background(), RegisterInput{
		Email:    "not-an-email",
		Password: "short",
	}, ClientInfo{})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "email")
	assert.Contains(t, vErr.Fields, "password")
	assert.Contains(t, vErr.Fields, "first_name")
	assert.Contains(t, vErr.Fields, "last_name")
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	env.register(t, "dup@example.com", "first-pass")

	_, err := env.sessions.Register(context.Background(), RegisterInput{
		Email: "DUP@example.com", Password: "second-pass", FirstName: "A", LastName: "B",
	}, ClientInfo{})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	reg := env.register(t, "login@example.com", "sunday-lunch")

	s, err := env.sessions.Login(context.Background(), "LOGIN@example.com", "sunday-lunch", ClientInfo{IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, s.User.ID)
	assert.NotEqual(t, reg.Tokens.RefreshToken, s.Tokens.RefreshToken)
	assert.Contains(t, env.activity.actions(), user.ActivityLogin)

	_, err = env.sessions.Login(context.Background(), "login@example.com", "wrong", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	env.users.setActive(reg.User.ID, false)
	_, err = env.sessions.Login(context.Background(), "login@example.com", "sunday-lunch", ClientInfo{})
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	s := env.register(t, "rotate@example.com", "bobotie-night")
	ctx := context.Background()

	next, err := env.sessions.Refresh(ctx, s.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.Tokens.RefreshToken, next.RefreshToken)

	claims, err := env.codec.VerifyToken(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID.String(), claims.UserID)

	_, err = env.sessions.Refresh(ctx, s.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)

	// the replay revoked the successor as well
	_, err = env.sessions.Refresh(ctx, next.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)
}

func TestRefresh_ConcurrentSingleSuccess(t *testing.T) {
	env := newSessionEnv(t, ReuseReject)
	s := env.register(t, "race@example.com", "potjiekos")

	const n = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens, err := env.sessions.Refresh(context.Background(), s.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			winners = append(winners, tokens.RefreshToken)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, errs, n-1)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrTokenReused)
	}

	_, err := env.sessions.Refresh(context.Background(), winners[0])
	require.NoError(t, err)
}

func TestRefresh_Refusals(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()

	_, err := env.sessions.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = env.sessions.Refresh(ctx, "made-up")
	require.ErrorIs(t, err, ErrTokenInvalid)

	s := env.register(t, "expire@example.com", "chakalaka")
	env.advance(90 * time.Minute)
	_, err = env.sessions.Refresh(ctx, s.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefresh_UserLookupFailureKeepsToken(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	s := env.register(t, "blip@example.com", "amagwinya")

	env.users.failNextGet(errors.New("db timeout"))
	_, err := env.sessions.Refresh(ctx, s.Tokens.RefreshToken)
	var internal *InternalError
	require.ErrorAs(t, err, &internal)

	active, err := env.store.IsActive(ctx, s.User.ID, s.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, active)

	next, err := env.sessions.Refresh(ctx, s.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.Tokens.RefreshToken, next.RefreshToken)
}

func TestRefresh_DisabledAccountLosesSessions(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	first := env.register(t, "gone@example.com", "umngqusho")
	second, err := env.sessions.Login(ctx, "gone@example.com", "umngqusho", ClientInfo{})
	require.NoError(t, err)

	env.users.setActive(first.User.ID, false)

	_, err = env.sessions.Refresh(ctx, first.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrAccountDisabled)

	active, err := env.store.IsActive(ctx, first.User.ID, second.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestLogout(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	a := env.register(t, "bye@example.com", "melktert")
	b, err := env.sessions.Login(ctx, "bye@example.com", "melktert", ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, env.sessions.LogoutSession(ctx, a.User.ID, a.Tokens.RefreshToken, ClientInfo{}))

	_, err = env.sessions.Refresh(ctx, a.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)

	still, err := env.store.IsActive(ctx, b.User.ID, b.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, still)

	require.NoError(t, env.sessions.Logout(ctx, a.User.ID, ClientInfo{}))
	require.NoError(t, env.sessions.Logout(ctx, a.User.ID, ClientInfo{}))

	still, err = env.store.IsActive(ctx, b.User.ID, b.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.False(t, still)
}

func TestLogoutSession_IgnoresOtherUsersToken(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	victim := env.register(t, "victim@example.com", "koeksister")
	attacker := env.register(t, "attacker@example.com", "vetkoek")

	require.NoError(t, env.sessions.LogoutSession(ctx, attacker.User.ID, victim.Tokens.RefreshToken, ClientInfo{}))

	active, err := env.store.IsActive(ctx, victim.User.ID, victim.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRequestPasswordReset(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	s := env.register(t, "forgot@example.com", "amagwinya")
	disabled := env.register(t, "disabled@example.com", "amagwinya")
	env.users.setActive(disabled.User.ID, false)

	require.NoError(t, env.sessions.RequestPasswordReset(ctx, "nobody@example.com"))
	require.NoError(t, env.sessions.RequestPasswordReset(ctx, "disabled@example.com"))
	require.NoError(t, env.sessions.RequestPasswordReset(ctx, "not an email"))
	env.sessions.Wait()
	assert.Zero(t, env.notifier.resetCount())

	require.NoError(t, env.sessions.RequestPasswordReset(ctx, "Forgot@Example.com"))
	env.sessions.Wait()
	token, ok := env.notifier.resetToken(s.User.Email)
	require.True(t, ok)
	assert.Len(t, token, 43)
}

func TestResetPassword(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	s := env.register(t, "reset@example.com", "old-password")

	require.NoError(t, env.sessions.RequestPasswordReset(ctx, "reset@example.com"))
	env.sessions.Wait()
	token, ok := env.notifier.resetToken("reset@example.com")
	require.True(t, ok)

	var vErr *ValidationError
	require.ErrorAs(t, env.sessions.ResetPassword(ctx, token, "tiny"), &vErr)

	require.NoError(t, env.sessions.ResetPassword(ctx, token, "new-password"))
	require.ErrorIs(t, env.sessions.ResetPassword(ctx, token, "newer-password"), ErrTokenAlreadyUsed)

	_, err := env.sessions.Login(ctx, "reset@example.com", "old-password", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.sessions.Login(ctx, "reset@example.com", "new-password", ClientInfo{})
	require.NoError(t, err)

	_, err = env.sessions.Refresh(ctx, s.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)

	assert.Contains(t, env.activity.actions(), user.ActivityPasswordReset)
}

func TestResetPassword_Refusals(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	s := env.register(t, "late@example.com", "old-password")

	require.ErrorIs(t, env.sessions.ResetPassword(ctx, "", "new-password"), ErrTokenInvalid)
	require.ErrorIs(t, env.sessions.ResetPassword(ctx, "unknown", "new-password"), ErrTokenInvalid)

	u, err := env.users.GetByID(ctx, s.User.ID)
	require.NoError(t, err)
	token, err := env.sessions.resets.Issue(ctx, u)
	require.NoError(t, err)

	env.resets.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.ErrorIs(t, env.sessions.ResetPassword(ctx, token, "new-password"), ErrTokenExpired)
}

func TestResetPassword_ConcurrentSingleUse(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()
	s := env.register(t, "once@example.com", "old-password")
	u, err := env.users.GetByID(ctx, s.User.ID)
	require.NoError(t, err)
	token, err := env.sessions.resets.Issue(ctx, u)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- env.sessions.ResetPassword(ctx, token, "fresh-password")
		}()
	}
	wg.Wait()
	close(results)

	var ok, used int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTokenAlreadyUsed):
			used++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, used)
}

func TestProfile(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	s := env.register(t, "me@example.com", "rooibos")

	u, err := env.sessions.Profile(context.Background(), s.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", u.Email)

	_, err = env.sessions.Profile(context.Background(), uuid.New())
	require.ErrorIs(t, err, user.ErrNotFound)
}

func TestValidateEmail(t *testing.T) {
	assert.Empty(t, validateEmail("ok@example.com"))
	assert.NotEmpty(t, validateEmail(""))
	assert.NotEmpty(t, validateEmail("Name <ok@example.com>"))
	assert.NotEmpty(t, validateEmail("no-at-sign"))
}

func TestSessionLifecycle(t *testing.T) {
	env := newSessionEnv(t, ReuseRevokeFamily)
	ctx := context.Background()

	reg := env.register(t, "family@example.com", "sunday-roast")

	_, err := env.sessions.Login(ctx, "family@example.com", "monday-roast", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := env.sessions.Login(ctx, "family@example.com", "sunday-roast", ClientInfo{})
	require.NoError(t, err)

	rotated, err := env.sessions.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	_, err = env.sessions.Refresh(ctx, login.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReused)

	require.NoError(t, env.sessions.Logout(ctx, reg.User.ID, ClientInfo{}))

	_, err = env.sessions.Refresh(ctx, reg.Tokens.RefreshToken)
	require.Error(t, err)
	_, err = env.sessions.Refresh(ctx, rotated.RefreshToken)
	require.Error(t, err)
}
