package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// txBinder is implemented by refresh stores that can join a SQL transaction.
type txBinder interface {
	WithDB(db bun.IDB) RefreshTokenRepository
}

// PasswordResetTokenManager issues and redeems single-use reset tokens.
// Redeeming one also signs the user out everywhere.
type PasswordResetTokenManager struct {
	repo    ResetTokenRepository
	users   UserRepository
	refresh RefreshTokenRepository
	ttl     time.Duration
	now     func() time.Time
}

func NewPasswordResetTokenManager(repo ResetTokenRepository, users UserRepository, refresh RefreshTokenRepository, ttl time.Duration) *PasswordResetTokenManager {
	return &PasswordResetTokenManager{
		repo:    repo,
		users:   users,
		refresh: refresh,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue stores a new token for u and returns the clear value for delivery.
func (m *PasswordResetTokenManager) Issue(ctx context.Context, u *user.User) (string, error) {
	token, err := generateRandomToken()
	if err != nil {
		return "", err
	}

	if err := m.repo.Create(ctx, u.ID, token, m.now().Add(m.ttl)); err != nil {
		return "", err
	}

	return token, nil
}

// Redeem consumes token, stores newPasswordHash and revokes every refresh
// token of the owner. It fails with ErrTokenInvalid, ErrTokenExpired or
// ErrTokenAlreadyUsed.
func (m *PasswordResetTokenManager) Redeem(ctx context.Context, token, newPasswordHash string) (*user.User, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	userID, err := m.repo.Redeem(ctx, token, newPasswordHash, m.revokeSessions)
	if err != nil {
		return nil, err
	}

	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user after reset: %w", err)
	}
	return u, nil
}

func (m *PasswordResetTokenManager) revokeSessions(ctx context.Context, db bun.IDB, userID uuid.UUID) error {
	store := m.refresh
	if b, ok := store.(txBinder); ok && db != nil {
		store = b.WithDB(db)
	}
	return store.RevokeUser(ctx, userID)
}

// Sweep purges dead reset tokens
func (m *PasswordResetTokenManager) Sweep(ctx context.Context) (int64, error) {
	return m.repo.Sweep(ctx)
}
