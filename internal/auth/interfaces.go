package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// TokenClaims is the decoded content of an access token.
type TokenClaims struct {
	UserID    string
	Email     string
	Issuer    string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Custom    map[string]any
}

// TokenService encodes and decodes access tokens.
// Implementations: JWTService (HS256) and PasetoService (v4.local).
type TokenService interface {
	CreateToken(claims TokenClaims) (string, error)
	// VerifyToken returns ErrTokenExpired or ErrTokenInvalid on failure.
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

type UserRepository interface {
	Create(ctx context.Context, p user.CreateParams) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action, ip, userAgent string) error
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, encodedHash, password string) (bool, error)
}

// Notifier delivers account e-mails. Failures are logged by the caller.
type Notifier interface {
	SendWelcomeEmail(ctx context.Context, u *user.User) error
	SendPasswordResetEmail(ctx context.Context, u *user.User, token string) error
}

// RedeemHook runs inside the redemption transaction. db is the transaction
// handle when the store is SQL backed and nil otherwise.
type RedeemHook func(ctx context.Context, db bun.IDB, userID uuid.UUID) error

// ResetTokenRepository persists password reset tokens by hash.
type ResetTokenRepository interface {
	Create(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	// Redeem marks the token used, stores newPasswordHash for its owner and
	// runs onRedeemed, all or nothing.
	Redeem(ctx context.Context, token, newPasswordHash string, onRedeemed RedeemHook) (uuid.UUID, error)
	Sweep(ctx context.Context) (int64, error)
}
