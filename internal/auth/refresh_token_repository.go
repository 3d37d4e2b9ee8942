package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Refresh token states. A token leaves active exactly once.
const (
	StatusActive  = "active"
	StatusRotated = "rotated"
	StatusRevoked = "revoked"
)

// ReusePolicy decides what happens when an already rotated token is presented.
type ReusePolicy string

const (
	// ReuseRevokeFamily revokes every still-active token descended from the
	// same login.
	ReuseRevokeFamily ReusePolicy = "revoke_family"
	// ReuseReject only fails the request.
	ReuseReject ReusePolicy = "reject"
)

// RefreshTokenRepository stores refresh tokens by hash and performs every
// state change as a single atomic step.
type RefreshTokenRepository interface {
	// Store saves token as active and starts a new family.
	Store(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	// RedeemAndRotate moves oldToken from active to rotated and stores
	// newToken as active in the same family. Failures are checked in order:
	// unknown (ErrTokenInvalid), expired (ErrTokenExpired), not active
	// (ErrTokenReused).
	RedeemAndRotate(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) (uuid.UUID, error)
	// Owner returns the user a known token was issued to, whatever its
	// status. Unknown tokens give ErrTokenInvalid.
	Owner(ctx context.Context, token string) (uuid.UUID, error)
	// RevokeToken is idempotent; unknown tokens are not an error.
	RevokeToken(ctx context.Context, token string) error
	RevokeUser(ctx context.Context, userID uuid.UUID) error
	// IsActive reports whether token exists, belongs to userID, is active and
	// has not expired.
	IsActive(ctx context.Context, userID uuid.UUID, token string) (bool, error)
	// Sweep drops records past expiry plus retention.
	Sweep(ctx context.Context) (int64, error)
}
