package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// IssuedTokens is a freshly minted access/refresh pair.
type IssuedTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenIssuer mints access tokens through a TokenService and opaque refresh
// tokens from crypto/rand. It does not persist anything.
type TokenIssuer struct {
	codec      TokenService
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(codec TokenService, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		codec:      codec,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (i *TokenIssuer) Issue(u *user.User) (*IssuedTokens, error) {
	return i.IssueWithClaims(u, nil)
}

// IssueWithClaims embeds custom in the access token under "ctx".
func (i *TokenIssuer) IssueWithClaims(u *user.User, custom map[string]any) (*IssuedTokens, error) {
	access, accessExp, err := i.NewAccessToken(u, custom)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := i.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	return &IssuedTokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) NewAccessToken(u *user.User, custom map[string]any) (string, time.Time, error) {
	now := i.now().Truncate(time.Second)
	exp := now.Add(i.accessTTL)

	token, err := i.codec.CreateToken(TokenClaims{
		UserID:    u.ID.String(),
		Email:     u.Email,
		ID:        uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: exp,
		Custom:    custom,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create access token: %w", err)
	}

	return token, exp, nil
}

// NewRefreshToken returns a new opaque refresh value and its expiry.
func (i *TokenIssuer) NewRefreshToken() (string, time.Time, error) {
	token, err := generateRandomToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return token, i.now().Add(i.refreshTTL), nil
}

func (i *TokenIssuer) DecodeAccessToken(token string) (*TokenClaims, error) {
	return i.codec.VerifyToken(token)
}

func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }
