package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// CredentialValidator turns an email/password pair into a user.
type CredentialValidator struct {
	users     UserRepository
	hasher    PasswordHasher
	dummyHash string
}

// NewCredentialValidator hashes a throwaway password up front so that lookups
// for unknown emails cost the same argon2 work as real ones.
func NewCredentialValidator(ctx context.Context, users UserRepository, hasher PasswordHasher) (*CredentialValidator, error) {
	dummy, err := generateRandomToken()
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(ctx, dummy)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dummy hash: %w", err)
	}

	return &CredentialValidator{
		users:     users,
		hasher:    hasher,
		dummyHash: dummyHash,
	}, nil
}

// Validate returns ErrInvalidCredentials for an unknown email or a wrong
// password, and ErrAccountDisabled only once the password has matched.
func (v *CredentialValidator) Validate(ctx context.Context, email, password string) (*user.User, error) {
	email = user.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_, _ = v.hasher.Verify(ctx, v.dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := v.hasher.Verify(ctx, u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !u.IsActive {
		return nil, ErrAccountDisabled
	}

	return u, nil
}
