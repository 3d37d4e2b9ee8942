package app

import (
	"context"
	"fmt"

	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// SetUserActive enables or disables the account registered under email.
// Disabling also revokes every refresh token the user holds.
func (a *App) SetUserActive(ctx context.Context, email string, active bool) (*user.User, error) {
	u, err := a.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := a.Users.SetActive(ctx, u.ID, active); err != nil {
		return nil, err
	}
	u.IsActive = active

	if !active {
		if err := a.Tokens.RevokeUser(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("account disabled but sessions not revoked: %w", err)
		}
	}

	a.Logger.Info("account status changed", "user_id", u.ID, "active", active)
	return u, nil
}

// RevokeSessions ends every session of the user registered under email.
func (a *App) RevokeSessions(ctx context.Context, email string) (*user.User, error) {
	u, err := a.Users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := a.Tokens.RevokeUser(ctx, u.ID); err != nil {
		return nil, err
	}

	a.Logger.Info("sessions revoked", "user_id", u.ID)
	return u, nil
}
