package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/simphiwe-mabaso/family-dining/internal/database"
	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// PasswordResetRepository stores reset tokens in Postgres by SHA-256 hash.
type PasswordResetRepository struct {
	db        bun.IDB
	retention time.Duration
	now       func() time.Time
}

// NewPasswordResetRepository creates a Postgres-backed reset token store
func NewPasswordResetRepository(db bun.IDB, retention time.Duration) *PasswordResetRepository {
	return &PasswordResetRepository{
		db:        db,
		retention: retention,
		now:       time.Now,
	}
}

// Create stores the hash of a new reset token
func (r *PasswordResetRepository) Create(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.db.NewInsert().
		Model(&database.PasswordResetToken{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: hashToken(token),
			ExpiresAt: expiresAt,
			CreatedAt: r.now(),
		}).
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store password reset token: %w", err)
	}
	return nil
}

// Redeem claims the token with a conditional UPDATE, then writes the new
// password hash and runs onRedeemed in the same transaction. Any failure
// rolls the whole redemption back.
func (r *PasswordResetRepository) Redeem(ctx context.Context, token, newPasswordHash string, onRedeemed RedeemHook) (uuid.UUID, error) {
	tokenHash := hashToken(token)
	now := r.now()

	var (
		userID  uuid.UUID
		refused *TokenError
	)

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewUpdate().
			Model((*database.PasswordResetToken)(nil)).
			Set("used_at = ?", now).
			Where("token_hash = ?", tokenHash).
			Where("used_at IS NULL").
			Where("expires_at > ?", now).
			Returning("user_id").
			Scan(ctx, &userID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to redeem password reset token: %w", err)
			}
			kind, err := r.classify(ctx, tx, tokenHash, now)
			if err != nil {
				return err
			}
			refused = kind
			return nil
		}

		if err := user.NewRepository(tx).UpdatePassword(ctx, userID, newPasswordHash); err != nil {
			return err
		}

		if onRedeemed != nil {
			if err := onRedeemed(ctx, tx, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if refused != nil {
		return uuid.Nil, refused
	}

	return userID, nil
}

// classify checks expiry before use, so a token that is both used and
// expired reports as expired.
func (r *PasswordResetRepository) classify(ctx context.Context, tx bun.Tx, tokenHash string, now time.Time) (*TokenError, error) {
	current := new(database.PasswordResetToken)
	err := tx.NewSelect().
		Model(current).
		Column("expires_at", "used_at").
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenInvalid, nil
		}
		return nil, fmt.Errorf("failed to load password reset token: %w", err)
	}

	if !current.ExpiresAt.After(now) {
		return ErrTokenExpired, nil
	}
	if current.UsedAt != nil {
		return ErrTokenAlreadyUsed, nil
	}
	return ErrTokenInvalid, nil
}

// Sweep deletes reset tokens expired or used before the retention cutoff
func (r *PasswordResetRepository) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	result, err := r.db.NewDelete().
		Model((*database.PasswordResetToken)(nil)).
		WhereOr("expires_at < ?", cutoff).
		WhereOr("used_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup password reset tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}
