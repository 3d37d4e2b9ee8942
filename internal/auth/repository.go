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
)

// Repository is the Postgres refresh token store. Every transition is a
// conditional UPDATE, so concurrent callers serialise on the row lock and
// only one of them sees an affected row.
type Repository struct {
	db        bun.IDB
	policy    ReusePolicy
	retention time.Duration
	now       func() time.Time
}

// NewRepository creates a Postgres-backed refresh token store
func NewRepository(db bun.IDB, policy ReusePolicy, retention time.Duration) *Repository {
	return &Repository{
		db:        db,
		policy:    policy,
		retention: retention,
		now:       time.Now,
	}
}

// WithDB returns a copy of the store bound to db, typically a transaction.
func (r *Repository) WithDB(db bun.IDB) RefreshTokenRepository {
	cp := *r
	cp.db = db
	return &cp
}

// Store inserts an active token that starts a new family
func (r *Repository) Store(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.db.NewInsert().
		Model(&database.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			FamilyID:  uuid.New(),
			TokenHash: hashToken(token),
			Status:    StatusActive,
			ExpiresAt: expiresAt,
			CreatedAt: r.now(),
		}).
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// RedeemAndRotate marks oldToken rotated and inserts newToken in the same family, in one transaction
func (r *Repository) RedeemAndRotate(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) (uuid.UUID, error) {
	oldHash := hashToken(oldToken)
	now := r.now()

	var (
		userID  uuid.UUID
		refused error
	)

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var familyID uuid.UUID
		err := tx.NewUpdate().
			Model((*database.RefreshToken)(nil)).
			Set("status = ?", StatusRotated).
			Set("rotated_at = ?", now).
			Where("token_hash = ?", oldHash).
			Where("status = ?", StatusActive).
			Where("expires_at > ?", now).
			Returning("user_id, family_id").
			Scan(ctx, &userID, &familyID)
		if err == nil {
			_, err = tx.NewInsert().
				Model(&database.RefreshToken{
					ID:        uuid.New(),
					UserID:    userID,
					FamilyID:  familyID,
					TokenHash: hashToken(newToken),
					Status:    StatusActive,
					ExpiresAt: newExpiresAt,
					CreatedAt: now,
				}).
				Returning("NULL").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to store rotated refresh token: %w", err)
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to rotate refresh token: %w", err)
		}

		kind, err := r.classify(ctx, tx, oldHash, now)
		if err != nil {
			return err
		}
		refused = kind
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

// classify explains why a rotation matched no row. Presenting an already
// rotated token under ReuseRevokeFamily revokes the rest of its family; that
// write commits even though the caller gets an error.
func (r *Repository) classify(ctx context.Context, tx bun.Tx, tokenHash string, now time.Time) (*TokenError, error) {
	current := new(database.RefreshToken)
	err := tx.NewSelect().
		Model(current).
		Column("family_id", "status", "expires_at").
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenInvalid, nil
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	if !current.ExpiresAt.After(now) {
		return ErrTokenExpired, nil
	}

	if current.Status == StatusRotated && r.policy == ReuseRevokeFamily {
		_, err := tx.NewUpdate().
			Model((*database.RefreshToken)(nil)).
			Set("status = ?", StatusRevoked).
			Set("revoked_at = ?", now).
			Where("family_id = ?", current.FamilyID).
			Where("status = ?", StatusActive).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to revoke token family: %w", err)
		}
	}

	return ErrTokenReused, nil
}

// Owner reads the user id of a token row without locking it.
func (r *Repository) Owner(ctx context.Context, token string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.db.NewSelect().
		Model((*database.RefreshToken)(nil)).
		Column("user_id").
		Where("token_hash = ?", hashToken(token)).
		Scan(ctx, &userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrTokenInvalid
		}
		return uuid.Nil, fmt.Errorf("failed to get refresh token owner: %w", err)
	}
	return userID, nil
}

// RevokeToken marks a single active token as revoked
func (r *Repository) RevokeToken(ctx context.Context, token string) error {
	_, err := r.db.NewUpdate().
		Model((*database.RefreshToken)(nil)).
		Set("status = ?", StatusRevoked).
		Set("revoked_at = ?", r.now()).
		Where("token_hash = ?", hashToken(token)).
		Where("status = ?", StatusActive).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUser revokes all active tokens of a user
func (r *Repository) RevokeUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*database.RefreshToken)(nil)).
		Set("status = ?", StatusRevoked).
		Set("revoked_at = ?", r.now()).
		Where("user_id = ?", userID).
		Where("status = ?", StatusActive).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke all user tokens: %w", err)
	}
	return nil
}

// IsActive reports whether token is live and owned by userID
func (r *Repository) IsActive(ctx context.Context, userID uuid.UUID, token string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*database.RefreshToken)(nil)).
		Where("token_hash = ?", hashToken(token)).
		Where("user_id = ?", userID).
		Where("status = ?", StatusActive).
		Where("expires_at > ?", r.now()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check refresh token: %w", err)
	}
	return exists, nil
}

// Sweep deletes tokens that expired more than the retention period ago
func (r *Repository) Sweep(ctx context.Context) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.RefreshToken)(nil)).
		Where("expires_at < ?", r.now().Add(-r.retention)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}
