package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/simphiwe-mabaso/family-dining/internal/database"
)

// Activity actions recorded in the audit trail.
const (
	ActivityRegister      = "register"
	ActivityLogin         = "login"
	ActivityLogout        = "logout"
	ActivityPasswordReset = "password_reset"
)

// ActivityRepository appends rows to the user_activities audit table.
type ActivityRepository struct {
	db bun.IDB
}

func NewActivityRepository(db bun.IDB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Record(ctx context.Context, userID uuid.UUID, action, ip, userAgent string) error {
	_, err := r.db.NewInsert().
		Model(&database.UserActivity{
			ID:        uuid.New(),
			UserID:    userID,
			Action:    action,
			IPAddress: ip,
			UserAgent: userAgent,
		}).
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}
