package auth

import (
	"context"
	"time"

	"github.com/simphiwe-mabaso/family-dining/internal/logging"
)

// Sweeper periodically deletes refresh and reset tokens past their retention.
// Token checks never depend on it having run.
type Sweeper struct {
	tokens   RefreshTokenRepository
	resets   *PasswordResetTokenManager
	interval time.Duration
	logger   *logging.Logger
}

func NewSweeper(tokens RefreshTokenRepository, resets *PasswordResetTokenManager, interval time.Duration, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		resets:   resets,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh, resets, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error("token sweep failed", "error", err)
				continue
			}
			s.logger.Debug("token sweep finished", "refresh_removed", refresh, "reset_removed", resets)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, int64, error) {
	refresh, err := s.tokens.Sweep(ctx)
	if err != nil {
		return 0, 0, err
	}

	var resets int64
	if s.resets != nil {
		resets, err = s.resets.Sweep(ctx)
		if err != nil {
			return refresh, 0, err
		}
	}

	return refresh, resets, nil
}
