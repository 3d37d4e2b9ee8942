package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simphiwe-mabaso/family-dining/internal/config"
)

// Limiter implements fixed-window per-IP limits and a per-email cooldown
// in Redis. A nil or disabled limiter allows everything.
type Limiter struct {
	client        redis.UniversalClient
	enabled       bool
	ipLimit       int64
	ipWindow      time.Duration
	emailCooldown time.Duration
}

func NewLimiter(client redis.UniversalClient, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		client:        client,
		enabled:       cfg.Enabled && client != nil,
		ipLimit:       int64(cfg.IPLimit),
		ipWindow:      cfg.IPWindow,
		emailCooldown: cfg.EmailCooldown,
	}
}

func ipKey(purpose, ip string) string {
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

func emailKey(email string) string {
	return "ratelimit:email:" + strings.ToLower(strings.TrimSpace(email))
}

// CheckIPRateLimitWithPurpose reports whether ip has used up its window for purpose.
func (l *Limiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	if l == nil || !l.enabled {
		return false, nil
	}

	count, err := l.client.Get(ctx, ipKey(purpose, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read rate limit: %w", err)
	}
	return count >= l.ipLimit, nil
}

// RecordIPRequestWithPurpose counts one request; the window starts at the first.
func (l *Limiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	if l == nil || !l.enabled {
		return nil
	}

	key := ipKey(purpose, ip)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to record rate limit: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.ipWindow).Err(); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return nil
}

// CheckEmailCooldown reports whether a mail was requested for email recently.
func (l *Limiter) CheckEmailCooldown(ctx context.Context, email string) (bool, error) {
	if l == nil || !l.enabled {
		return false, nil
	}

	n, err := l.client.Exists(ctx, emailKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read email cooldown: %w", err)
	}
	return n > 0, nil
}

func (l *Limiter) SetEmailCooldown(ctx context.Context, email string) error {
	if l == nil || !l.enabled {
		return nil
	}

	if err := l.client.Set(ctx, emailKey(email), 1, l.emailCooldown).Err(); err != nil {
		return fmt.Errorf("failed to set email cooldown: %w", err)
	}
	return nil
}
