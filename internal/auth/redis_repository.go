package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix      = "refresh_token:"
	userTokensKeyPrefix = "user_tokens:"
	familyKeyPrefix     = "refresh_family:"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReused   int64 = 2
	rotateStatusRotated  int64 = 3
)

// extend only ever pushes a key's TTL further out.
const luaExtend = `
local function extend(key, ttl)
  if redis.call("TTL", key) < ttl then
    redis.call("EXPIRE", key, ttl)
  end
end
`

// KEYS[1] token key
// ARGV: hash, user_id, family_id, expires_ms, now_ms, key_ttl_s, user_prefix, family_prefix
const storeTokenScript = luaExtend + `
redis.call("HSET", KEYS[1],
  "user_id", ARGV[2], "family_id", ARGV[3], "status", "active",
  "expires_at", ARGV[4], "created_at", ARGV[5])
redis.call("EXPIRE", KEYS[1], ARGV[6])
local user_key = ARGV[7] .. ARGV[2]
local family_key = ARGV[8] .. ARGV[3]
redis.call("SADD", user_key, ARGV[1])
redis.call("SADD", family_key, ARGV[1])
extend(user_key, tonumber(ARGV[6]))
extend(family_key, tonumber(ARGV[6]))
return 1
`

var storeTokenLua = redis.NewScript(storeTokenScript)

// KEYS[1] old token key, KEYS[2] new token key
// ARGV: now_ms, new_hash, new_expires_ms, key_ttl_s, policy, token_prefix, user_prefix, family_prefix
const rotateTokenScript = luaExtend + `
local data = redis.call("HMGET", KEYS[1], "user_id", "family_id", "status", "expires_at")
if not data[1] then
  return {0}
end
if tonumber(data[4]) <= tonumber(ARGV[1]) then
  return {1}
end
if data[3] ~= "active" then
  if data[3] == "rotated" and ARGV[5] == "revoke_family" then
    local members = redis.call("SMEMBERS", ARGV[8] .. data[2])
    for _, h in ipairs(members) do
      local k = ARGV[6] .. h
      if redis.call("HGET", k, "status") == "active" then
        redis.call("HSET", k, "status", "revoked", "revoked_at", ARGV[1])
      end
    end
  end
  return {2}
end
redis.call("HSET", KEYS[1], "status", "rotated", "rotated_at", ARGV[1])
redis.call("HSET", KEYS[2],
  "user_id", data[1], "family_id", data[2], "status", "active",
  "expires_at", ARGV[3], "created_at", ARGV[1])
redis.call("EXPIRE", KEYS[2], ARGV[4])
local user_key = ARGV[7] .. data[1]
local family_key = ARGV[8] .. data[2]
redis.call("SADD", user_key, ARGV[2])
redis.call("SADD", family_key, ARGV[2])
extend(user_key, tonumber(ARGV[4]))
extend(family_key, tonumber(ARGV[4]))
return {3, data[1]}
`

var rotateTokenLua = redis.NewScript(rotateTokenScript)

// KEYS[1] token key; ARGV[1] now_ms
const revokeTokenScript = `
if redis.call("HGET", KEYS[1], "status") == "active" then
  redis.call("HSET", KEYS[1], "status", "revoked", "revoked_at", ARGV[1])
  return 1
end
return 0
`

var revokeTokenLua = redis.NewScript(revokeTokenScript)

// KEYS[1] user set; ARGV[1] now_ms, ARGV[2] token_prefix
const revokeUserScript = `
local n = 0
for _, h in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local k = ARGV[2] .. h
  if redis.call("HGET", k, "status") == "active" then
    redis.call("HSET", k, "status", "revoked", "revoked_at", ARGV[1])
    n = n + 1
  end
end
return n
`

var revokeUserLua = redis.NewScript(revokeUserScript)

// RedisRepository keeps refresh tokens in Redis. Each token is a hash under
// refresh_token:<sha256>, indexed by user_tokens:<user> and
// refresh_family:<family> sets. Keys live until expiry plus retention so a
// late replay is still recognised.
//
// The scripts read and write the user, family and sibling token keys they
// find at run time, not only the keys passed in KEYS, so the store needs a
// single Redis node and does not work against Redis Cluster.
type RedisRepository struct {
	client    *redis.Client
	policy    ReusePolicy
	retention time.Duration
	now       func() time.Time
}

// NewRedisRepository creates a Redis-backed refresh token store
func NewRedisRepository(client *redis.Client, policy ReusePolicy, retention time.Duration) *RedisRepository {
	return &RedisRepository{
		client:    client,
		policy:    policy,
		retention: retention,
		now:       time.Now,
	}
}

func getTokenKey(tokenHash string) string {
	return tokenKeyPrefix + tokenHash
}

func getUserTokensKey(userID uuid.UUID) string {
	return userTokensKeyPrefix + userID.String()
}

func getFamilyKey(familyID uuid.UUID) string {
	return familyKeyPrefix + familyID.String()
}

// keyTTL is how long a token record outlives its expiry, in whole seconds.
func (r *RedisRepository) keyTTL(expiresAt time.Time) int64 {
	ttl := int64(expiresAt.Add(r.retention).Sub(r.now()) / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

// Store saves a new active token under a fresh family and indexes it by user and family
func (r *RedisRepository) Store(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	if !expiresAt.After(r.now()) {
		return fmt.Errorf("token expiration time is in the past")
	}

	tokenHash := hashToken(token)
	err := storeTokenLua.Run(ctx, r.client,
		[]string{getTokenKey(tokenHash)},
		tokenHash,
		userID.String(),
		uuid.NewString(),
		expiresAt.UnixMilli(),
		r.now().UnixMilli(),
		r.keyTTL(expiresAt),
		userTokensKeyPrefix,
		familyKeyPrefix,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// RedeemAndRotate swaps oldToken for newToken in one Lua script call
func (r *RedisRepository) RedeemAndRotate(ctx context.Context, oldToken, newToken string, newExpiresAt time.Time) (uuid.UUID, error) {
	oldHash := hashToken(oldToken)
	newHash := hashToken(newToken)

	result, err := rotateTokenLua.Run(ctx, r.client,
		[]string{getTokenKey(oldHash), getTokenKey(newHash)},
		r.now().UnixMilli(),
		newHash,
		newExpiresAt.UnixMilli(),
		r.keyTTL(newExpiresAt),
		string(r.policy),
		tokenKeyPrefix,
		userTokensKeyPrefix,
		familyKeyPrefix,
	).Slice()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if len(result) == 0 {
		return uuid.Nil, errors.New("invalid rotate script response")
	}

	code, ok := result[0].(int64)
	if !ok {
		return uuid.Nil, errors.New("invalid rotate script status")
	}

	switch code {
	case rotateStatusNotFound:
		return uuid.Nil, ErrTokenInvalid
	case rotateStatusExpired:
		return uuid.Nil, ErrTokenExpired
	case rotateStatusReused:
		return uuid.Nil, ErrTokenReused
	case rotateStatusRotated:
		if len(result) < 2 {
			return uuid.Nil, errors.New("rotate script returned no user")
		}
		raw, _ := result[1].(string)
		userID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to parse user id: %w", err)
		}
		return userID, nil
	default:
		return uuid.Nil, fmt.Errorf("unexpected rotate script status %d", code)
	}
}

// Owner reads the user id of a token record without changing it.
func (r *RedisRepository) Owner(ctx context.Context, token string) (uuid.UUID, error) {
	raw, err := r.client.HGet(ctx, getTokenKey(hashToken(token)), "user_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrTokenInvalid
		}
		return uuid.Nil, fmt.Errorf("failed to get refresh token owner: %w", err)
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse user id: %w", err)
	}
	return userID, nil
}

// RevokeToken marks a single active token as revoked
func (r *RedisRepository) RevokeToken(ctx context.Context, token string) error {
	err := revokeTokenLua.Run(ctx, r.client,
		[]string{getTokenKey(hashToken(token))},
		r.now().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUser revokes every active token indexed under the user
func (r *RedisRepository) RevokeUser(ctx context.Context, userID uuid.UUID) error {
	err := revokeUserLua.Run(ctx, r.client,
		[]string{getUserTokensKey(userID)},
		r.now().UnixMilli(),
		tokenKeyPrefix,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke all user tokens: %w", err)
	}
	return nil
}

// IsActive reports whether token is live and owned by userID
func (r *RedisRepository) IsActive(ctx context.Context, userID uuid.UUID, token string) (bool, error) {
	vals, err := r.client.HMGet(ctx, getTokenKey(hashToken(token)), "user_id", "status", "expires_at").Result()
	if err != nil {
		return false, fmt.Errorf("failed to get refresh token: %w", err)
	}

	owner, _ := vals[0].(string)
	status, _ := vals[1].(string)
	expiresRaw, _ := vals[2].(string)
	if owner != userID.String() || status != StatusActive {
		return false, nil
	}

	expiresMs, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return false, nil
	}

	return r.now().UnixMilli() < expiresMs, nil
}

// Sweep prunes index set members whose token records have already expired
// out of Redis. The token hashes themselves go away through key expiry.
func (r *RedisRepository) Sweep(ctx context.Context) (int64, error) {
	var removed int64
	for _, pattern := range []string{userTokensKeyPrefix + "*", familyKeyPrefix + "*"} {
		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			n, err := r.pruneIndex(ctx, iter.Val())
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("failed to scan token indexes: %w", err)
		}
	}
	return removed, nil
}

// pruneIndex removes members of setKey whose token record no longer exists
func (r *RedisRepository) pruneIndex(ctx context.Context, setKey string) (int64, error) {
	members, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read token index: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	exists := make([]*redis.IntCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, h := range members {
			exists[i] = pipe.Exists(ctx, getTokenKey(h))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to check token records: %w", err)
	}

	stale := make([]any, 0, len(members))
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, members[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := r.client.SRem(ctx, setKey, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune token index: %w", err)
	}
	return n, nil
}
