package auth

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// tokenBlacklistPrefix is shared with the identity service that writes revocations.
const tokenBlacklistPrefix = "auth:token:blacklist:"

// RedisRevocations looks up revoked token ids in Redis.
type RedisRevocations struct {
	Client *redis.Client
}

// IsRevoked implements RevocationChecker.
func (r RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if r.Client == nil || tokenID == "" {
		return false, nil
	}
	n, err := r.Client.Exists(ctx, tokenBlacklistPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ RevocationChecker = RedisRevocations{}
