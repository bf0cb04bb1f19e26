// Package abuse pre-screens vote submissions: a fixed-window Redis rate limit
// per voter identity, and a noop for when the limit is disabled.
package abuse

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcelojr/crowdpulse/internal/domain"
)

var ErrRateLimitExceeded = fmt.Errorf("vote rate limit exceeded")

// RedisRateLimiter caps submissions per (question, voter hash) in fixed
// windows. It guards against scripted vote floods, not against duplicates;
// one-vote semantics stay with the serialized guard in the ingestion path.
type RedisRateLimiter struct {
	client    *redis.Client
	limit     int
	window    time.Duration
	keyPrefix string
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisRateLimiter{
		client:    client,
		limit:     limit,
		window:    window,
		keyPrefix: prefix,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, questionID domain.QuestionID, voterHash string) error {
	if r.client == nil || r.limit <= 0 || r.window <= 0 {
		// Misconfiguration degrades to permissive rather than blocking the show.
		return nil
	}

	key := r.buildKey(questionID, voterHash)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("abuse: increment window: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return fmt.Errorf("abuse: set window expiry: %w", err)
		}
	}

	if int(count) > r.limit {
		return ErrRateLimitExceeded
	}

	return nil
}

func (r *RedisRateLimiter) buildKey(questionID domain.QuestionID, voterHash string) string {
	// Re-hashing keeps voter hashes out of the Redis keyspace.
	base := fmt.Sprintf("%s|%s", questionID, voterHash)
	sum := sha1.Sum([]byte(base))
	return fmt.Sprintf("%s:%s", r.keyPrefix, hex.EncodeToString(sum[:]))
}

var _ domain.AbuseGuard = (*RedisRateLimiter)(nil)
