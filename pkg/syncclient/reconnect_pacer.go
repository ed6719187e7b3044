package syncclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// RedisReconnectPacer shares a reconnect attempt counter across every
// process subscribing to the same stream, so a thundering herd of
// reconnecting clients backs off on a common schedule instead of each
// independently retrying from attempt zero. Grounded on the teacher's
// Redis-backed token bucket: INCR+EXPIRE is the same atomic-counter shape
// applied to backoff pacing instead of rate limiting.
type RedisReconnectPacer struct {
	client        *redis.Client
	baseMs, capMs uint64
	ttlSeconds    int64
}

func NewRedisReconnectPacer(client *redis.Client, baseMs, capMs uint64, ttlSeconds int64) *RedisReconnectPacer {
	return &RedisReconnectPacer{client: client, baseMs: baseMs, capMs: capMs, ttlSeconds: ttlSeconds}
}

func reconnectKey(streamID string) string {
	return fmt.Sprintf("openagents:sync:reconnect_attempts:%s", streamID)
}

// NextBackoffMs increments the shared attempt counter for streamID and
// returns the resulting backoff delay via the same pure formula as
// ReconnectBackoffMs.
func (p *RedisReconnectPacer) NextBackoffMs(ctx context.Context, streamID string) (uint64, error) {
	key := reconnectKey(streamID)
	attempt, err := p.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errs.Wrap(errs.KindDependencyUnavailable, err, "syncclient: redis incr failed")
	}
	if p.ttlSeconds > 0 {
		// Best-effort; a missed expire just means the counter persists
		// longer, which is safe (more backoff, never less).
		p.client.Expire(ctx, key, time.Duration(p.ttlSeconds)*time.Second)
	}
	return ReconnectBackoffMs(p.baseMs, p.capMs, uint(attempt)), nil
}

// Reset clears the shared attempt counter, called once a reconnect
// succeeds and stays connected.
func (p *RedisReconnectPacer) Reset(ctx context.Context, streamID string) error {
	if err := p.client.Del(ctx, reconnectKey(streamID)).Err(); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "syncclient: redis del failed")
	}
	return nil
}
