package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "rate-limit:"

// checkAndIncrementScript reserves ARGV[1] slots atomically. The expiry is
// armed only when this call created the counter, so later increments inside
// the window never extend it. Returns the counter value after the increment.
const checkAndIncrementScript = `
local current = redis.call('incrby', KEYS[1], ARGV[1])
if current == tonumber(ARGV[1]) then
    redis.call('pexpire', KEYS[1], ARGV[2])
end
return current
`

// Limiter admits or rejects delivery attempts per account within a rolling
// window. The counter lives in Redis so admission is consistent across all
// engine instances; the check-and-increment is a single atomic script, never
// a read-then-write pair.
type Limiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
}

func NewLimiter(client redis.UniversalClient, limit int64, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Admit reserves count slots for the account in the current window. It fails
// open: if the counter store is unreachable the delivery proceeds, because a
// store outage is infrastructure risk and not the tenant's fault.
func (l *Limiter) Admit(ctx context.Context, accountID string, count int64) bool {
	if count <= 0 {
		count = 1
	}
	key := keyPrefix + accountID

	result, err := l.client.Eval(ctx, checkAndIncrementScript, []string{key},
		count, l.window.Milliseconds()).Result()
	if err != nil {
		logrus.Warnf("rate limit check failed for account %s, admitting: %v", accountID, err)
		return true
	}

	current, ok := result.(int64)
	if !ok {
		logrus.Warnf("unexpected rate limit reply %v for account %s, admitting", result, accountID)
		return true
	}

	allowed := current <= l.limit
	if !allowed {
		logrus.Warnf("rate limit exceeded for account %s: %d/%d", accountID, current, l.limit)
	}
	return allowed
}

// Remaining reports how many slots are left in the account's current window.
// Informational only; admission decisions always go through Admit.
func (l *Limiter) Remaining(ctx context.Context, accountID string) (int64, error) {
	current, err := l.client.Get(ctx, keyPrefix+accountID).Int64()
	if err == redis.Nil {
		return l.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit lookup for account %s: %w", accountID, err)
	}
	if current >= l.limit {
		return 0, nil
	}
	return l.limit - current, nil
}
