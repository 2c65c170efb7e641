package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WriteDecision is the outcome of one schedule write admission check.
type WriteDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted write leaves the
	// window. Zero when allowed.
	RetryAfter time.Duration
}

// WriteLimiter caps how many schedule writes one client may make per scope
// (a notification type or surface such as "permission") in a sliding window.
// Each window is a sorted set scored by write time in unix ms.
//
// The prune, count and add run as one script so concurrent requests from the
// same client cannot each see room for the last slot.
type WriteLimiter struct {
	client *Client
	logger *zap.Logger
	limit  int
	window time.Duration
	now    func() time.Time
}

var admitWrite = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = window
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, 0, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, 0}
`)

// NewWriteLimiter allows limit writes per client and scope within window.
func NewWriteLimiter(client *Client, logger *zap.Logger, limit int, window time.Duration) *WriteLimiter {
	return &WriteLimiter{
		client: client,
		logger: logger,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *WriteLimiter) windowKey(clientKey, scope string) string {
	return l.client.key("writes", clientKey, scope)
}

// Admit records a write by clientKey to scope if the window has room.
func (l *WriteLimiter) Admit(ctx context.Context, clientKey, scope string) (WriteDecision, error) {
	now := l.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	vals, err := admitWrite.Run(ctx, l.client.rdb,
		[]string{l.windowKey(clientKey, scope)},
		now, l.window.Milliseconds(), l.limit, member,
	).Int64Slice()
	if err != nil {
		return WriteDecision{}, fmt.Errorf("admit schedule write: %w", err)
	}
	if len(vals) != 3 {
		return WriteDecision{}, fmt.Errorf("admit schedule write: unexpected reply %v", vals)
	}

	d := WriteDecision{
		Allowed:    vals[0] == 1,
		Limit:      l.limit,
		Remaining:  int(vals[1]),
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}
	if !d.Allowed {
		l.logger.Debug("schedule write rejected",
			zap.String("client", clientKey),
			zap.String("scope", scope),
			zap.Duration("retry_after", d.RetryAfter),
		)
	}
	return d, nil
}
