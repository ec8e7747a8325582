package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redisc "github.com/mx-space/distill/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "distill:quota:"

// consumeScript reads the window, rolls it forward if expired, and increments
// only while under the limit. ARGV: limit, window_ms, now_ms, consume(1|0).
// Returns {allowed, count, reset_at_ms}.
var consumeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local consume = ARGV[4] == '1'

local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset_at') or '0')
if reset <= now then
  count = 0
  reset = now + window
end

local allowed = 0
if count < limit then
  allowed = 1
  if consume then
    count = count + 1
    redis.call('HSET', KEYS[1], 'count', count, 'reset_at', reset)
    redis.call('PEXPIRE', KEYS[1], reset - now)
  end
end
return {allowed, count, reset}
`)

// refundScript returns one unit to a live window. ARGV: now_ms.
var refundScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset_at') or '0')
if reset > tonumber(ARGV[1]) and count > 0 then
  redis.call('HSET', KEYS[1], 'count', count - 1)
end
return 0
`)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed           bool      `json:"allowed"`
	Remaining         int       `json:"remaining"`
	Limit             int       `json:"limit"`
	ResetAt           time.Time `json:"resetAt"`
	RetryAfterSeconds int       `json:"retryAfterSeconds"`
}

// Limiter is a per-user fixed-window quota backed by Redis.
type Limiter struct {
	rc     *redisc.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(rc *redisc.Client, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{rc: rc, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured units per window.
func (l *Limiter) Limit() int { return l.limit }

// Consume takes one unit from userID's window. A denied call does not count.
func (l *Limiter) Consume(ctx context.Context, userID string) (Decision, error) {
	return l.eval(ctx, userID, true)
}

// Peek reports the current window without consuming.
func (l *Limiter) Peek(ctx context.Context, userID string) (Decision, error) {
	return l.eval(ctx, userID, false)
}

// Refund gives back a unit taken by Consume in the current window. A window
// that already rolled over is left alone.
func (l *Limiter) Refund(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || l.limit <= 0 || l.window <= 0 {
		return nil
	}
	if err := refundScript.Run(ctx, l.rc.Raw(), []string{keyPrefix + userID}, l.now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("quota refund: %w", err)
	}
	return nil
}

func (l *Limiter) eval(ctx context.Context, userID string, consume bool) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, errors.New("quota: user id is required")
	}
	if l.limit <= 0 || l.window <= 0 {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}, nil
	}

	now := l.now()
	flag := "0"
	if consume {
		flag = "1"
	}
	vals, err := consumeScript.Run(ctx, l.rc.Raw(), []string{keyPrefix + userID},
		l.limit, l.window.Milliseconds(), now.UnixMilli(), flag).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota script: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("quota script: unexpected reply %v", vals)
	}

	allowed := vals[0] == 1
	count := int(vals[1])
	resetAt := time.UnixMilli(vals[2])

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     l.limit,
		ResetAt:   resetAt,
	}
	if !allowed {
		wait := resetAt.Sub(now)
		d.RetryAfterSeconds = int((wait + time.Second - 1) / time.Second)
		if d.RetryAfterSeconds < 1 {
			d.RetryAfterSeconds = 1
		}
	}
	return d, nil
}
