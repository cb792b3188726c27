package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucket refills continuously and consumes one token atomically.
// KEYS[1] bucket; ARGV capacity, tokens per ms, now ms, key ttl ms.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * per_ms)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], ttl)
return allowed
`)

// Redis shares buckets between replicas. The bucket clock is the caller's,
// so replicas need roughly synchronized clocks.
type Redis struct {
	cfg    Config
	client redis.Scripter
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

var _ Limiter = (*Redis)(nil)

func NewRedis(client redis.Scripter, cfg Config, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		cfg:    cfg.withDefaults(),
		client: client,
		prefix: "gatekeeper:rl:",
		log:    log.With(zap.String("component", "ratelimit")),
		now:    time.Now,
	}
}

// TryConsume fails open: if Redis is unreachable the request is allowed and
// a warning is logged.
func (r *Redis) TryConsume(ctx context.Context, p Purpose, identity string) bool {
	pol := r.cfg.Policy(p)
	ttl := pol.fullRefill()
	if ttl < time.Second {
		ttl = time.Second
	}
	perMs := pol.perSecond() / 1000

	res, err := tokenBucket.Run(ctx, r.client,
		[]string{r.prefix + bucketKey(p, identity)},
		pol.Capacity,
		strconv.FormatFloat(perMs, 'g', -1, 64),
		r.now().UnixMilli(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		storeErrors.Inc()
		r.log.Warn("rate limit store unavailable, allowing request",
			zap.String("purpose", string(p)), zap.Error(err))
		return observe(p, true)
	}
	return observe(p, res == 1)
}
