package ratelimit

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// Local keeps buckets in process memory. The cache is bounded: under
// pressure the least recently used bucket is evicted, which forgives that
// identity. Idle buckets expire after EntryTTL.
type Local struct {
	cfg   Config
	cache *ttlcache.Cache[string, *rate.Limiter]
	now   func() time.Time
}

var _ Limiter = (*Local)(nil)

type LocalOption func(*Local)

func WithClock(now func() time.Time) LocalOption { return func(l *Local) { l.now = now } }

func NewLocal(cfg Config, opts ...LocalOption) *Local {
	cfg = cfg.withDefaults()
	l := &Local{
		cfg: cfg,
		cache: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](cfg.EntryTTL),
			ttlcache.WithCapacity[string, *rate.Limiter](cfg.MaxEntries),
		),
		now: time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start runs expired-entry cleanup until Stop.
func (l *Local) Start() { go l.cache.Start() }

func (l *Local) Stop() { l.cache.Stop() }

func (l *Local) TryConsume(_ context.Context, p Purpose, identity string) bool {
	pol := l.cfg.Policy(p)
	fresh := rate.NewLimiter(rate.Limit(pol.perSecond()), pol.Capacity)
	item, _ := l.cache.GetOrSet(bucketKey(p, identity), fresh)
	return observe(p, item.Value().AllowN(l.now(), 1))
}

func (l *Local) Len() int { return l.cache.Len() }
