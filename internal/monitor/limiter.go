package monitor

import (
	"context"
	"errors"
	"time"

	"telecom-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const DefaultSlotTTL = 2 * time.Hour

// TrunkLimiter caps concurrent channels per trunk across every engine process
// sharing one Redis. It satisfies campaigns.Limiter.
type TrunkLimiter struct {
	rdb         *redis.Client
	maxChannels int
	ttl         time.Duration
	prefix      string
}

// NewTrunkLimiter returns a limiter allowing maxChannels per trunk. Slots
// expire after ttl so a crashed process cannot pin a trunk forever.
func NewTrunkLimiter(rdb *redis.Client, maxChannels int, ttl time.Duration) (*TrunkLimiter, error) {
	if rdb == nil {
		return nil, errors.New("monitor: redis client is nil")
	}
	if maxChannels <= 0 {
		return nil, errors.New("monitor: max channels must be > 0")
	}
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &TrunkLimiter{rdb: rdb, maxChannels: maxChannels, ttl: ttl, prefix: "dialer:trunk:"}, nil
}

func (l *TrunkLimiter) key(trunk string) string {
	return l.prefix + trunk + ":channels"
}

func (l *TrunkLimiter) Acquire(ctx context.Context, trunk string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key(trunk), l.maxChannels, l.ttl)
}

func (l *TrunkLimiter) Release(ctx context.Context, trunk string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key(trunk))
}

// InUse reports how many slots trunk currently holds.
func (l *TrunkLimiter) InUse(ctx context.Context, trunk string) (int, error) {
	n, err := l.rdb.Get(ctx, l.key(trunk)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
