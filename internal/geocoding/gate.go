package geocoding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultMinInterval is the spacing Nominatim asks clients to keep between requests.
const DefaultMinInterval = time.Second

// Gate spaces outbound geocoder requests.
type Gate interface {
	Wait(ctx context.Context) error
}

// IntervalGate lets one request through per interval within the process.
// The slot is taken when Wait returns, before the request is sent.
type IntervalGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewIntervalGate constructs a gate with the given spacing.
func NewIntervalGate(interval time.Duration) *IntervalGate {
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &IntervalGate{interval: interval, now: time.Now, sleep: sleepContext}
}

var (
	sharedGateOnce sync.Once
	sharedGate     *IntervalGate
)

// SharedGate returns the process-wide gate.
func SharedGate() *IntervalGate {
	sharedGateOnce.Do(func() {
		sharedGate = NewIntervalGate(DefaultMinInterval)
	})
	return sharedGate
}

// Wait blocks until the interval since the previous request has passed.
func (g *IntervalGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() {
		if remaining := g.interval - g.now().Sub(g.last); remaining > 0 {
			if err := g.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	g.last = g.now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const defaultRedisGateKey = "prospectflow:geocoding:gate"

// redisCommander is the subset of *redis.Client the gate uses.
type redisCommander interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisGate shares the request spacing across processes through a SET NX PX key.
type RedisGate struct {
	client   redisCommander
	key      string
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// RedisGateConfig describes a RedisGate.
type RedisGateConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	Interval time.Duration
}

// NewRedisGate connects a gate to the configured Redis server.
func NewRedisGate(cfg RedisGateConfig) (*RedisGate, *redis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, nil, errors.New("geocoding: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisGate(client, cfg.Key, cfg.Interval), client, nil
}

func newRedisGate(client redisCommander, key string, interval time.Duration) *RedisGate {
	if strings.TrimSpace(key) == "" {
		key = defaultRedisGateKey
	}
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &RedisGate{client: client, key: key, interval: interval, sleep: sleepContext}
}

// Wait claims the shared slot, sleeping for the key's remaining lifetime while another
// process holds it.
func (g *RedisGate) Wait(ctx context.Context) error {
	for {
		acquired, err := g.client.SetNX(ctx, g.key, time.Now().UTC().Format(time.RFC3339Nano), g.interval).Result()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		remaining, err := g.client.PTTL(ctx, g.key).Result()
		if err != nil {
			return err
		}
		if remaining <= 0 {
			remaining = 10 * time.Millisecond
		}
		if err := g.sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
