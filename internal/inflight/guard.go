// Package inflight rejects a second submission of the same action while the
// first is still outstanding.
package inflight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/carebook/pkg/logging"
)

// ErrBusy is returned when the key is already held.
var ErrBusy = errors.New("inflight: operation already in progress")

// Guard hands out exclusive holds on a key. Acquire returns the func that
// releases the hold; it is safe to call more than once.
type Guard interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Key joins the parts of an action identity, e.g. Key("p-1", "bk-9", "cancel").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// MemoryGuard holds keys in process memory.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, ErrBusy
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently acquired.
func (g *MemoryGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

const redisGuardPrefix = "carebook:inflight"

// releaseScript deletes the key only while it still carries our owner token,
// so an expired hold never releases a newer holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares holds across API replicas. The TTL bounds how long a
// crashed holder can block the key.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisGuard {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &RedisGuard{client: client, ttl: ttl, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := redisGuardPrefix + ":" + key
	owner := uuid.NewString()
	ok, err := g.client.SetNX(ctx, redisKey, owner, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, g.client, []string{redisKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
				g.logger.Warn("inflight release failed", "key", key, "error", err)
			}
		})
	}, nil
}

var (
	_ Guard = (*MemoryGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
