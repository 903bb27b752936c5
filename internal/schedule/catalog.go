package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/carebook/pkg/logging"
)

// Source fetches schedules from the authoritative marketplace.
type Source interface {
	ListSchedules(ctx context.Context, accessToken, providerID string) ([]Schedule, error)
	GetSchedule(ctx context.Context, accessToken, scheduleID string) (*Schedule, error)
}

// Cache stores schedule templates between requests. Implementations must treat
// misses as (nil, false, nil).
type Cache interface {
	GetProvider(ctx context.Context, providerID string) ([]Schedule, bool, error)
	SetProvider(ctx context.Context, providerID string, schedules []Schedule, ttl time.Duration) error
	GetSchedule(ctx context.Context, scheduleID string) (*Schedule, bool, error)
	SetSchedule(ctx context.Context, s Schedule, ttl time.Duration) error
}

// Catalog is a read-only, TTL-cached view of provider schedules.
type Catalog struct {
	source Source
	cache  Cache
	ttl    time.Duration
	logger *logging.Logger
}

func NewCatalog(source Source, cache Cache, ttl time.Duration, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.Default()
	}
	if cache == nil {
		cache = NewMemoryCache(nil)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{source: source, cache: cache, ttl: ttl, logger: logger}
}

// ForProvider returns the provider's active schedules ordered as the source returned them.
func (c *Catalog) ForProvider(ctx context.Context, accessToken, providerID string) ([]Schedule, error) {
	if cached, ok, err := c.cache.GetProvider(ctx, providerID); err != nil {
		c.logger.Warn("schedule cache read failed", "provider_id", providerID, "error", err)
	} else if ok {
		return activeOnly(cached), nil
	}

	list, err := c.source.ListSchedules(ctx, accessToken, providerID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetProvider(ctx, providerID, list, c.ttl); err != nil {
		c.logger.Warn("schedule cache write failed", "provider_id", providerID, "error", err)
	}
	for _, s := range list {
		if err := c.cache.SetSchedule(ctx, s, c.ttl); err != nil {
			c.logger.Warn("schedule cache write failed", "schedule_id", s.ID, "error", err)
		}
	}
	return activeOnly(list), nil
}

// Get returns one schedule template.
func (c *Catalog) Get(ctx context.Context, accessToken, scheduleID string) (*Schedule, error) {
	if cached, ok, err := c.cache.GetSchedule(ctx, scheduleID); err != nil {
		c.logger.Warn("schedule cache read failed", "schedule_id", scheduleID, "error", err)
	} else if ok {
		return cached, nil
	}

	s, err := c.source.GetSchedule(ctx, accessToken, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetSchedule(ctx, *s, c.ttl); err != nil {
		c.logger.Warn("schedule cache write failed", "schedule_id", scheduleID, "error", err)
	}
	return s, nil
}

func activeOnly(list []Schedule) []Schedule {
	out := make([]Schedule, 0, len(list))
	for _, s := range list {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

type memoryEntry struct {
	schedules []Schedule
	expires   time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu        sync.RWMutex
	providers map[string]memoryEntry
	schedules map[string]memoryEntry
	now       func() time.Time
}

func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		providers: make(map[string]memoryEntry),
		schedules: make(map[string]memoryEntry),
		now:       now,
	}
}

func (m *MemoryCache) GetProvider(_ context.Context, providerID string) ([]Schedule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.providers[providerID]
	if !ok || m.now().After(e.expires) {
		return nil, false, nil
	}
	return append([]Schedule(nil), e.schedules...), true, nil
}

func (m *MemoryCache) SetProvider(_ context.Context, providerID string, schedules []Schedule, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[providerID] = memoryEntry{schedules: append([]Schedule(nil), schedules...), expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryCache) GetSchedule(_ context.Context, scheduleID string) (*Schedule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.schedules[scheduleID]
	if !ok || len(e.schedules) == 0 || m.now().After(e.expires) {
		return nil, false, nil
	}
	s := e.schedules[0]
	return &s, true, nil
}

func (m *MemoryCache) SetSchedule(_ context.Context, s Schedule, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = memoryEntry{schedules: []Schedule{s}, expires: m.now().Add(ttl)}
	return nil
}

// RedisCache shares schedule templates across BFF replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "carebook:schedules"}
}

func (r *RedisCache) providerKey(id string) string { return r.prefix + ":provider:" + id }
func (r *RedisCache) scheduleKey(id string) string { return r.prefix + ":schedule:" + id }

func (r *RedisCache) GetProvider(ctx context.Context, providerID string) ([]Schedule, bool, error) {
	var out []Schedule
	ok, err := r.getJSON(ctx, r.providerKey(providerID), &out)
	if err != nil || !ok {
		return nil, false, err
	}
	return out, true, nil
}

func (r *RedisCache) SetProvider(ctx context.Context, providerID string, schedules []Schedule, ttl time.Duration) error {
	return r.setJSON(ctx, r.providerKey(providerID), schedules, ttl)
}

func (r *RedisCache) GetSchedule(ctx context.Context, scheduleID string) (*Schedule, bool, error) {
	var out Schedule
	ok, err := r.getJSON(ctx, r.scheduleKey(scheduleID), &out)
	if err != nil || !ok {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *RedisCache) SetSchedule(ctx context.Context, s Schedule, ttl time.Duration) error {
	return r.setJSON(ctx, r.scheduleKey(s.ID), s, ttl)
}

func (r *RedisCache) getJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("schedule: redis get: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("schedule: decode cached value: %w", err)
	}
	return true, nil
}

func (r *RedisCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("schedule: encode cached value: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("schedule: redis set: %w", err)
	}
	return nil
}
