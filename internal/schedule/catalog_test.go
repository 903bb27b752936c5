package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	schedules map[string][]Schedule
	listCalls int
	getCalls  int
	err       error
}

func (f *fakeSource) ListSchedules(_ context.Context, _ string, providerID string) ([]Schedule, error) {
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.schedules[providerID], nil
}

func (f *fakeSource) GetSchedule(_ context.Context, _ string, scheduleID string) (*Schedule, error) {
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	for _, list := range f.schedules {
		for _, s := range list {
			if s.ID == scheduleID {
				cp := s
				return &cp, nil
			}
		}
	}
	return nil, errors.New("not found")
}

func sampleSchedules() []Schedule {
	return []Schedule{
		{ID: "sch-mon", ProviderID: "dr-1", DayOfWeek: time.Monday, StartTime: MustClock("09:00"), EndTime: MustClock("10:00"), PerPatientMinutes: 15, Status: StatusActive},
		{ID: "sch-tue", ProviderID: "dr-1", DayOfWeek: time.Tuesday, StartTime: MustClock("13:00"), EndTime: MustClock("15:00"), PerPatientMinutes: 30, Status: StatusInactive},
	}
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCatalogForProviderFiltersInactiveAndCaches(t *testing.T) {
	src := &fakeSource{schedules: map[string][]Schedule{"dr-1": sampleSchedules()}}
	catalog := NewCatalog(src, NewMemoryCache(nil), time.Minute, nil)

	got, err := catalog.ForProvider(context.Background(), "tok", "dr-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sch-mon", got[0].ID)

	_, err = catalog.ForProvider(context.Background(), "tok", "dr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.listCalls)

	s, err := catalog.Get(context.Background(), "tok", "sch-tue")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, s.Status)
	assert.Equal(t, 0, src.getCalls, "listing warms the per-schedule cache")
}

func TestCatalogExpiresEntries(t *testing.T) {
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	src := &fakeSource{schedules: map[string][]Schedule{"dr-1": sampleSchedules()}}
	catalog := NewCatalog(src, NewMemoryCache(clock), time.Minute, nil)

	_, err := catalog.ForProvider(context.Background(), "tok", "dr-1")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = catalog.ForProvider(context.Background(), "tok", "dr-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.listCalls)
}

func TestCatalogPropagatesSourceErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("backend down")}
	catalog := NewCatalog(src, nil, 0, nil)

	_, err := catalog.Get(context.Background(), "tok", "sch-mon")
	assert.EqualError(t, err, "backend down")
}

func TestRedisCacheRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()

	_, ok, err := cache.GetSchedule(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	list := sampleSchedules()
	require.NoError(t, cache.SetProvider(ctx, "dr-1", list, time.Minute))
	require.NoError(t, cache.SetSchedule(ctx, list[0], time.Minute))

	got, ok, err := cache.GetProvider(ctx, "dr-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, list, got)

	one, ok, err := cache.GetSchedule(ctx, "sch-mon")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MustClock("09:00"), one.StartTime)
	assert.Equal(t, time.Monday, one.DayOfWeek)
}

func TestCatalogWithRedisCache(t *testing.T) {
	client := setupTestRedis(t)
	src := &fakeSource{schedules: map[string][]Schedule{"dr-1": sampleSchedules()}}
	catalog := NewCatalog(src, NewRedisCache(client), time.Minute, nil)

	_, err := catalog.ForProvider(context.Background(), "tok", "dr-1")
	require.NoError(t, err)

	other := NewCatalog(src, NewRedisCache(client), time.Minute, nil)
	got, err := other.ForProvider(context.Background(), "tok", "dr-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, src.listCalls, "second replica served from redis")
}
