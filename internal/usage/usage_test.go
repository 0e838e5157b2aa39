package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
)

func newRedisCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounter(client), mr
}

func TestDayStart(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	// 2026-03-10 02:00 in UTC+9 is 2026-03-09 17:00 UTC.
	in := time.Date(2026, 3, 10, 2, 0, 0, 0, loc)

	got := DayStart(in)
	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DayStart() = %v, want %v", got, want)
	}
	if DayKey(in) != "2026-03-09" {
		t.Errorf("DayKey() = %q", DayKey(in))
	}
}

func TestCounters(t *testing.T) {
	redisCounter, _ := newRedisCounter(t)
	counters := map[string]Counter{
		"memory": NewMemory(),
		"redis":  redisCounter,
	}

	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	nextDay := day.Add(24 * time.Hour)

	for name, c := range counters {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := c.Current(ctx, "t1", day)
			if err != nil || n != 0 {
				t.Fatalf("Current() on unseen day = %d, %v", n, err)
			}

			for i := int64(1); i <= 3; i++ {
				n, err := c.Increment(ctx, "t1", day)
				if err != nil {
					t.Fatalf("Increment() error = %v", err)
				}
				if n != i {
					t.Errorf("Increment() = %d, want %d", n, i)
				}
			}

			if n, _ := c.Current(ctx, "t1", day.Add(11*time.Hour)); n != 3 {
				t.Errorf("Current() later same day = %d, want 3", n)
			}
			if n, _ := c.Current(ctx, "t1", nextDay); n != 0 {
				t.Errorf("Current() next day = %d, want 0", n)
			}
			if n, _ := c.Current(ctx, "t2", day); n != 0 {
				t.Errorf("Current() other tenant = %d, want 0", n)
			}
		})
	}
}

func TestCounters_ConcurrentIncrement(t *testing.T) {
	redisCounter, _ := newRedisCounter(t)
	counters := map[string]Counter{
		"memory": NewMemory(),
		"redis":  redisCounter,
	}
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for name, c := range counters {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.Increment(context.Background(), "t1", day); err != nil {
						t.Errorf("Increment() error = %v", err)
					}
				}()
			}
			wg.Wait()

			if n, _ := c.Current(context.Background(), "t1", day); n != 50 {
				t.Errorf("Current() = %d, want 50", n)
			}
		})
	}
}

func TestRedisCounter_SetsExpiry(t *testing.T) {
	c, mr := newRedisCounter(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, err := c.Increment(context.Background(), "t1", day); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}

	if ttl := mr.TTL("usage:tenant:t1:2026-03-10"); ttl != keyTTL {
		t.Errorf("TTL = %v, want %v", ttl, keyTTL)
	}

	mr.FastForward(keyTTL + time.Second)
	if n, _ := c.Current(context.Background(), "t1", day); n != 0 {
		t.Errorf("Current() after expiry = %d, want 0", n)
	}
}

func TestRedisCounter_ExpiryNotReset(t *testing.T) {
	c, mr := newRedisCounter(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	k := "usage:tenant:t1:2026-03-10"

	// A key left without a TTL gets one on the next increment.
	mr.Set(k, "4")
	n, err := c.Increment(ctx, "t1", day)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Increment() = %d, want 5", n)
	}
	if ttl := mr.TTL(k); ttl != keyTTL {
		t.Fatalf("TTL = %v, want %v", ttl, keyTTL)
	}

	mr.FastForward(time.Hour)
	if _, err := c.Increment(ctx, "t1", day); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if ttl := mr.TTL(k); ttl != keyTTL-time.Hour {
		t.Errorf("TTL after second increment = %v, want %v", ttl, keyTTL-time.Hour)
	}
}

func TestRedisCounter_IncrementFailureLeavesCount(t *testing.T) {
	c, mr := newRedisCounter(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mr.SetError("LOADING server is loading")
	if _, err := c.Increment(context.Background(), "t1", day); err == nil {
		t.Fatal("Increment() error = nil with redis failing")
	}
	mr.SetError("")

	if n, _ := c.Current(context.Background(), "t1", day); n != 0 {
		t.Errorf("Current() = %d after failed increment, want 0", n)
	}
}

func TestRedisCounter_Unavailable(t *testing.T) {
	c, mr := newRedisCounter(t)
	mr.Close()

	if _, err := c.Current(context.Background(), "t1", time.Now()); err == nil {
		t.Error("Current() error = nil with redis down")
	}
}

func TestStoreCounter(t *testing.T) {
	records := store.NewMemory()
	c := NewStoreCounter(records)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{day.Add(-16 * time.Hour), day.Add(-time.Hour), day} {
		records.AppendEvaluation(ctx, &models.PersistedEvaluation{
			ID:            string(rune('a' + i)),
			TenantID:      "t1",
			InteractionID: "i",
			CreatedAt:     ts,
		})
	}

	n, err := c.Current(ctx, "t1", day)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Current() = %d, want 2", n)
	}
	if n, _ := c.Increment(ctx, "t1", day); n != 2 {
		t.Errorf("Increment() = %d, want 2", n)
	}
}

func TestStoreCounter_PastDayMatchesMemory(t *testing.T) {
	records := store.NewMemory()
	storeCounter := NewStoreCounter(records)
	memCounter := NewMemory()
	ctx := context.Background()

	today := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	// Two records today, one yesterday, recorded in both counters.
	for i, ts := range []time.Time{yesterday, today, today.Add(time.Hour)} {
		records.AppendEvaluation(ctx, &models.PersistedEvaluation{
			ID:            string(rune('a' + i)),
			TenantID:      "t1",
			InteractionID: "i",
			CreatedAt:     ts,
		})
		memCounter.Increment(ctx, "t1", ts)
	}

	for _, day := range []time.Time{yesterday, today, today.AddDate(0, 0, -2)} {
		got, err := storeCounter.Current(ctx, "t1", day)
		if err != nil {
			t.Fatalf("Current(%s) error = %v", DayKey(day), err)
		}
		want, _ := memCounter.Current(ctx, "t1", day)
		if got != want {
			t.Errorf("Current(%s): store = %d, memory = %d", DayKey(day), got, want)
		}
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	client.Close()

	if _, err := NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Error("NewRedisClient() error = nil for malformed url")
	}

	mr.Close()
	if _, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()); err == nil {
		t.Error("NewRedisClient() error = nil with redis down")
	}
}
