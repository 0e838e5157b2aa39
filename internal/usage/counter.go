// Package usage tracks how many evaluations each tenant has been admitted
// for on the current UTC day.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
)

const dayLayout = "2006-01-02"

// Counter is a per-tenant, per-UTC-day admission counter. Counts start at
// zero for a day that has not been observed and are never decremented.
type Counter interface {
	Current(ctx context.Context, tenantID string, day time.Time) (int64, error)
	Increment(ctx context.Context, tenantID string, day time.Time) (int64, error)
}

// DayStart returns UTC midnight of the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats t's UTC day as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// Memory is a process-local Counter.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int64)}
}

func (m *Memory) Current(_ context.Context, tenantID string, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[tenantID+"|"+DayKey(day)], nil
}

func (m *Memory) Increment(_ context.Context, tenantID string, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + DayKey(day)
	m.counts[key]++
	return m.counts[key], nil
}

// StoreCounter derives usage from the record store. Appending the record is
// the increment, so Increment only re-reads the count.
type StoreCounter struct {
	records store.RecordStore
}

func NewStoreCounter(records store.RecordStore) *StoreCounter {
	return &StoreCounter{records: records}
}

func (c *StoreCounter) Current(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	start := DayStart(day)
	return c.records.CountEvaluationsBetween(ctx, tenantID, start, start.AddDate(0, 0, 1))
}

func (c *StoreCounter) Increment(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	return c.Current(ctx, tenantID, day)
}
